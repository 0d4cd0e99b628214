package controlpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/cpstate"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/gena"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

// shutdownTimeout bounds the listener shutdown in Stop.
const shutdownTimeout = 5 * time.Second

// ControlPoint owns the state shared by all device connections and the
// event callback listener. Discovery reports devices through
// DeviceAvailable, DeviceUnavailable and DeviceRebooted.
type ControlPoint struct {
	cfg      Config
	state    *cpstate.State
	listener *gena.Listener

	mu      sync.Mutex
	started bool
	conns   map[string]*DeviceConnection
}

// New creates a control point.
func New(cfg Config) *ControlPoint {
	cfg = cfg.withDefaults()
	state := cpstate.New()

	lc := gena.DefaultListenerConfig()
	if cfg.ListenAddressV4 != "" {
		lc.AddressV4 = cfg.ListenAddressV4
	}
	lc.AddressV6 = cfg.ListenAddressV6
	lc.State = state
	lc.Logger = cfg.Logger
	listener := gena.NewListener(lc)
	cfg.Listener = listener

	return &ControlPoint{
		cfg:      cfg,
		state:    state,
		listener: listener,
		conns:    make(map[string]*DeviceConnection),
	}
}

// State returns the shared control point state.
func (cp *ControlPoint) State() *cpstate.State {
	return cp.state
}

// Start registers the local endpoints and starts the event callback
// listener.
func (cp *ControlPoint) Start(ctx context.Context) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.started {
		return nil
	}

	endpoints, err := cpstate.LocalEndpoints(cp.cfg.EnableIPv6, false)
	if err != nil {
		cp.debugLog("cannot enumerate local endpoints", "error", err)
	}
	for _, ep := range endpoints {
		cp.state.AddEndpoint(ep)
	}

	if err := cp.listener.Start(ctx); err != nil {
		return fmt.Errorf("start event listener: %w", err)
	}
	cp.started = true
	v4, v6 := cp.listener.Ports()
	cp.debugLog("control point started", "endpoints", len(endpoints), "port_v4", v4, "port_v6", v6)
	return nil
}

// Stop disconnects all devices and stops the listener.
func (cp *ControlPoint) Stop() {
	cp.mu.Lock()
	if !cp.started {
		cp.mu.Unlock()
		return
	}
	cp.started = false
	conns := make([]*DeviceConnection, 0, len(cp.conns))
	for _, c := range cp.conns {
		conns = append(conns, c)
	}
	clear(cp.conns)
	cp.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Go(func() { c.disconnect(true) })
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := cp.listener.Shutdown(ctx); err != nil {
		cp.debugLog("event listener shutdown", "error", err)
	}
}

// Connect connects to a device of rd. Connecting a device twice is an
// illegal call.
func (cp *ControlPoint) Connect(rd *description.RootDescriptor, deviceUUID string) (*DeviceConnection, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.started {
		return nil, ErrNotStarted
	}
	if _, ok := cp.conns[deviceUUID]; ok {
		return nil, proxy.IllegalCall("device %s is already connected", deviceUUID)
	}
	return cp.connectLocked(rd, deviceUUID)
}

// connectLocked builds the connection and registers rd only once the
// connection exists.
func (cp *ControlPoint) connectLocked(rd *description.RootDescriptor, deviceUUID string) (*DeviceConnection, error) {
	c, err := NewDeviceConnection(cp.state, rd, deviceUUID, cp.cfg)
	if err != nil {
		return nil, err
	}
	cp.state.SetRootDescriptor(rd)
	c.cp = cp
	cp.conns[deviceUUID] = c
	return c, nil
}

// DeviceAvailable records a device reported by discovery and connects to
// it. An existing connection is returned unchanged.
func (cp *ControlPoint) DeviceAvailable(rd *description.RootDescriptor, deviceUUID string) (*DeviceConnection, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.started {
		return nil, ErrNotStarted
	}
	if c, ok := cp.conns[deviceUUID]; ok {
		return c, nil
	}
	return cp.connectLocked(rd, deviceUUID)
}

// DeviceUnavailable disconnects every connection to the root device with
// the given UUID, or to the device itself if it is embedded. The device is
// assumed gone, so no UNSUBSCRIBE is sent.
func (cp *ControlPoint) DeviceUnavailable(deviceUUID string) {
	conns := cp.take(deviceUUID)
	cp.state.RemoveRootDescriptor(deviceUUID)
	for _, c := range conns {
		c.disconnect(false)
	}
}

// DeviceRebooted renews the subscriptions of every connection to the root
// device with the given UUID.
func (cp *ControlPoint) DeviceRebooted(ctx context.Context, deviceUUID string) error {
	var errs []error
	for _, c := range cp.connectionsOf(deviceUUID) {
		if err := c.HandleDeviceRebooted(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.deviceUUID, err))
		}
	}
	return errors.Join(errs...)
}

// Disconnect disconnects the device with the given UUID. It is a no-op if
// the device is not connected.
func (cp *ControlPoint) Disconnect(deviceUUID string) {
	cp.mu.Lock()
	c, ok := cp.conns[deviceUUID]
	delete(cp.conns, deviceUUID)
	cp.mu.Unlock()
	if ok {
		c.disconnect(true)
	}
}

// release removes c from the registry unless another connection has
// replaced it.
func (cp *ControlPoint) release(c *DeviceConnection) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.conns[c.deviceUUID] == c {
		delete(cp.conns, c.deviceUUID)
	}
}

// Connection returns the connection to a device.
func (cp *ControlPoint) Connection(deviceUUID string) (*DeviceConnection, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c, ok := cp.conns[deviceUUID]
	return c, ok
}

// Connections returns all connections ordered by device UUID.
func (cp *ControlPoint) Connections() []*DeviceConnection {
	cp.mu.Lock()
	conns := make([]*DeviceConnection, 0, len(cp.conns))
	for _, c := range cp.conns {
		conns = append(conns, c)
	}
	cp.mu.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].deviceUUID < conns[j].deviceUUID })
	return conns
}

// take removes and returns the connections belonging to deviceUUID.
func (cp *ControlPoint) take(deviceUUID string) []*DeviceConnection {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	var taken []*DeviceConnection
	for id, c := range cp.conns {
		if id == deviceUUID || c.rd.RootDeviceUUID == deviceUUID {
			taken = append(taken, c)
			delete(cp.conns, id)
		}
	}
	return taken
}

func (cp *ControlPoint) connectionsOf(deviceUUID string) []*DeviceConnection {
	var conns []*DeviceConnection
	for _, c := range cp.Connections() {
		if c.deviceUUID == deviceUUID || c.rd.RootDeviceUUID == deviceUUID {
			conns = append(conns, c)
		}
	}
	return conns
}

func (cp *ControlPoint) debugLog(msg string, args ...any) {
	if cp.cfg.Logger != nil {
		cp.cfg.Logger.Debug(msg, args...)
	}
}
