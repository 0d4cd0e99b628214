package controlpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnpkit/upnpkit-go/pkg/cpstate"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/gena"
	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/metrics"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

// Connection states as recorded in protocol logs.
const (
	stateConnected    = "CONNECTED"
	stateRebooted     = "REBOOTED"
	stateDisconnected = "DISCONNECTED"
)

// ConnectionFunc is called with a connection that was disconnected or whose
// device rebooted.
type ConnectionFunc func(c *DeviceConnection)

// DeviceConnection is the live connection to one UPnP device. It performs
// the action calls and event subscriptions of the device's proxy tree.
type DeviceConnection struct {
	id         string
	state      *cpstate.State
	rd         *description.RootDescriptor
	deviceUUID string
	device     *proxy.Device
	cfg        Config

	invoker *invoker
	events  *gena.Manager

	// cp routes Disconnect through the owning control point, if any.
	cp *ControlPoint

	mu             sync.Mutex
	disconnected   bool
	onDisconnected []ConnectionFunc
	onRebooted     []ConnectionFunc
}

// NewDeviceConnection connects to the device with the given UUID, which may
// be the root device of rd or an embedded device. The proxy tree is built
// and the event subscription manager is started before it returns.
func NewDeviceConnection(state *cpstate.State, rd *description.RootDescriptor, deviceUUID string, cfg Config) (*DeviceConnection, error) {
	cfg = cfg.withDefaults()

	state.RLock()
	if rd.State == description.StateErroneous {
		state.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrErroneousDescriptor, rd.RootDeviceUUID)
	}
	device, err := proxy.BuildDevice(rd, deviceUUID)
	localAddr := rd.PreferredLink.LocalAddress
	state.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", deviceUUID, err)
	}

	c := &DeviceConnection{
		id:         uuid.NewString(),
		state:      state,
		rd:         rd,
		deviceUUID: deviceUUID,
		device:     device,
		cfg:        cfg,
	}
	c.invoker = newInvoker(cfg, c.id, deviceUUID)

	ec := cfg.eventConfig()
	ec.State = state
	ec.LocalAddress = localAddr
	ec.ConnectionID = c.id
	ec.DeviceUUID = deviceUUID
	c.events = gena.NewManager(ec)
	c.events.Start()

	device.Connect(c)
	metrics.ConnectionOpened()
	c.logState("", stateConnected, "")
	c.debugLog("device connected", "friendly_name", device.FriendlyName)
	return c, nil
}

// ID returns the connection identifier used in protocol logs.
func (c *DeviceConnection) ID() string {
	return c.id
}

// Device returns the proxy tree of the connected device.
func (c *DeviceConnection) Device() *proxy.Device {
	return c.device
}

// DeviceUUID returns the UUID of the connected device.
func (c *DeviceConnection) DeviceUUID() string {
	return c.deviceUUID
}

// RootDescriptor returns the descriptor the connection was built from.
func (c *DeviceConnection) RootDescriptor() *description.RootDescriptor {
	return c.rd
}

// IsConnected reports whether Disconnect was not called yet.
func (c *DeviceConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// PendingCalls returns the number of unresolved action calls.
func (c *DeviceConnection) PendingCalls() int {
	return c.invoker.pendingCalls()
}

// Subscriptions returns the event subscriptions of the connection.
func (c *DeviceConnection) Subscriptions() []gena.Subscription {
	return c.events.Subscriptions()
}

// OnDisconnected registers a function called once the connection is
// disconnected.
func (c *DeviceConnection) OnDisconnected(fn ConnectionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = append(c.onDisconnected, fn)
}

// OnRebooted registers a function called after the device rebooted and
// its subscriptions were renewed.
func (c *DeviceConnection) OnRebooted(fn ConnectionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRebooted = append(c.onRebooted, fn)
}

// InvokeAction calls an action of the connected device. The action must
// belong to this connection's proxy tree. The returned channel delivers
// exactly one result.
func (c *DeviceConnection) InvokeAction(ctx context.Context, action *proxy.Action, in []any, clientState any) (<-chan proxy.CallResult, error) {
	svc := action.Service()
	if !c.owns(svc) {
		return nil, proxy.IllegalCall("action %s is not connected to a UPnP network action", action.FullQualifiedName())
	}
	sd, err := c.serviceDescriptor(svc)
	if err != nil {
		return nil, err
	}
	return c.invoker.invoke(ctx, action, sd.ControlURL, in, clientState)
}

// SubscribeEvents subscribes a service of the connected device for events.
// Subscribing an already subscribed service is an illegal call.
func (c *DeviceConnection) SubscribeEvents(ctx context.Context, svc *proxy.Service) error {
	if !c.owns(svc) {
		return proxy.IllegalCall("service %s is not connected to a UPnP network service", svc.ServiceID)
	}
	sd, err := c.serviceDescriptor(svc)
	if err != nil {
		return err
	}
	return c.events.Subscribe(ctx, svc, sd)
}

// UnsubscribeEvents cancels the event subscription of a service.
// Unsubscribing a service that is not subscribed is an illegal call.
func (c *DeviceConnection) UnsubscribeEvents(ctx context.Context, svc *proxy.Service) error {
	if !c.owns(svc) {
		return proxy.IllegalCall("service %s is not connected to a UPnP network service", svc.ServiceID)
	}
	return c.events.Unsubscribe(ctx, svc)
}

// IsServiceSubscribedForEvents reports whether a service has an active
// event subscription.
func (c *DeviceConnection) IsServiceSubscribedForEvents(svc *proxy.Service) bool {
	return c.events.IsSubscribed(svc)
}

// HandleDeviceRebooted subscribes every previously subscribed service again
// and notifies the OnRebooted observers. The proxy tree is kept.
func (c *DeviceConnection) HandleDeviceRebooted(ctx context.Context) error {
	if !c.IsConnected() {
		return proxy.IllegalCall("device %s is not connected", c.deviceUUID)
	}
	c.debugLog("device rebooted, renewing subscriptions")
	err := c.events.ResubscribeAll(ctx)
	if err != nil {
		c.logError("resubscribe", err)
	}
	c.logState(stateConnected, stateRebooted, errString(err))

	c.mu.Lock()
	observers := append([]ConnectionFunc(nil), c.onRebooted...)
	c.mu.Unlock()
	for _, fn := range observers {
		c.safeCall("device rebooted handler", func() { fn(c) })
	}
	return err
}

// Disconnect aborts pending action calls, detaches the proxy tree and
// unsubscribes all services. Once it returns, every pending call has
// delivered its result. Disconnecting twice is a no-op.
func (c *DeviceConnection) Disconnect() {
	if c.cp != nil {
		c.cp.release(c)
	}
	c.disconnect(true)
}

// disconnect tears the connection down. With unsubscribe unset the device
// is assumed gone and no UNSUBSCRIBE is sent.
func (c *DeviceConnection) disconnect(unsubscribe bool) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	observers := append([]ConnectionFunc(nil), c.onDisconnected...)
	c.mu.Unlock()

	start := time.Now()
	c.invoker.close()
	c.device.Disconnect()
	c.events.Close(unsubscribe)

	metrics.ConnectionClosed()
	reason := "disconnected"
	if !unsubscribe {
		reason = "device unavailable"
	}
	c.logState(stateConnected, stateDisconnected, reason)
	c.debugLog("device disconnected", "reason", reason, "duration", time.Since(start))

	for _, fn := range observers {
		c.safeCall("device disconnected handler", func() { fn(c) })
	}
}

// owns reports whether svc belongs to this connection's proxy tree and the
// tree is still attached.
func (c *DeviceConnection) owns(svc *proxy.Service) bool {
	if svc == nil {
		return false
	}
	conn, ok := svc.Device().Connection().(*DeviceConnection)
	return ok && conn == c && c.IsConnected()
}

// serviceDescriptor looks up the descriptor of a service under the shared
// lock; discovery may update the root descriptor concurrently.
func (c *DeviceConnection) serviceDescriptor(svc *proxy.Service) (*description.ServiceDescriptor, error) {
	c.state.RLock()
	defer c.state.RUnlock()
	return c.rd.ServiceDescriptor(svc.Device().UUID, svc.ServiceTypeVersionURN)
}

func (c *DeviceConnection) logState(from, to, reason string) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerConnection,
		Category:     log.CategoryState,
		RemoteAddr:   c.rd.PreferredLink.DescriptionLocation,
		DeviceUUID:   c.deviceUUID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (c *DeviceConnection) logError(context string, err error) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerConnection,
		Category:     log.CategoryError,
		DeviceUUID:   c.deviceUUID,
		Error: &log.ErrorEventData{
			Layer:   log.LayerConnection,
			Message: err.Error(),
			Context: context,
		},
	})
}

// safeCall runs an observer callback, recovering from panics.
func (c *DeviceConnection) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil && c.cfg.Logger != nil {
			c.cfg.Logger.Error("observer panicked", "callback", what, "device_uuid", c.deviceUUID, "panic", r)
		}
	}()
	fn()
}

func (c *DeviceConnection) debugLog(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, append(args, "device_uuid", c.deviceUUID, "conn_id", c.id)...)
	}
}

var _ proxy.Connection = (*DeviceConnection)(nil)
