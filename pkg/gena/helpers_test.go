package gena

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/upnpkit/upnpkit-go/internal/testharness/mock"
	"github.com/upnpkit/upnpkit-go/pkg/cpstate"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// fixture wires a manager to a fake device through a real listener.
type fixture struct {
	dev      *mock.Device
	state    *cpstate.State
	listener *Listener
	client   *http.Client
	rd       *description.RootDescriptor
	root     *proxy.Device
	rec      *mock.Recorder
	m        *Manager

	closeOnce sync.Once
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		dev:    mock.NewDevice(),
		state:  cpstate.New(),
		client: &http.Client{Transport: &http.Transport{}},
		rec:    mock.NewRecorder(),
	}

	lcfg := DefaultListenerConfig()
	lcfg.AddressV4 = "127.0.0.1:0"
	lcfg.AddressV6 = ""
	lcfg.State = f.state
	f.listener = NewListener(lcfg)
	require.NoError(t, f.listener.Start(context.Background()))

	rd, err := mock.ParseRootDescriptor(f.dev.Location(), loopback)
	require.NoError(t, err)
	f.rd = rd
	f.root, err = proxy.BuildDevice(rd, mock.RootUUID)
	require.NoError(t, err)
	f.rec.Attach(f.root)

	cfg := DefaultConfig()
	cfg.Client = f.client
	cfg.State = f.state
	cfg.Listener = f.listener
	cfg.LocalAddress = loopback
	cfg.DeviceUUID = mock.RootUUID
	cfg.RequestTimeout = 5 * time.Second
	for _, fn := range configure {
		fn(&cfg)
	}
	f.m = NewManager(cfg)
	f.m.Start()

	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.closeOnce.Do(func() {
		f.m.Close(false)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.listener.Shutdown(ctx)
		f.dev.Close()
		f.client.CloseIdleConnections()
	})
}

// service returns a root device service and its descriptor.
func (f *fixture) service(t *testing.T, urn string) (*proxy.Service, *description.ServiceDescriptor) {
	t.Helper()
	svc, ok := f.root.FindService(urn)
	require.True(t, ok, "service %s", urn)
	sd, err := f.rd.ServiceDescriptor(mock.RootUUID, urn)
	require.NoError(t, err)
	return svc, sd
}

// eventually polls cond until it holds or the timeout elapses.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// isStatus matches a SwitchPower Status notification with the given value.
func isStatus(v bool) func(mock.Notification) bool {
	return func(n mock.Notification) bool {
		return n.Variable == "Status" && n.Value == v
	}
}
