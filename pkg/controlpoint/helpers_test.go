package controlpoint

import (
	"context"
	"net/http"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/upnpkit/upnpkit-go/internal/testharness/mock"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

var loopback = netip.MustParseAddr("127.0.0.1")

const testWait = 2 * time.Second

// fixture is a started control point connected to the root device of a
// fake device.
type fixture struct {
	dev    *mock.Device
	client *http.Client
	cp     *ControlPoint
	rd     *description.RootDescriptor
	conn   *DeviceConnection
	rec    *mock.Recorder
	events *eventLog

	closeOnce sync.Once
}

func testConfig(client *http.Client) Config {
	cfg := DefaultConfig()
	cfg.Client = client
	cfg.ListenAddressV4 = "127.0.0.1:0"
	cfg.ListenAddressV6 = ""
	cfg.EnableIPv6 = false
	cfg.ActionTimeout = 5 * time.Second
	cfg.SubscriptionRequestTimeout = 5 * time.Second
	return cfg
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		dev:    mock.NewDevice(),
		client: &http.Client{Transport: &http.Transport{}},
		rec:    mock.NewRecorder(),
		events: &eventLog{},
	}
	cfg := testConfig(f.client)
	cfg.ProtocolLogger = f.events
	for _, fn := range configure {
		fn(&cfg)
	}
	f.cp = New(cfg)
	require.NoError(t, f.cp.Start(context.Background()))

	var err error
	f.rd, err = mock.ParseRootDescriptor(f.dev.Location(), loopback)
	require.NoError(t, err)
	f.conn, err = f.cp.Connect(f.rd, mock.RootUUID)
	require.NoError(t, err)
	f.rec.Attach(f.conn.Device())

	t.Cleanup(f.close)
	return f
}

func (f *fixture) close() {
	f.closeOnce.Do(func() {
		f.cp.Stop()
		f.dev.Close()
		f.client.CloseIdleConnections()
	})
}

func (f *fixture) service(t *testing.T, urn string) *proxy.Service {
	t.Helper()
	svc, ok := f.conn.Device().FindService(urn)
	require.True(t, ok, "service %s", urn)
	return svc
}

func (f *fixture) action(t *testing.T, urn, name string) *proxy.Action {
	t.Helper()
	a, ok := f.service(t, urn).Action(name)
	require.True(t, ok, "action %s", name)
	return a
}

// blockControl makes the device hold every action request until the
// request is cancelled or release is closed.
func (f *fixture) blockControl(t *testing.T) (release func()) {
	t.Helper()
	ch := make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(ch) }) }
	t.Cleanup(release)
	f.dev.OnControl(func(action string, w http.ResponseWriter, r *http.Request) bool {
		select {
		case <-r.Context().Done():
		case <-ch:
			mock.WriteResponse(w, mock.SwitchPowerURN, action, "RetTargetValue", "1")
		}
		return true
	})
	return release
}

// waitResult receives the result of a call.
func waitResult(t *testing.T, ch <-chan proxy.CallResult) proxy.CallResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no call result")
		return proxy.CallResult{}
	}
}

// requireNoResult fails if ch delivers within d.
func requireNoResult(t *testing.T, ch <-chan proxy.CallResult, d time.Duration) {
	t.Helper()
	select {
	case res := <-ch:
		t.Fatalf("unexpected second result: %v", res.Outcome)
	case <-time.After(d):
	}
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

func isStatus(v bool) func(mock.Notification) bool {
	return func(n mock.Notification) bool {
		return n.Variable == "Status" && n.Value == v
	}
}

// eventLog collects protocol events.
type eventLog struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *eventLog) Log(ev log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) actions() []*log.ActionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*log.ActionEvent
	for _, ev := range l.events {
		if ev.Action != nil {
			out = append(out, ev.Action)
		}
	}
	return out
}

func (l *eventLog) connectionStates() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.StateChange != nil && ev.StateChange.Entity == log.StateEntityConnection {
			out = append(out, ev.StateChange.NewState)
		}
	}
	return out
}
