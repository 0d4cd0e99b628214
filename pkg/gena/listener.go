package gena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/upnpkit/upnpkit-go/pkg/cpstate"
)

func init() {
	chi.RegisterMethod(MethodNotify)
}

// ErrListenerStarted is returned when starting a running listener.
var ErrListenerStarted = errors.New("listener already started")

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// AddressV4 is the IPv4 listen address. Port 0 picks a free port.
	AddressV4 string

	// AddressV6 is the IPv6 listen address. Empty disables IPv6. Failing
	// to bind it is not fatal.
	AddressV6 string

	// ReadTimeout bounds reading a NOTIFY request.
	ReadTimeout time.Duration

	// State receives the bound ports.
	State *cpstate.State

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultListenerConfig returns a ListenerConfig with sensible defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		AddressV4:   "0.0.0.0:0",
		AddressV6:   "[::]:0",
		ReadTimeout: 10 * time.Second,
	}
}

// Listener is the HTTP server receiving NOTIFY requests for all
// subscription managers of a control point.
type Listener struct {
	cfg    ListenerConfig
	router chi.Router

	mu       sync.RWMutex
	handlers map[string]NotifyHandler
	servers  []*http.Server
	portV4   int
	portV6   int

	wg sync.WaitGroup
}

// NewListener creates a listener.
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultListenerConfig().ReadTimeout
	}
	l := &Listener{
		cfg:      cfg,
		handlers: make(map[string]NotifyHandler),
	}
	r := chi.NewRouter()
	r.MethodFunc(MethodNotify, "/{callback}", l.serveNotify)
	l.router = r
	return l
}

// Handler returns the HTTP handler serving NOTIFY requests.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Register routes NOTIFY requests on path ("/name") to h.
func (l *Listener) Register(path string, h NotifyHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[path] = h
}

// Unregister removes the handler of path.
func (l *Listener) Unregister(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, path)
}

func (l *Listener) serveNotify(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "callback")
	l.mu.RLock()
	h, ok := l.handlers[path]
	l.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxNotifySize)
	w.WriteHeader(h(r))
}

// Start binds the listen addresses and serves until Shutdown. The bound
// ports are recorded in the control point state.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.servers) > 0 {
		return ErrListenerStarted
	}

	var lc net.ListenConfig
	ln4, err := lc.Listen(ctx, "tcp4", l.cfg.AddressV4)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.AddressV4, err)
	}
	l.portV4 = portOf(ln4)
	l.serve(ln4)

	if l.cfg.AddressV6 != "" {
		ln6, err := lc.Listen(ctx, "tcp6", l.cfg.AddressV6)
		if err != nil {
			l.debugLog("IPv6 event listener unavailable", "address", l.cfg.AddressV6, "error", err)
		} else {
			l.portV6 = portOf(ln6)
			l.serve(ln6)
		}
	}

	if l.cfg.State != nil {
		l.cfg.State.SetHTTPPorts(l.portV4, l.portV6)
	}
	l.debugLog("event listener started", "port_v4", l.portV4, "port_v6", l.portV6)
	return nil
}

func (l *Listener) serve(ln net.Listener) {
	srv := &http.Server{
		Handler:           l.router,
		ReadTimeout:       l.cfg.ReadTimeout,
		ReadHeaderTimeout: l.cfg.ReadTimeout / 2,
	}
	l.servers = append(l.servers, srv)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.debugLog("event listener failed", "address", ln.Addr().String(), "error", err)
		}
	}()
}

// Ports returns the bound IPv4 and IPv6 ports; 0 if not bound.
func (l *Listener) Ports() (v4, v6 int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.portV4, l.portV6
}

// Shutdown stops the servers and clears the ports in the control point
// state.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	servers := l.servers
	l.servers = nil
	l.portV4, l.portV6 = 0, 0
	l.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	l.wg.Wait()
	if l.cfg.State != nil {
		l.cfg.State.SetHTTPPorts(0, 0)
	}
	return errors.Join(errs...)
}

func portOf(ln net.Listener) int {
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

func (l *Listener) debugLog(msg string, args ...any) {
	if l.cfg.Logger != nil {
		l.cfg.Logger.Debug(msg, args...)
	}
}
