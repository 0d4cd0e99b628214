package gena

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/metrics"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

// Manager errors.
var (
	ErrClosed        = errors.New("subscription manager closed")
	ErrNotStarted    = errors.New("subscription manager not started")
	ErrNoListener    = errors.New("no event listener port")
	ErrNoEventURL    = errors.New("service has no event subscription URL")
	ErrRequestFailed = errors.New("GENA request failed")
)

// NotifyHandler handles a NOTIFY request and returns the response status.
type NotifyHandler func(r *http.Request) int

// Registrar routes NOTIFY requests on a callback path to a handler.
type Registrar interface {
	Register(path string, h NotifyHandler)
	Unregister(path string)
}

// Manager manages the event subscriptions of one device connection.
// It is safe for concurrent use.
type Manager struct {
	cfg  Config
	path string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu          sync.Mutex
	started     bool
	closed      bool
	subs        map[*proxy.Service]*subscription
	bySID       map[string]*subscription
	subscribing int
	early       []pendingNotify
}

// NewManager creates a subscription manager.
func NewManager(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg.withDefaults(),
		path:   "/" + uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		subs:   make(map[*proxy.Service]*subscription),
		bySID:  make(map[string]*subscription),
	}
}

// Path returns the callback path NOTIFY requests are expected on.
func (m *Manager) Path() string {
	return m.path
}

// Start registers the callback path and starts the renewal schedule.
// NOTIFY requests are accepted from now on.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	if m.cfg.Listener != nil {
		m.cfg.Listener.Register(m.path, m.HandleNotify)
	}
	m.wg.Add(1)
	go m.renewLoop()
}

// Subscribe subscribes a service for events. sd is the service's
// descriptor providing the event URL. Subscribing an already subscribed
// service is an illegal call.
func (m *Manager) Subscribe(ctx context.Context, svc *proxy.Service, sd *description.ServiceDescriptor) error {
	if sd == nil || sd.EventSubURL == "" {
		return fmt.Errorf("%w: %s", ErrNoEventURL, svc.ServiceID)
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case !m.started:
		m.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := m.subs[svc]; ok {
		m.mu.Unlock()
		return proxy.IllegalCall("service %s is already subscribed", svc.ServiceID)
	}
	sub := &subscription{
		Subscription: Subscription{Service: svc, State: StateSubscribing},
		descriptor:   sd,
	}
	m.subs[svc] = sub
	m.subscribing++
	m.mu.Unlock()
	m.logState(svc.ServiceID, StateUnsubscribed, StateSubscribing, "")

	ex, err := m.subscribe(ctx, svc, sd)

	m.mu.Lock()
	m.subscribing--
	if err != nil || m.closed || m.subs[svc] != sub {
		if m.subs[svc] == sub {
			delete(m.subs, svc)
		}
		closed := m.closed
		m.dropEarlyLocked()
		m.mu.Unlock()

		if err == nil {
			// Closed while the SUBSCRIBE was in flight.
			m.bestEffortUnsubscribe(svc.ServiceID, sd.EventSubURL, ex.grantedSID)
			if closed {
				err = ErrClosed
			} else {
				err = proxy.IllegalCall("subscription of %s was cancelled", svc.ServiceID)
			}
		}
		m.logState(svc.ServiceID, StateSubscribing, StateUnsubscribed, err.Error())
		return err
	}
	sub.SID = ex.grantedSID
	sub.granted(time.Now(), ex.granted, m.cfg.RenewalFraction)
	// Buffered notifications are queued before the SID is published so
	// that later NOTIFYs are delivered after them.
	for _, n := range m.takeEarlyLocked(sub.SID) {
		m.acceptLocked(sub, n)
	}
	replay := len(sub.queue) > 0
	sub.draining = replay
	m.bySID[sub.SID] = sub
	m.dropEarlyLocked()
	m.mu.Unlock()

	metrics.SubscriptionAdded()
	m.logState(svc.ServiceID, StateSubscribing, StateSubscribed, "")
	m.debugLog("subscribed", "service", svc.ServiceID, "sid", sub.SID, "duration", ex.granted)
	m.wakeRenewLoop()

	if replay {
		m.drain(sub)
	}
	return nil
}

// subscribe sends the initial SUBSCRIBE. The request is cancelled when the
// manager closes.
func (m *Manager) subscribe(ctx context.Context, svc *proxy.Service, sd *description.ServiceDescriptor) (*exchange, error) {
	callback, err := m.callbackURL(sd.EventSubURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(m.ctx, func() { cancel(ErrClosed) })
	defer stop()

	ex := &exchange{
		method:    MethodSubscribe,
		eventURL:  sd.EventSubURL,
		serviceID: svc.ServiceID,
		callback:  callback,
		timeout:   m.cfg.SubscriptionDuration,
	}
	if err := m.send(ctx, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

// Unsubscribe cancels the subscription of a service. Unsubscribing a
// service that is not subscribed is an illegal call. The subscription is
// removed even if the device cannot be reached.
func (m *Manager) Unsubscribe(ctx context.Context, svc *proxy.Service) error {
	m.mu.Lock()
	sub, ok := m.subs[svc]
	if !ok || !sub.State.Active() {
		m.mu.Unlock()
		return proxy.IllegalCall("service %s is not subscribed", svc.ServiceID)
	}
	from := sub.State
	sub.State = StateUnsubscribing
	m.removeLocked(sub)
	m.mu.Unlock()

	metrics.SubscriptionRemoved()
	m.logState(svc.ServiceID, from, StateUnsubscribing, "")
	m.wakeRenewLoop()

	err := m.send(ctx, &exchange{
		method:    MethodUnsubscribe,
		eventURL:  sub.descriptor.EventSubURL,
		serviceID: svc.ServiceID,
		sid:       sub.SID,
	})
	m.logState(svc.ServiceID, StateUnsubscribing, StateUnsubscribed, "")
	return err
}

// IsSubscribed reports whether the service has an active subscription.
func (m *Manager) IsSubscribed(svc *proxy.Service) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[svc]
	return ok && sub.State.Active()
}

// Subscription returns a snapshot of the subscription of a service.
func (m *Manager) Subscription(svc *proxy.Service) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[svc]
	if !ok {
		return Subscription{}, false
	}
	return sub.Subscription, true
}

// Subscriptions returns snapshots of all subscriptions sorted by service ID.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	subs := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s.Subscription)
	}
	m.mu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].Service.ServiceID < subs[j].Service.ServiceID })
	return subs
}

// ResubscribeAll replaces every subscription by a new one. It is used after
// the device rebooted and forgot its subscribers. Each service is retried
// with backoff; services that cannot be resubscribed fire their
// subscription failed handler.
func (m *Manager) ResubscribeAll(ctx context.Context) error {
	type target struct {
		svc *proxy.Service
		sd  *description.ServiceDescriptor
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]target, 0, len(m.subs))
	for svc, sub := range m.subs {
		if !sub.State.Active() {
			continue
		}
		targets = append(targets, target{svc: svc, sd: sub.descriptor})
		m.removeLocked(sub)
		metrics.SubscriptionRemoved()
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, t := range targets {
		m.logState(t.svc.ServiceID, StateSubscribed, StateExpired, "device rebooted")
		g.Go(func() error {
			err := m.subscribeWithRetry(ctx, t.svc, t.sd)
			if err != nil && !errors.Is(err, ErrClosed) {
				m.debugLog("resubscription failed", "service", t.svc.ServiceID, "error", err)
				m.fireFailed(t.svc, err)
			}
			return err
		})
	}
	return g.Wait()
}

func (m *Manager) subscribeWithRetry(ctx context.Context, svc *proxy.Service, sd *description.ServiceDescriptor) error {
	b := NewBackoff(m.cfg.ResubscribeBackoff)
	for attempt := 1; ; attempt++ {
		err := m.Subscribe(ctx, svc, sd)
		if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, proxy.ErrIllegalCall) {
			return err
		}
		if attempt >= m.cfg.ResubscribeBackoff.MaxAttempts {
			return err
		}
		timer := time.NewTimer(b.Next())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-m.ctx.Done():
			timer.Stop()
			return ErrClosed
		}
	}
}

// Close stops the renewal schedule and drops all subscriptions. With
// unsubscribe set, an UNSUBSCRIBE is sent for each; otherwise the device is
// assumed gone. Close is idempotent.
func (m *Manager) Close(unsubscribe bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var subs []*subscription
	for _, s := range m.subs {
		if s.State.Active() {
			subs = append(subs, s)
			metrics.SubscriptionRemoved()
		}
		m.removeLocked(s)
	}
	m.early = nil
	m.mu.Unlock()

	m.cancel()
	if m.cfg.Listener != nil {
		m.cfg.Listener.Unregister(m.path)
	}

	if unsubscribe {
		var g errgroup.Group
		for _, s := range subs {
			g.Go(func() error {
				m.bestEffortUnsubscribe(s.Service.ServiceID, s.descriptor.EventSubURL, s.SID)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, s := range subs {
		m.logState(s.Service.ServiceID, s.State, StateUnsubscribed, "closed")
	}
	m.wg.Wait()
}

func (m *Manager) bestEffortUnsubscribe(serviceID, eventURL, sid string) {
	if sid == "" {
		return
	}
	err := m.send(context.Background(), &exchange{
		method:    MethodUnsubscribe,
		eventURL:  eventURL,
		serviceID: serviceID,
		sid:       sid,
	})
	if err != nil {
		m.debugLog("unsubscribe failed", "service", serviceID, "sid", sid, "error", err)
	}
}

// removeLocked removes a subscription from both indexes.
func (m *Manager) removeLocked(sub *subscription) {
	if m.subs[sub.Service] == sub {
		delete(m.subs, sub.Service)
	}
	if sub.SID != "" && m.bySID[sub.SID] == sub {
		delete(m.bySID, sub.SID)
	}
}

// renewLoop renews subscriptions when they are due.
func (m *Manager) renewLoop() {
	defer m.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		var due <-chan time.Time
		if next, ok := m.nextRenewal(); ok {
			timer.Reset(time.Until(next))
			due = timer.C
		}
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		case <-due:
			if failed := m.renewDue(m.ctx); len(failed) > 0 {
				// Handlers may close the manager, which waits for this loop.
				go func() {
					for _, f := range failed {
						m.fireFailed(f.svc, f.err)
					}
				}()
			}
		}
	}
}

func (m *Manager) wakeRenewLoop() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// nextRenewal returns the earliest renewal time of all subscriptions.
func (m *Manager) nextRenewal() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next time.Time
	for _, s := range m.subs {
		if s.State != StateSubscribed {
			continue
		}
		if next.IsZero() || s.RenewAt.Before(next) {
			next = s.RenewAt
		}
	}
	return next, !next.IsZero()
}

// renewDue renews all subscriptions whose renewal time has passed and
// returns those that failed.
func (m *Manager) renewDue(ctx context.Context) []renewalFailure {
	now := time.Now()
	var due []*subscription
	m.mu.Lock()
	for _, s := range m.subs {
		if s.State == StateSubscribed && !now.Before(s.RenewAt) {
			s.State = StateRenewing
			due = append(due, s)
		}
	}
	m.mu.Unlock()

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   []renewalFailure
	)
	for _, s := range due {
		m.logState(s.Service.ServiceID, StateSubscribed, StateRenewing, "")
		g.Go(func() error {
			if err := m.renew(ctx, s); err != nil {
				failedMu.Lock()
				failed = append(failed, renewalFailure{svc: s.Service, err: err})
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// renewalFailure is a subscription lost because its renewal failed.
type renewalFailure struct {
	svc *proxy.Service
	err error
}

// renew sends a renewal and returns the error that ended the subscription,
// if any.
func (m *Manager) renew(ctx context.Context, sub *subscription) error {
	svc := sub.Service
	m.mu.Lock()
	sid := sub.SID
	m.mu.Unlock()

	ex := &exchange{
		method:    MethodRenew,
		eventURL:  sub.descriptor.EventSubURL,
		serviceID: svc.ServiceID,
		sid:       sid,
		timeout:   m.cfg.SubscriptionDuration,
	}
	err := m.send(ctx, ex)

	m.mu.Lock()
	if m.subs[svc] != sub || sub.State != StateRenewing {
		// Unsubscribed or closed meanwhile.
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		sub.State = StateExpired
		m.removeLocked(sub)
		m.mu.Unlock()

		metrics.SubscriptionRemoved()
		m.logState(svc.ServiceID, StateRenewing, StateExpired, err.Error())
		m.logState(svc.ServiceID, StateExpired, StateUnsubscribed, "")
		m.debugLog("renewal failed", "service", svc.ServiceID, "sid", sid, "error", err)
		return err
	}
	sub.granted(time.Now(), ex.granted, m.cfg.RenewalFraction)
	m.mu.Unlock()
	m.logState(svc.ServiceID, StateRenewing, StateSubscribed, "")
	return nil
}

// fireFailed invokes the service's subscription failed handler.
func (m *Manager) fireFailed(svc *proxy.Service, err error) {
	m.safeCall("subscription failed handler", func() { svc.FireEventSubscriptionFailed(err) })
}

// safeCall runs an observer callback, recovering from panics.
func (m *Manager) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if m.cfg.Logger != nil {
				m.cfg.Logger.Error("observer panicked", "callback", what, "panic", r)
			}
		}
	}()
	fn()
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, append(args, "device_uuid", m.cfg.DeviceUUID)...)
	}
}
