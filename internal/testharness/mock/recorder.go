package mock

import (
	"sync"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

// Notification is a state variable change observed on a proxy service.
type Notification struct {
	DeviceUUID string
	ServiceURN string
	Variable   string
	Value      any
}

// Recorder collects state variable changes and subscription failures of
// proxy services.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
	failures      []error
	changed       chan struct{}
}

// NewRecorder creates a recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{}, 1)}
}

// Attach installs the recorder's handlers on every service of the device
// tree.
func (r *Recorder) Attach(d *proxy.Device) {
	d.Walk(func(dev *proxy.Device) {
		for _, s := range dev.Services() {
			s.OnStateVariableChanged(r.record)
			s.OnEventSubscriptionFailed(r.recordFailure)
		}
	})
}

func (r *Recorder) record(sv *proxy.StateVariable, value any) {
	s := sv.Service()
	r.mu.Lock()
	r.notifications = append(r.notifications, Notification{
		DeviceUUID: s.Device().UUID,
		ServiceURN: s.ServiceTypeVersionURN,
		Variable:   sv.Name,
		Value:      value,
	})
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) recordFailure(_ *proxy.Service, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, err)
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Notifications returns all recorded notifications.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Notification, len(r.notifications))
	copy(result, r.notifications)
	return result
}

// Failures returns all recorded subscription failures.
func (r *Recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

// WaitFor waits until a notification matching fn was recorded.
func (r *Recorder) WaitFor(timeout time.Duration, fn func(Notification) bool) (Notification, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for _, n := range r.Notifications() {
			if fn(n) {
				return n, nil
			}
		}
		select {
		case <-r.changed:
		case <-deadline.C:
			return Notification{}, ErrTimeout
		}
	}
}

// WaitForFailure waits until at least one subscription failure was recorded.
func (r *Recorder) WaitForFailure(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if len(r.Failures()) > 0 {
			return nil
		}
		select {
		case <-r.changed:
		case <-deadline.C:
			return ErrTimeout
		}
	}
}
