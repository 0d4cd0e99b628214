package gena

import (
	"math"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

// State is the lifecycle state of an event subscription.
type State uint8

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateRenewing
	StateUnsubscribing
	StateExpired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateRenewing:
		return "RENEWING"
	case StateUnsubscribing:
		return "UNSUBSCRIBING"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether events are delivered in this state. A renewal in
// progress keeps the subscription active.
func (s State) Active() bool {
	return s == StateSubscribed || s == StateRenewing
}

// Subscription is a snapshot of one event subscription.
type Subscription struct {
	Service *proxy.Service
	SID     string
	State   State

	// Duration is the subscription duration granted by the device.
	Duration time.Duration
	Expires  time.Time
	RenewAt  time.Time
}

// subscription is the manager's record of a subscription.
type subscription struct {
	Subscription
	descriptor *description.ServiceDescriptor
	key        eventKey

	// queue holds accepted notifications not yet delivered.
	queue    []pendingNotify
	draining bool
}

// granted records a successful SUBSCRIBE or renewal at now.
func (s *subscription) granted(now time.Time, d time.Duration, fraction float64) {
	s.Duration = d
	s.Expires = now.Add(d)
	s.RenewAt = now.Add(renewalDelay(d, fraction))
	s.State = StateSubscribed
}

// seqWrapWindow is the largest gap tolerated across the wrap of event keys.
const seqWrapWindow = 100

// eventKey tracks the last accepted event key of a subscription.
type eventKey struct {
	last  uint32
	valid bool
}

// accept reports whether seq is newer than the last accepted key and
// records it if so.
func (k *eventKey) accept(seq uint32) bool {
	if k.valid && !seqNewer(seq, k.last) {
		return false
	}
	k.last = seq
	k.valid = true
	return true
}

// seqNewer reports whether seq follows last. Keys wrap from 4294967295 to 1.
func seqNewer(seq, last uint32) bool {
	if seq > last {
		return true
	}
	return seq != 0 && seq <= seqWrapWindow && last > math.MaxUint32-seqWrapWindow
}
