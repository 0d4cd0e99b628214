package gena

import (
	"math"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateUnsubscribed, "UNSUBSCRIBED"},
		{StateSubscribing, "SUBSCRIBING"},
		{StateSubscribed, "SUBSCRIBED"},
		{StateRenewing, "RENEWING"},
		{StateUnsubscribing, "UNSUBSCRIBING"},
		{StateExpired, "EXPIRED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestStateActive(t *testing.T) {
	for _, s := range []State{StateSubscribed, StateRenewing} {
		if !s.Active() {
			t.Errorf("%v should be active", s)
		}
	}
	for _, s := range []State{StateUnsubscribed, StateSubscribing, StateUnsubscribing, StateExpired} {
		if s.Active() {
			t.Errorf("%v should not be active", s)
		}
	}
}

func TestSeqNewer(t *testing.T) {
	tests := []struct {
		name      string
		seq, last uint32
		want      bool
	}{
		{"next", 1, 0, true},
		{"gap", 10, 3, true},
		{"duplicate", 3, 3, false},
		{"older", 2, 3, false},
		{"wrap to one", 1, math.MaxUint32, true},
		{"wrap within window", 50, math.MaxUint32 - 20, true},
		{"wrap to zero", 0, math.MaxUint32, false},
		{"beyond window", 101, math.MaxUint32, false},
		{"last too far from max", 1, math.MaxUint32 - 200, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seqNewer(tt.seq, tt.last); got != tt.want {
				t.Errorf("seqNewer(%d, %d) = %v, want %v", tt.seq, tt.last, got, tt.want)
			}
		})
	}
}

func TestEventKeyAccept(t *testing.T) {
	var k eventKey

	if !k.accept(0) {
		t.Fatal("initial event should be accepted")
	}
	if !k.accept(1) {
		t.Fatal("next event should be accepted")
	}
	if k.accept(1) {
		t.Error("duplicate should be dropped")
	}
	if k.accept(0) {
		t.Error("older event should be dropped")
	}
	if !k.accept(5) {
		t.Error("event after gap should be accepted")
	}
	if k.last != 5 {
		t.Errorf("last = %d, want 5", k.last)
	}
}

func TestEventKeyFirstEventMayBeNonZero(t *testing.T) {
	var k eventKey
	if !k.accept(42) {
		t.Error("first event should be accepted whatever its key")
	}
}

func TestRenewalDelay(t *testing.T) {
	got := renewalDelay(1800*time.Second, DefaultRenewalFraction)
	if got != 1440*time.Second {
		t.Errorf("renewalDelay = %v, want 1440s", got)
	}
	if got >= 1800*time.Second {
		t.Error("renewal must happen before expiry")
	}
}

func TestSubscriptionGranted(t *testing.T) {
	now := time.Now()
	s := &subscription{Subscription: Subscription{State: StateRenewing}}

	s.granted(now, 100*time.Second, 0.8)

	if s.State != StateSubscribed {
		t.Errorf("State = %v, want SUBSCRIBED", s.State)
	}
	if !s.Expires.Equal(now.Add(100 * time.Second)) {
		t.Errorf("Expires = %v", s.Expires)
	}
	if !s.RenewAt.Equal(now.Add(80 * time.Second)) {
		t.Errorf("RenewAt = %v", s.RenewAt)
	}
}

func TestParseTimeout(t *testing.T) {
	requested := 1800 * time.Second
	tests := []struct {
		input string
		want  time.Duration
		ok    bool
	}{
		{"Second-1800", 1800 * time.Second, true},
		{"second-300", 300 * time.Second, true},
		{" Second-60 ", 60 * time.Second, true},
		{"Second-infinite", requested, true},
		{"", requested, true},
		{"Second-0", 0, false},
		{"Second-abc", 0, false},
		{"1800", 0, false},
		{"Minute-5", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTimeout(tt.input, requested)
			if tt.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%v", err, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatTimeout(t *testing.T) {
	if got := formatTimeout(1800 * time.Second); got != "Second-1800" {
		t.Errorf("formatTimeout = %q", got)
	}
}
