package gena

import (
	"math/rand"
	"sync"
	"time"
)

// Resubscription backoff defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
	MaxAttempts       = 5
)

// BackoffConfig configures the retries of a resubscription.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64

	// MaxAttempts is the number of SUBSCRIBE attempts per service.
	MaxAttempts int
}

// DefaultBackoffConfig returns the default resubscription backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:     InitialBackoff,
		Max:         MaxBackoff,
		Multiplier:  BackoffMultiplier,
		Jitter:      JitterFactor,
		MaxAttempts: MaxAttempts,
	}
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	// Current backoff delay (before jitter)
	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator. Zero fields of cfg take the
// defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset resets the backoff to initial values.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of backoff attempts since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
