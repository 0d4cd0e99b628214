package gena

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/cpstate"
	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/version"
)

// Defaults.
const (
	DefaultSubscriptionDuration = 1800 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultRenewalFraction      = 0.8
	DefaultMaxBuffered          = 16
)

// Config configures a Manager.
type Config struct {
	// Client sends the GENA requests. If nil, a client without timeout is
	// used; every request is bounded by RequestTimeout.
	Client *http.Client

	// State provides the listener ports for callback URLs.
	State *cpstate.State

	// Listener receives the NOTIFY requests. The manager registers its
	// callback path on Start.
	Listener Registrar

	// LocalAddress is the local address announced in callback URLs. If
	// invalid, the address used to reach the event URL is taken.
	LocalAddress netip.Addr

	// SubscriptionDuration is the duration requested in SUBSCRIBE.
	SubscriptionDuration time.Duration

	// RequestTimeout bounds each SUBSCRIBE, renewal and UNSUBSCRIBE.
	RequestTimeout time.Duration

	// RenewalFraction is the part of the granted duration after which a
	// subscription is renewed.
	RenewalFraction float64

	// MaxBufferedNotifications bounds the NOTIFY requests held back while
	// a SUBSCRIBE response is outstanding.
	MaxBufferedNotifications int

	// ResubscribeBackoff configures the retries after a device reboot.
	ResubscribeBackoff BackoffConfig

	// UserAgent is sent in every request.
	UserAgent string

	// ConnectionID and DeviceUUID identify the owning connection in logs.
	ConnectionID string
	DeviceUUID   string

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures GENA exchanges. If nil, nothing is captured.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubscriptionDuration:     DefaultSubscriptionDuration,
		RequestTimeout:           DefaultRequestTimeout,
		RenewalFraction:          DefaultRenewalFraction,
		MaxBufferedNotifications: DefaultMaxBuffered,
		ResubscribeBackoff:       DefaultBackoffConfig(),
		UserAgent:                version.UserAgent(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.SubscriptionDuration <= 0 {
		c.SubscriptionDuration = d.SubscriptionDuration
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RenewalFraction <= 0 || c.RenewalFraction >= 1 {
		c.RenewalFraction = d.RenewalFraction
	}
	if c.MaxBufferedNotifications <= 0 {
		c.MaxBufferedNotifications = d.MaxBufferedNotifications
	}
	if c.ResubscribeBackoff.MaxAttempts <= 0 {
		c.ResubscribeBackoff.MaxAttempts = d.ResubscribeBackoff.MaxAttempts
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}

// renewalDelay returns when a subscription granted for d is renewed.
func renewalDelay(d time.Duration, fraction float64) time.Duration {
	return time.Duration(float64(d) * fraction)
}
