package controlpoint

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/gena"
	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/version"
)

// Connection errors.
var (
	ErrActionTimeout       = errors.New("action call timed out")
	ErrConnectionClosed    = errors.New("device connection closed")
	ErrInvocationFailed    = errors.New("action invocation failed")
	ErrErroneousDescriptor = errors.New("root descriptor is erroneous")
	ErrNotStarted          = errors.New("control point not started")
)

// Defaults.
const (
	DefaultActionTimeout   = 30 * time.Second
	DefaultMaxPendingCalls = 64

	// maxResponseSize limits the body of an action response.
	maxResponseSize = 4 << 20
)

// Config configures device connections and the control point.
type Config struct {
	// Client sends action and GENA requests. If nil, a client without
	// timeout is used; requests are bounded by the timeouts below.
	Client *http.Client

	// ActionTimeout bounds each action call.
	ActionTimeout time.Duration

	// MaxPendingCalls bounds the concurrently running action requests of
	// one connection. Further calls wait for a slot within their timeout.
	MaxPendingCalls int

	// SubscriptionDuration is the duration requested in SUBSCRIBE.
	SubscriptionDuration time.Duration

	// SubscriptionRequestTimeout bounds each GENA request.
	SubscriptionRequestTimeout time.Duration

	// RenewalFraction is the part of the granted duration after which a
	// subscription is renewed.
	RenewalFraction float64

	// ResubscribeBackoff configures the retries after a device reboot.
	ResubscribeBackoff gena.BackoffConfig

	// ListenAddressV4 and ListenAddressV6 are the addresses of the event
	// callback listener. An empty ListenAddressV6 disables IPv6 callbacks.
	ListenAddressV4 string
	ListenAddressV6 string

	// EnableIPv6 includes link-local IPv6 addresses in the local endpoints.
	EnableIPv6 bool

	// Listener routes NOTIFY requests to connections. A ControlPoint sets
	// its own listener.
	Listener gena.Registrar

	// UserAgent is sent in every request.
	UserAgent string

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures SOAP and GENA exchanges. If nil, nothing is
	// captured.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ActionTimeout:              DefaultActionTimeout,
		MaxPendingCalls:            DefaultMaxPendingCalls,
		SubscriptionDuration:       gena.DefaultSubscriptionDuration,
		SubscriptionRequestTimeout: gena.DefaultRequestTimeout,
		RenewalFraction:            gena.DefaultRenewalFraction,
		ResubscribeBackoff:         gena.DefaultBackoffConfig(),
		ListenAddressV4:            "0.0.0.0:0",
		ListenAddressV6:            "[::]:0",
		EnableIPv6:                 true,
		UserAgent:                  version.UserAgent(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.MaxPendingCalls <= 0 {
		c.MaxPendingCalls = d.MaxPendingCalls
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	return c
}

// eventConfig derives the subscription manager configuration of one
// connection. Zero values are defaulted by the manager.
func (c Config) eventConfig() gena.Config {
	return gena.Config{
		Client:               c.Client,
		Listener:             c.Listener,
		SubscriptionDuration: c.SubscriptionDuration,
		RequestTimeout:       c.SubscriptionRequestTimeout,
		RenewalFraction:      c.RenewalFraction,
		ResubscribeBackoff:   c.ResubscribeBackoff,
		UserAgent:            c.UserAgent,
		Logger:               c.Logger,
		ProtocolLogger:       c.ProtocolLogger,
	}
}
