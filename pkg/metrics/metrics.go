// Package metrics provides Prometheus metrics for the UPnP control point.
//
// All collectors register with the default registry; expose them with
// promhttp.Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionCallsTotal counts finished action calls by outcome.
	ActionCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcp_action_calls_total",
		Help: "Total number of finished action calls, by outcome.",
	}, []string{"outcome"})

	// ActionCallDuration observes the time from dispatch to outcome.
	ActionCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upnpcp_action_call_duration_seconds",
		Help:    "Duration of action calls from dispatch to outcome, by outcome.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})

	// ActionCallsInFlight tracks the calls awaiting a response.
	ActionCallsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upnpcp_action_calls_in_flight",
		Help: "Current number of action calls awaiting a response.",
	})

	// EventSubscriptions tracks active GENA subscriptions.
	EventSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upnpcp_event_subscriptions",
		Help: "Current number of active event subscriptions.",
	})

	// GENARequestsTotal counts outgoing GENA requests by method and result.
	GENARequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcp_gena_requests_total",
		Help: "Total number of SUBSCRIBE, RENEW and UNSUBSCRIBE requests, by method and result.",
	}, []string{"method", "result"})

	// EventNotificationsTotal counts inbound NOTIFY requests by result.
	EventNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upnpcp_event_notifications_total",
		Help: "Total number of received NOTIFY requests, by result (accepted, dropped, buffered, rejected).",
	}, []string{"result"})

	// DeviceConnections tracks connected devices.
	DeviceConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upnpcp_device_connections",
		Help: "Current number of connected devices.",
	})
)

// Notification results.
const (
	NotifyAccepted = "accepted"
	NotifyDropped  = "dropped"
	NotifyBuffered = "buffered"
	NotifyRejected = "rejected"
)

// RecordActionCall records a finished call. outcome is the call's terminal
// outcome name.
func RecordActionCall(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	ActionCallsTotal.WithLabelValues(outcome).Inc()
	ActionCallDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncActionCallsInFlight marks a dispatched call.
func IncActionCallsInFlight() { ActionCallsInFlight.Inc() }

// DecActionCallsInFlight marks a resolved call.
func DecActionCallsInFlight() { ActionCallsInFlight.Dec() }

// RecordGENARequest records an outgoing GENA request.
func RecordGENARequest(method string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GENARequestsTotal.WithLabelValues(method, result).Inc()
}

// RecordNotification records an inbound NOTIFY with the given result.
func RecordNotification(result string) {
	EventNotificationsTotal.WithLabelValues(result).Inc()
}

// SubscriptionAdded marks a new active subscription.
func SubscriptionAdded() { EventSubscriptions.Inc() }

// SubscriptionRemoved marks a dropped subscription.
func SubscriptionRemoved() { EventSubscriptions.Dec() }

// ConnectionOpened marks a new device connection.
func ConnectionOpened() { DeviceConnections.Inc() }

// ConnectionClosed marks a closed device connection.
func ConnectionClosed() { DeviceConnections.Dec() }
