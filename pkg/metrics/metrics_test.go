package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/upnpkit/upnpkit-go/pkg/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(recorder, req)
	return recorder.Body.String()
}

func TestRecordActionCall(t *testing.T) {
	before := testutil.ToFloat64(metrics.ActionCallsTotal.WithLabelValues("COMPLETED"))

	metrics.RecordActionCall("COMPLETED", 40*time.Millisecond)

	after := testutil.ToFloat64(metrics.ActionCallsTotal.WithLabelValues("COMPLETED"))
	if after != before+1 {
		t.Errorf("counter = %v, want %v", after, before+1)
	}

	body := scrape(t)
	if !strings.Contains(body, "upnpcp_action_call_duration_seconds") {
		t.Error("expected duration histogram in metrics output")
	}
}

func TestRecordActionCallEmptyOutcome(t *testing.T) {
	metrics.RecordActionCall("", time.Millisecond)

	if !strings.Contains(scrape(t), `outcome="unknown"`) {
		t.Error("expected unknown outcome label")
	}
}

func TestInFlightGauge(t *testing.T) {
	before := testutil.ToFloat64(metrics.ActionCallsInFlight)

	metrics.IncActionCallsInFlight()
	metrics.IncActionCallsInFlight()
	metrics.DecActionCallsInFlight()

	if got := testutil.ToFloat64(metrics.ActionCallsInFlight); got != before+1 {
		t.Errorf("in flight = %v, want %v", got, before+1)
	}
	metrics.DecActionCallsInFlight()
}

func TestRecordGENARequest(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result string
	}{
		{"success", nil, "ok"},
		{"failure", errors.New("unreachable"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := metrics.GENARequestsTotal.WithLabelValues("SUBSCRIBE", tt.result)
			before := testutil.ToFloat64(c)

			metrics.RecordGENARequest("SUBSCRIBE", tt.err)

			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestRecordNotification(t *testing.T) {
	c := metrics.EventNotificationsTotal.WithLabelValues(metrics.NotifyDropped)
	before := testutil.ToFloat64(c)

	metrics.RecordNotification(metrics.NotifyDropped)

	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}

func TestSubscriptionAndConnectionGauges(t *testing.T) {
	subs := testutil.ToFloat64(metrics.EventSubscriptions)
	conns := testutil.ToFloat64(metrics.DeviceConnections)

	metrics.SubscriptionAdded()
	metrics.ConnectionOpened()
	if testutil.ToFloat64(metrics.EventSubscriptions) != subs+1 {
		t.Error("subscription gauge not incremented")
	}
	if testutil.ToFloat64(metrics.DeviceConnections) != conns+1 {
		t.Error("connection gauge not incremented")
	}

	metrics.SubscriptionRemoved()
	metrics.ConnectionClosed()
	if testutil.ToFloat64(metrics.EventSubscriptions) != subs {
		t.Error("subscription gauge not decremented")
	}
	if testutil.ToFloat64(metrics.DeviceConnections) != conns {
		t.Error("connection gauge not decremented")
	}
}
