package gena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/metrics"
)

// GENA methods as recorded in logs and metrics. A renewal is sent as
// SUBSCRIBE with a SID.
const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodRenew       = "RENEW"
	MethodUnsubscribe = "UNSUBSCRIBE"
	MethodNotify      = "NOTIFY"
)

const tracerName = "github.com/upnpkit/upnpkit-go/pkg/gena"

// exchange is one GENA request and its response headers.
type exchange struct {
	method    string
	eventURL  string
	serviceID string
	sid       string
	callback  string
	timeout   time.Duration

	// Response.
	status     int
	grantedSID string
	granted    time.Duration
}

// send performs a GENA request.
func (m *Manager) send(ctx context.Context, ex *exchange) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "gena."+strings.ToLower(ex.method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upnp.device_uuid", m.cfg.DeviceUUID),
			attribute.String("upnp.service_id", ex.serviceID),
			attribute.String("url.full", ex.eventURL),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		metrics.RecordGENARequest(ex.method, err)
	}()

	httpMethod := ex.method
	if ex.method == MethodRenew {
		httpMethod = MethodSubscribe
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, ex.eventURL, nil)
	if err != nil {
		return fmt.Errorf("%s %s: %w", ex.method, ex.eventURL, err)
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)
	// GENA header names are sent as written; some devices match them
	// case-sensitively.
	switch ex.method {
	case MethodSubscribe:
		req.Header["CALLBACK"] = []string{"<" + ex.callback + ">"}
		req.Header["NT"] = []string{"upnp:event"}
		req.Header["TIMEOUT"] = []string{formatTimeout(ex.timeout)}
	case MethodRenew:
		req.Header["SID"] = []string{ex.sid}
		req.Header["TIMEOUT"] = []string{formatTimeout(ex.timeout)}
	case MethodUnsubscribe:
		req.Header["SID"] = []string{ex.sid}
	}
	m.logGENA(log.DirectionOut, ex.serviceID, &log.GENAEvent{
		Method:  ex.method,
		SID:     ex.sid,
		Timeout: durationPtr(ex.timeout),
	})

	resp, err := m.cfg.Client.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w (%w)", err, cause)
		}
		m.logError(ex.serviceID, ex.method, err)
		return fmt.Errorf("%s %s: %w", ex.method, ex.eventURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	ex.status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: %s %s returned %d", ErrRequestFailed, ex.method, ex.eventURL, resp.StatusCode)
	} else if ex.method != MethodUnsubscribe {
		err = ex.parseGrant(resp.Header, m.cfg.SubscriptionDuration)
	}

	m.logGENA(log.DirectionIn, ex.serviceID, &log.GENAEvent{
		Method:  ex.method,
		SID:     firstNonEmpty(ex.grantedSID, ex.sid),
		Timeout: durationPtr(ex.granted),
		Status:  resp.StatusCode,
	})
	if err != nil {
		m.logError(ex.serviceID, ex.method, err)
	}
	return err
}

// parseGrant reads SID and TIMEOUT of a successful subscribe or renewal.
func (ex *exchange) parseGrant(h http.Header, requested time.Duration) error {
	ex.grantedSID = strings.TrimSpace(h.Get("SID"))
	if ex.grantedSID == "" {
		if ex.method == MethodSubscribe {
			return fmt.Errorf("%w: %s response without SID", ErrRequestFailed, ex.method)
		}
		ex.grantedSID = ex.sid
	}
	if ex.method == MethodRenew && ex.grantedSID != ex.sid {
		return fmt.Errorf("%w: renewal of %s answered for %s", ErrRequestFailed, ex.sid, ex.grantedSID)
	}
	d, err := parseTimeout(h.Get("TIMEOUT"), requested)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	ex.granted = d
	return nil
}

// formatTimeout renders a TIMEOUT header value.
func formatTimeout(d time.Duration) string {
	return "Second-" + strconv.FormatInt(int64(d/time.Second), 10)
}

// parseTimeout parses a TIMEOUT header value. "Second-infinite" and a
// missing header grant the requested duration.
func parseTimeout(s string, requested time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return requested, nil
	}
	v, ok := cutPrefixFold(s, "Second-")
	if !ok {
		return 0, fmt.Errorf("invalid TIMEOUT %q", s)
	}
	if strings.EqualFold(v, "infinite") {
		return requested, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid TIMEOUT %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// callbackURL returns the URL the device sends NOTIFY requests to.
func (m *Manager) callbackURL(eventURL string) (string, error) {
	addr := m.cfg.LocalAddress
	if !addr.IsValid() {
		a, err := localAddressFor(eventURL)
		if err != nil {
			return "", err
		}
		addr = a
	}
	addr = addr.Unmap()

	var port int
	if m.cfg.State != nil {
		if addr.Is4() {
			port = m.cfg.State.HTTPPortV4()
		} else {
			port = m.cfg.State.HTTPPortV6()
		}
	}
	if port == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoListener, addr)
	}

	host := addr.String()
	if zone := addr.Zone(); zone != "" {
		host = addr.WithZone("").String() + "%25" + zone
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + m.path, nil
}

// localAddressFor returns the local address routed towards the host of
// rawURL.
func localAddressFor(rawURL string) (netip.Addr, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("route to %s: %w", u.Host, err)
	}
	defer conn.Close()
	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("route to %s: unexpected local address %v", u.Host, conn.LocalAddr())
	}
	return udp.AddrPort().Addr().Unmap(), nil
}

func (m *Manager) logGENA(dir log.Direction, serviceID string, ev *log.GENAEvent) {
	m.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ConnectionID,
		Direction:    dir,
		Layer:        log.LayerGENA,
		Category:     log.CategoryMessage,
		DeviceUUID:   m.cfg.DeviceUUID,
		ServiceID:    serviceID,
		GENA:         ev,
	})
}

func (m *Manager) logState(serviceID string, from, to State, reason string) {
	m.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ConnectionID,
		Layer:        log.LayerGENA,
		Category:     log.CategoryState,
		DeviceUUID:   m.cfg.DeviceUUID,
		ServiceID:    serviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySubscription,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (m *Manager) logError(serviceID, context string, err error) {
	m.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ConnectionID,
		Layer:        log.LayerGENA,
		Category:     log.CategoryError,
		DeviceUUID:   m.cfg.DeviceUUID,
		ServiceID:    serviceID,
		Error: &log.ErrorEventData{
			Layer:   log.LayerGENA,
			Message: err.Error(),
			Context: context,
		},
	})
}

func durationPtr(d time.Duration) *time.Duration {
	if d == 0 {
		return nil
	}
	return &d
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
