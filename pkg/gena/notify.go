package gena

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/metrics"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// EventNamespace is the namespace of GENA property sets.
const EventNamespace = "urn:schemas-upnp-org:event-1-0"

// maxNotifySize limits the body of a NOTIFY request.
const maxNotifySize = 1 << 20

// ErrMalformedNotify is returned for a NOTIFY body that is not a property set.
var ErrMalformedNotify = errors.New("malformed property set")

// Property is one evented state variable value.
type Property struct {
	Name  string
	Value string
}

// pendingNotify is a NOTIFY received before its SUBSCRIBE response.
type pendingNotify struct {
	sid   string
	seq   uint32
	props []Property
}

// HandleNotify processes a NOTIFY request and returns the HTTP status to
// answer it with:
//   - 412 for a wrong NT or NTS header or an unknown SID
//   - 400 for a missing or invalid SEQ, content type or body
//   - 200 otherwise, including notifications dropped as out of order
func (m *Manager) HandleNotify(r *http.Request) int {
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		return m.rejectNotify(http.StatusPreconditionFailed, "", "wrong NT or NTS")
	}
	sid := strings.TrimSpace(r.Header.Get("SID"))
	if sid == "" {
		return m.rejectNotify(http.StatusPreconditionFailed, "", "missing SID")
	}
	seq64, err := strconv.ParseUint(strings.TrimSpace(r.Header.Get("SEQ")), 10, 32)
	if err != nil {
		return m.rejectNotify(http.StatusBadRequest, sid, "invalid SEQ")
	}
	seq := uint32(seq64)
	charset, err := soap.CheckContentType(r.Header.Get("Content-Type"))
	if err != nil {
		return m.rejectNotify(http.StatusBadRequest, sid, err.Error())
	}
	props, err := ParsePropertySet(io.LimitReader(r.Body, maxNotifySize), charset)
	if err != nil {
		return m.rejectNotify(http.StatusBadRequest, sid, err.Error())
	}

	m.mu.Lock()
	if _, ok := m.bySID[sid]; !ok {
		if m.closed || m.subscribing == 0 || len(m.early) >= m.cfg.MaxBufferedNotifications {
			m.mu.Unlock()
			return m.rejectNotify(http.StatusPreconditionFailed, sid, "unknown SID")
		}
		m.early = append(m.early, pendingNotify{sid: sid, seq: seq, props: props})
		m.mu.Unlock()
		metrics.RecordNotification(metrics.NotifyBuffered)
		m.debugLog("notification buffered", "sid", sid, "seq", seq)
		return http.StatusOK
	}
	m.mu.Unlock()

	m.dispatch(sid, seq, props)
	return http.StatusOK
}

// dispatch checks the event key of a notification and queues it for
// delivery to the subscribed service.
func (m *Manager) dispatch(sid string, seq uint32, props []Property) {
	m.mu.Lock()
	sub, ok := m.bySID[sid]
	if !ok {
		m.mu.Unlock()
		return
	}
	if !m.acceptLocked(sub, pendingNotify{sid: sid, seq: seq, props: props}) || sub.draining {
		m.mu.Unlock()
		return
	}
	sub.draining = true
	m.mu.Unlock()
	m.drain(sub)
}

// acceptLocked queues n on sub if its event key is newer than the last one
// accepted.
func (m *Manager) acceptLocked(sub *subscription, n pendingNotify) bool {
	if !sub.key.accept(n.seq) {
		metrics.RecordNotification(metrics.NotifyDropped)
		m.debugLog("notification out of order", "sid", n.sid, "seq", n.seq, "last", sub.key.last)
		return false
	}
	sub.queue = append(sub.queue, n)
	return true
}

// drain delivers the queued notifications of sub in the order they were
// accepted. Only one goroutine drains a subscription at a time.
func (m *Manager) drain(sub *subscription) {
	for {
		m.mu.Lock()
		if len(sub.queue) == 0 {
			sub.draining = false
			m.mu.Unlock()
			return
		}
		n := sub.queue[0]
		sub.queue = sub.queue[1:]
		svc := sub.Service
		m.mu.Unlock()

		m.deliver(svc, n)
	}
}

// deliver updates the state variables of svc.
func (m *Manager) deliver(svc *proxy.Service, n pendingNotify) {
	metrics.RecordNotification(metrics.NotifyAccepted)
	vars := make(map[string]string, len(n.props))
	for _, p := range n.props {
		vars[p.Name] = p.Value
	}
	seq := n.seq
	m.logGENA(log.DirectionIn, svc.ServiceID, &log.GENAEvent{
		Method:    MethodNotify,
		SID:       n.sid,
		Seq:       &seq,
		Status:    http.StatusOK,
		Variables: vars,
	})

	for _, p := range n.props {
		m.safeCall("state variable changed handler", func() {
			if err := svc.UpdateStateVariable(p.Name, p.Value); err != nil {
				m.debugLog("ignoring evented value", "service", svc.ServiceID, "variable", p.Name, "error", err)
			}
		})
	}
}

// takeEarlyLocked removes and returns the buffered notifications for sid
// ordered by event key.
func (m *Manager) takeEarlyLocked(sid string) []pendingNotify {
	var taken []pendingNotify
	kept := m.early[:0]
	for _, n := range m.early {
		if n.sid == sid {
			taken = append(taken, n)
		} else {
			kept = append(kept, n)
		}
	}
	m.early = kept
	sort.SliceStable(taken, func(i, j int) bool { return taken[i].seq < taken[j].seq })
	return taken
}

// dropEarlyLocked discards buffered notifications once no SUBSCRIBE is
// outstanding; their SIDs will never become known.
func (m *Manager) dropEarlyLocked() {
	if m.subscribing == 0 && len(m.early) > 0 {
		m.debugLog("dropping buffered notifications", "count", len(m.early))
		m.early = nil
	}
}

func (m *Manager) rejectNotify(status int, sid, reason string) int {
	metrics.RecordNotification(metrics.NotifyRejected)
	m.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.cfg.ConnectionID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerGENA,
		Category:     log.CategoryMessage,
		DeviceUUID:   m.cfg.DeviceUUID,
		GENA:         &log.GENAEvent{Method: MethodNotify, SID: sid, Status: status},
	})
	m.debugLog("notification rejected", "sid", sid, "status", status, "reason", reason)
	return status
}

// ParsePropertySet parses the body of a NOTIFY request. contentCharset is
// the charset named by the Content-Type header, if any.
func ParsePropertySet(r io.Reader, contentCharset string) ([]Property, error) {
	dec, err := soap.NewDecoder(r, contentCharset)
	if err != nil {
		return nil, err
	}

	root, err := nextStart(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedNotify, err)
	}
	if root.Name.Local != "propertyset" || (root.Name.Space != "" && root.Name.Space != EventNamespace) {
		return nil, fmt.Errorf("%w: unexpected root element %q", ErrMalformedNotify, root.Name.Local)
	}

	var props []Property
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedNotify, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "property" {
				if err := dec.Skip(); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrMalformedNotify, err)
				}
				continue
			}
			p, err := readProperty(dec)
			if err != nil {
				return nil, err
			}
			props = append(props, p...)
		case xml.EndElement:
			return props, nil
		}
	}
}

// readProperty reads the variables inside one <property> element.
func readProperty(dec *xml.Decoder) ([]Property, error) {
	var props []Property
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedNotify, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := dec.DecodeElement(&value, &t); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformedNotify, err)
			}
			props = append(props, Property{Name: t.Name.Local, Value: value})
		case xml.EndElement:
			return props, nil
		}
	}
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
