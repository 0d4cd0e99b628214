package gena

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpkit/upnpkit-go/internal/testharness/mock"
	"github.com/upnpkit/upnpkit-go/pkg/proxy"
)

const testSID = "uuid:sub-1"

// newNotifyManager returns a manager holding one subscription for the
// SwitchPower service, without any network.
func newNotifyManager(t *testing.T) (*Manager, *proxy.Service) {
	t.Helper()
	rd, err := mock.ParseRootDescriptor("http://127.0.0.1:1/device.xml", loopback)
	require.NoError(t, err)
	root, err := proxy.BuildDevice(rd, mock.RootUUID)
	require.NoError(t, err)
	svc, ok := root.FindService(mock.SwitchPowerURN)
	require.True(t, ok)
	sd, err := rd.ServiceDescriptor(mock.RootUUID, mock.SwitchPowerURN)
	require.NoError(t, err)

	m := NewManager(DefaultConfig())
	t.Cleanup(func() { m.Close(false) })
	sub := &subscription{
		Subscription: Subscription{Service: svc, SID: testSID},
		descriptor:   sd,
	}
	sub.granted(time.Now(), time.Hour, DefaultRenewalFraction)
	m.subs[svc] = sub
	m.bySID[testSID] = sub
	return m, svc
}

func notifyRequest(headers map[string]string, body string) *http.Request {
	r := httptest.NewRequest(MethodNotify, "/cb", strings.NewReader(body))
	r.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	r.Header.Set("NT", "upnp:event")
	r.Header.Set("NTS", "upnp:propchange")
	r.Header.Set("SID", testSID)
	r.Header.Set("SEQ", "0")
	for k, v := range headers {
		if v == "" {
			r.Header.Del(k)
		} else {
			r.Header.Set(k, v)
		}
	}
	return r
}

func statusValue(t *testing.T, svc *proxy.Service) (any, bool) {
	t.Helper()
	sv, ok := svc.StateVariable("Status")
	require.True(t, ok)
	return sv.Value()
}

func TestHandleNotifyStatusCodes(t *testing.T) {
	body := mock.PropertySet(map[string]string{"Status": "1"})
	tests := []struct {
		name    string
		headers map[string]string
		body    string
		want    int
		updated bool
	}{
		{"valid", nil, body, http.StatusOK, true},
		{"wrong NT", map[string]string{"NT": "upnp:other"}, body, http.StatusPreconditionFailed, false},
		{"missing NTS", map[string]string{"NTS": ""}, body, http.StatusPreconditionFailed, false},
		{"unknown SID", map[string]string{"SID": "uuid:other"}, body, http.StatusPreconditionFailed, false},
		{"missing SID", map[string]string{"SID": ""}, body, http.StatusPreconditionFailed, false},
		{"missing SEQ", map[string]string{"SEQ": ""}, body, http.StatusBadRequest, false},
		{"negative SEQ", map[string]string{"SEQ": "-1"}, body, http.StatusBadRequest, false},
		{"SEQ overflow", map[string]string{"SEQ": "4294967296"}, body, http.StatusBadRequest, false},
		{"wrong content type", map[string]string{"Content-Type": "application/json"}, body, http.StatusBadRequest, false},
		{"malformed body", nil, "<e:propertyset", http.StatusBadRequest, false},
		{"wrong root", nil, "<foo/>", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, svc := newNotifyManager(t)

			got := m.HandleNotify(notifyRequest(tt.headers, tt.body))

			assert.Equal(t, tt.want, got)
			v, ok := statusValue(t, svc)
			assert.Equal(t, tt.updated, ok)
			if tt.updated {
				assert.Equal(t, true, v)
			}
		})
	}
}

func TestHandleNotifyDropsOutOfOrder(t *testing.T) {
	m, svc := newNotifyManager(t)

	send := func(seq, value string) int {
		return m.HandleNotify(notifyRequest(map[string]string{"SEQ": seq}, mock.PropertySet(map[string]string{"Status": value})))
	}

	require.Equal(t, http.StatusOK, send("0", "0"))
	require.Equal(t, http.StatusOK, send("2", "1"))

	// An older key is acknowledged but not applied
	assert.Equal(t, http.StatusOK, send("1", "0"))
	v, _ := statusValue(t, svc)
	assert.Equal(t, true, v)

	// A duplicate is dropped too
	assert.Equal(t, http.StatusOK, send("2", "0"))
	v, _ = statusValue(t, svc)
	assert.Equal(t, true, v)
}

func TestHandleNotifyKeyWrap(t *testing.T) {
	m, svc := newNotifyManager(t)

	send := func(seq, value string) {
		status := m.HandleNotify(notifyRequest(map[string]string{"SEQ": seq}, mock.PropertySet(map[string]string{"Status": value})))
		require.Equal(t, http.StatusOK, status)
	}

	send("4294967295", "0")
	send("1", "1")

	v, _ := statusValue(t, svc)
	assert.Equal(t, true, v, "event after wrap should be applied")
}

func TestHandleNotifyIgnoresUnknownVariables(t *testing.T) {
	m, svc := newNotifyManager(t)

	status := m.HandleNotify(notifyRequest(nil, mock.PropertySet(map[string]string{
		"Status":  "1",
		"Unknown": "x",
	})))

	assert.Equal(t, http.StatusOK, status)
	v, ok := statusValue(t, svc)
	assert.True(t, ok)
	assert.Equal(t, true, v)
}

func TestHandleNotifyBuffersWhileSubscribing(t *testing.T) {
	m, _ := newNotifyManager(t)
	m.cfg.MaxBufferedNotifications = 2
	m.subscribing = 1
	early := map[string]string{"SID": "uuid:not-yet-known"}
	body := mock.PropertySet(map[string]string{"Status": "1"})

	assert.Equal(t, http.StatusOK, m.HandleNotify(notifyRequest(early, body)))
	assert.Equal(t, http.StatusOK, m.HandleNotify(notifyRequest(early, body)))
	assert.Equal(t, http.StatusPreconditionFailed, m.HandleNotify(notifyRequest(early, body)), "buffer is bounded")
	assert.Len(t, m.early, 2)

	m.mu.Lock()
	taken := m.takeEarlyLocked("uuid:not-yet-known")
	m.subscribing = 0
	m.dropEarlyLocked()
	m.mu.Unlock()
	assert.Len(t, taken, 2)
	assert.Empty(t, m.early)
}

func TestHandleNotifyQueuesDuringDelivery(t *testing.T) {
	m, svc := newNotifyManager(t)
	sub := m.bySID[testSID]
	sub.draining = true

	send := func(seq, value string) {
		status := m.HandleNotify(notifyRequest(map[string]string{"SEQ": seq}, mock.PropertySet(map[string]string{"Status": value})))
		require.Equal(t, http.StatusOK, status)
	}
	send("0", "1")
	send("1", "0")

	_, ok := statusValue(t, svc)
	assert.False(t, ok, "event applied while another delivery was running")
	assert.Len(t, sub.queue, 2)

	m.drain(sub)
	v, _ := statusValue(t, svc)
	assert.Equal(t, false, v)
	assert.Empty(t, sub.queue)
	assert.False(t, sub.draining)
}

func TestTakeEarlyOrdersByKey(t *testing.T) {
	m := NewManager(DefaultConfig())
	t.Cleanup(func() { m.Close(false) })
	m.early = []pendingNotify{
		{sid: "uuid:a", seq: 2},
		{sid: "uuid:b", seq: 0},
		{sid: "uuid:a", seq: 0},
		{sid: "uuid:a", seq: 1},
	}

	m.mu.Lock()
	taken := m.takeEarlyLocked("uuid:a")
	m.mu.Unlock()

	require.Len(t, taken, 3)
	for i, n := range taken {
		assert.Equal(t, uint32(i), n.seq)
	}
	assert.Equal(t, []pendingNotify{{sid: "uuid:b", seq: 0}}, m.early)
}

func TestParsePropertySet(t *testing.T) {
	body := `<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property><Status>1</Status></e:property>
  <e:property><LastChange>&lt;Event&gt;&lt;/Event&gt;</LastChange></e:property>
  <e:property><A>x</A><B></B></e:property>
</e:propertyset>`

	props, err := ParsePropertySet(strings.NewReader(body), "utf-8")

	require.NoError(t, err)
	assert.Equal(t, []Property{
		{Name: "Status", Value: "1"},
		{Name: "LastChange", Value: "<Event></Event>"},
		{Name: "A", Value: "x"},
		{Name: "B", Value: ""},
	}, props)
}

func TestParsePropertySetCharset(t *testing.T) {
	// "Küche" in ISO-8859-1
	body := "<e:propertyset xmlns:e=\"urn:schemas-upnp-org:event-1-0\"><e:property><Name>K\xfcche</Name></e:property></e:propertyset>"

	props, err := ParsePropertySet(strings.NewReader(body), "iso-8859-1")

	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Küche", props[0].Value)
}

func TestParsePropertySetErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"wrong root", "<root/>"},
		{"wrong namespace", `<e:propertyset xmlns:e="urn:other"/>`},
		{"truncated", `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"><e:property>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePropertySet(strings.NewReader(tt.body), "")
			assert.ErrorIs(t, err, ErrMalformedNotify)
		})
	}
}
