// Package mock provides a fake UPnP device for testing control point code.
//
// The device is served by an httptest.Server and implements the description,
// SOAP control and GENA eventing endpoints of the fixtures in this package.
package mock

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// Request is a request received by the device.
type Request struct {
	Method     string
	Path       string
	SOAPAction string
	SID        string
	Callback   string
	Timeout    string
	Time       time.Time
}

// Subscriber is an event subscriber registered at the device.
type Subscriber struct {
	SID      string
	Service  string
	Callback string
	Seq      uint32
	Timeout  int
}

// ControlHook is called for every action request. Returning true means
// the request was answered.
type ControlHook func(action string, w http.ResponseWriter, r *http.Request) bool

// SubscribeHook is called for every SUBSCRIBE request, initial and renewal.
// Returning true means the request was answered.
type SubscribeHook func(w http.ResponseWriter, r *http.Request) bool

// Device is a fake UPnP device.
type Device struct {
	server *httptest.Server
	client *http.Client

	mu             sync.RWMutex
	grantedTimeout int
	initialEvent   bool
	onControl      ControlHook
	onSubscribe    SubscribeHook
	onUnsubscribe  SubscribeHook
	target         bool
	status         bool
	loadLevel      uint8
	subscribers    map[string]*Subscriber
	requests       []Request
	bootID         uint32
}

// NewDevice starts a fake device.
func NewDevice() *Device {
	d := &Device{
		grantedTimeout: 1800,
		initialEvent:   true,
		subscribers:    make(map[string]*Subscriber),
		bootID:         1,
		client:         &http.Client{Timeout: 5 * time.Second},
	}
	d.server = httptest.NewServer(http.HandlerFunc(d.serveHTTP))
	return d
}

// Close shuts the device down.
func (d *Device) Close() {
	d.server.CloseClientConnections()
	d.server.Close()
	d.client.CloseIdleConnections()
}

// SetGrantedTimeout sets the subscription duration in seconds granted to
// subscribers. The default is 1800.
func (d *Device) SetGrantedTimeout(seconds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grantedTimeout = seconds
}

// SetInitialEvent enables or disables the initial NOTIFY sent after each new
// subscription.
func (d *Device) SetInitialEvent(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialEvent = enabled
}

// OnControl installs a hook for action requests; nil removes it.
func (d *Device) OnControl(fn ControlHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onControl = fn
}

// OnSubscribe installs a hook for SUBSCRIBE requests; nil removes it.
func (d *Device) OnSubscribe(fn SubscribeHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSubscribe = fn
}

// OnUnsubscribe installs a hook for UNSUBSCRIBE requests; nil removes it.
func (d *Device) OnUnsubscribe(fn SubscribeHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUnsubscribe = fn
}

// URL returns the base URL of the device.
func (d *Device) URL() string {
	return d.server.URL
}

// Location returns the description URL.
func (d *Device) Location() string {
	return d.server.URL + "/device.xml"
}

// Client returns an HTTP client for the device.
func (d *Device) Client() *http.Client {
	return d.server.Client()
}

// BootID returns the current boot ID.
func (d *Device) BootID() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bootID
}

// Reboot forgets all subscriptions and increments the boot ID.
func (d *Device) Reboot() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = make(map[string]*Subscriber)
	d.bootID++
	return d.bootID
}

// Requests returns a copy of all received requests.
func (d *Device) Requests() []Request {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Request(nil), d.requests...)
}

// CountRequests counts received requests with the given method and path.
func (d *Device) CountRequests(method, path string) int {
	n := 0
	for _, r := range d.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Subscribers returns a copy of the active subscribers.
func (d *Device) Subscribers() []Subscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := make([]Subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		subs = append(subs, *s)
	}
	return subs
}

// Subscriber returns the active subscriber of a service path such as
// "/SwitchPower".
func (d *Device) Subscriber(service string) (Subscriber, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subscribers {
		if s.Service == service {
			return *s, true
		}
	}
	return Subscriber{}, false
}

func (d *Device) serveHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		SOAPAction: r.Header.Get(soap.HeaderSOAPAction),
		SID:        r.Header.Get("SID"),
		Callback:   r.Header.Get("CALLBACK"),
		Timeout:    r.Header.Get("TIMEOUT"),
		Time:       time.Now(),
	})
	d.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/device.xml":
		writeXML(w, http.StatusOK, DeviceXML)
	case strings.HasSuffix(path, "/scpd.xml"):
		d.serveSCPD(w, strings.TrimSuffix(path, "/scpd.xml"))
	case strings.HasSuffix(path, "/control"):
		d.serveControl(w, r)
	case strings.HasSuffix(path, "/event"):
		d.serveEvent(w, r, strings.TrimSuffix(path, "/event"))
	default:
		http.NotFound(w, r)
	}
}

func (d *Device) serveSCPD(w http.ResponseWriter, service string) {
	switch {
	case strings.HasSuffix(service, "/SwitchPower"):
		writeXML(w, http.StatusOK, SwitchPowerSCPD)
	case strings.HasSuffix(service, "/Dimming"):
		writeXML(w, http.StatusOK, DimmingSCPD)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", soap.ContentType)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// WriteResponse writes an action response envelope with the given output
// arguments in order.
func WriteResponse(w http.ResponseWriter, serviceURN, action string, out ...string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="` + soap.EnvelopeNamespace + `" s:encodingStyle="` + soap.EncodingStyle + `"><s:Body>`)
	buf.WriteString(`<u:` + action + `Response xmlns:u="` + serviceURN + `">`)
	for i := 0; i+1 < len(out); i += 2 {
		buf.WriteString("<" + out[i] + ">")
		_ = xml.EscapeText(&buf, []byte(out[i+1]))
		buf.WriteString("</" + out[i] + ">")
	}
	buf.WriteString(`</u:` + action + `Response></s:Body></s:Envelope>`)
	writeXML(w, http.StatusOK, buf.String())
}

// WriteFault writes a 500 response with a UPnPError fault.
func WriteFault(w http.ResponseWriter, code int, description string) {
	body := `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope xmlns:s="` + soap.EnvelopeNamespace + `" s:encodingStyle="` + soap.EncodingStyle + `"><s:Body>` +
		`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail>` +
		`<UPnPError xmlns="` + soap.ControlNamespace + `"><errorCode>` + strconv.Itoa(code) + `</errorCode>` +
		`<errorDescription>` + description + `</errorDescription></UPnPError>` +
		`</detail></s:Fault></s:Body></s:Envelope>`
	writeXML(w, http.StatusInternalServerError, body)
}

func (d *Device) serveControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	header := strings.Trim(r.Header.Get(soap.HeaderSOAPAction), `"`)
	urn, action, ok := strings.Cut(header, "#")
	if !ok {
		WriteFault(w, 401, "Invalid Action")
		return
	}
	d.mu.RLock()
	hook := d.onControl
	d.mu.RUnlock()
	if hook != nil && hook(action, w, r) {
		return
	}

	args, err := readArguments(r.Body)
	if err != nil {
		WriteFault(w, 402, "Invalid Args")
		return
	}

	switch action {
	case "SetTarget":
		v, ok := parseBool(args["newTargetValue"])
		if !ok {
			WriteFault(w, 402, "Invalid Args")
			return
		}
		d.mu.Lock()
		d.target, d.status = v, v
		d.mu.Unlock()
		WriteResponse(w, urn, action)
		go func() { _ = d.Notify(servicePrefix(r.URL.Path), map[string]string{"Status": formatBool(v)}) }()
	case "GetTarget":
		d.mu.RLock()
		v := d.target
		d.mu.RUnlock()
		WriteResponse(w, urn, action, "RetTargetValue", formatBool(v))
	case "GetStatus":
		d.mu.RLock()
		v := d.status
		d.mu.RUnlock()
		WriteResponse(w, urn, action, "ResultStatus", formatBool(v))
	case "SetLoadLevelTarget":
		n, err := strconv.ParseUint(args["newLoadlevelTarget"], 10, 8)
		if err != nil || n > 100 {
			WriteFault(w, 402, "Invalid Args")
			return
		}
		d.mu.Lock()
		d.loadLevel = uint8(n)
		d.mu.Unlock()
		WriteResponse(w, urn, action)
		go func() {
			_ = d.Notify(servicePrefix(r.URL.Path), map[string]string{"LoadLevelStatus": strconv.FormatUint(n, 10)})
		}()
	case "GetLoadLevelStatus":
		d.mu.RLock()
		v := d.loadLevel
		d.mu.RUnlock()
		WriteResponse(w, urn, action, "retLoadlevelStatus", strconv.Itoa(int(v)))
	default:
		WriteFault(w, 401, "Invalid Action")
	}
}

func servicePrefix(path string) string {
	return path[:strings.LastIndexByte(path, '/')]
}

// readArguments returns the children of the action element by name.
func readArguments(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	args := make(map[string]string)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return args, nil
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 4 {
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return nil, err
				}
				args[t.Name.Local] = text
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Device) serveEvent(w http.ResponseWriter, r *http.Request, service string) {
	switch r.Method {
	case "SUBSCRIBE":
		d.mu.RLock()
		hook := d.onSubscribe
		d.mu.RUnlock()
		if hook != nil && hook(w, r) {
			return
		}
		if sid := r.Header.Get("SID"); sid != "" {
			d.renew(w, r, sid)
			return
		}
		d.subscribe(w, r, service)
	case "UNSUBSCRIBE":
		d.mu.RLock()
		hook := d.onUnsubscribe
		d.mu.RUnlock()
		if hook != nil && hook(w, r) {
			return
		}
		sid := r.Header.Get("SID")
		d.mu.Lock()
		_, ok := d.subscribers[sid]
		delete(d.subscribers, sid)
		d.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *Device) subscribe(w http.ResponseWriter, r *http.Request, service string) {
	callback := strings.TrimSpace(r.Header.Get("CALLBACK"))
	if r.Header.Get("NT") != "upnp:event" || !strings.HasPrefix(callback, "<") || !strings.HasSuffix(callback, ">") {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	d.mu.Lock()
	sub := &Subscriber{
		SID:      "uuid:" + uuid.NewString(),
		Service:  service,
		Callback: strings.Trim(callback, "<>"),
		Timeout:  d.grantedTimeout,
	}
	d.subscribers[sub.SID] = sub
	initialEvent := d.initialEvent
	d.mu.Unlock()

	d.writeSubscribed(w, sub.SID)

	if initialEvent {
		vars := d.initialState(service)
		go func() { _, _ = d.SendNotify(sub.SID, 0, vars) }()
	}
}

func (d *Device) renew(w http.ResponseWriter, r *http.Request, sid string) {
	if r.Header.Get("CALLBACK") != "" || r.Header.Get("NT") != "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	d.mu.RLock()
	_, ok := d.subscribers[sid]
	d.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	d.writeSubscribed(w, sid)
}

func (d *Device) writeSubscribed(w http.ResponseWriter, sid string) {
	w.Header().Set("DATE", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("SERVER", "Linux/6.0 UPnP/1.1 upnpkit-mock/1.0")
	w.Header().Set("SID", sid)
	d.mu.RLock()
	timeout := d.grantedTimeout
	d.mu.RUnlock()
	w.Header().Set("TIMEOUT", "Second-"+strconv.Itoa(timeout))
	w.WriteHeader(http.StatusOK)
}

func (d *Device) initialState(service string) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if strings.HasSuffix(service, "/Dimming") {
		return map[string]string{"LoadLevelStatus": strconv.Itoa(int(d.loadLevel))}
	}
	return map[string]string{"Status": formatBool(d.status)}
}

// Notify sends an event with the given variables to every subscriber of a
// service path such as "/SwitchPower".
func (d *Device) Notify(service string, vars map[string]string) error {
	type target struct {
		sid string
		seq uint32
	}
	var targets []target
	d.mu.Lock()
	for _, s := range d.subscribers {
		if s.Service != service {
			continue
		}
		// Event keys wrap to 1, never 0
		if s.Seq == ^uint32(0) {
			s.Seq = 1
		} else {
			s.Seq++
		}
		targets = append(targets, target{sid: s.SID, seq: s.Seq})
	}
	d.mu.Unlock()

	for _, t := range targets {
		status, err := d.SendNotify(t.sid, t.seq, vars)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("NOTIFY %s returned %d", t.sid, status)
		}
	}
	return nil
}

// SendNotify sends a single NOTIFY with an explicit event key to the
// subscriber's callback and returns the response status.
func (d *Device) SendNotify(sid string, seq uint32, vars map[string]string) (int, error) {
	d.mu.RLock()
	sub, ok := d.subscribers[sid]
	var callback string
	if ok {
		callback = sub.Callback
	}
	d.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubscriber, sid)
	}
	return d.SendRawNotify(callback, map[string]string{
		"NT":  "upnp:event",
		"NTS": "upnp:propchange",
		"SID": sid,
		"SEQ": strconv.FormatUint(uint64(seq), 10),
	}, PropertySet(vars))
}

// SendRawNotify sends a NOTIFY with arbitrary headers and body.
func (d *Device) SendRawNotify(callback string, headers map[string]string, body string) (int, error) {
	req, err := http.NewRequest("NOTIFY", callback, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", soap.ContentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// PropertySet renders a GENA property set.
func PropertySet(vars map[string]string) string {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?><e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, value := range vars {
		buf.WriteString("<e:property><" + name + ">")
		_ = xml.EscapeText(&buf, []byte(value))
		buf.WriteString("</" + name + "></e:property>")
	}
	buf.WriteString(`</e:propertyset>`)
	return buf.String()
}
