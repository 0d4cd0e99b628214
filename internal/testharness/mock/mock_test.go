package mock_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/upnpkit/upnpkit-go/internal/testharness/mock"
	"github.com/upnpkit/upnpkit-go/pkg/description"
	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

func TestParseRootDescriptor(t *testing.T) {
	rd, err := mock.ParseRootDescriptor("http://192.0.2.1/device.xml", netip.MustParseAddr("192.0.2.2"))
	if err != nil {
		t.Fatalf("ParseRootDescriptor() error = %v", err)
	}
	if rd.State != description.StateReady {
		t.Errorf("State = %v, want READY", rd.State)
	}
	if rd.RootDeviceUUID != mock.RootUUID {
		t.Errorf("RootDeviceUUID = %s, want %s", rd.RootDeviceUUID, mock.RootUUID)
	}
	sd, err := rd.ServiceDescriptor(mock.LightUUID, mock.SwitchPowerURN)
	if err != nil {
		t.Fatalf("ServiceDescriptor() error = %v", err)
	}
	if sd.SCPD == nil || len(sd.SCPD.Actions) != 3 {
		t.Error("SwitchPower SCPD not attached")
	}
}

func TestDeviceServesDescription(t *testing.T) {
	dev := mock.NewDevice()
	defer dev.Close()

	resp, err := dev.Client().Get(dev.Location())
	if err != nil {
		t.Fatalf("GET description error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), mock.RootUUID) {
		t.Error("description does not contain the root UUID")
	}
}

func TestDeviceControl(t *testing.T) {
	dev := mock.NewDevice()
	defer dev.Close()

	call := func(action, body string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, dev.URL()+"/SwitchPower/control", strings.NewReader(body))
		req.Header.Set("Content-Type", soap.ContentType)
		req.Header.Set(soap.HeaderSOAPAction, soap.ActionHeader(mock.SwitchPowerURN, action))
		resp, err := dev.Client().Do(req)
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		return resp
	}

	resp := call("SetTarget", `<s:Envelope><s:Body><u:SetTarget><newTargetValue>1</newTargetValue></u:SetTarget></s:Body></s:Envelope>`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("SetTarget status = %d", resp.StatusCode)
	}

	resp = call("GetTarget", `<s:Envelope><s:Body><u:GetTarget/></s:Body></s:Envelope>`)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "<RetTargetValue>1</RetTargetValue>") {
		t.Errorf("GetTarget body = %s", body)
	}

	resp = call("Explode", `<s:Envelope><s:Body><u:Explode/></s:Body></s:Envelope>`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("unknown action status = %d, want 500", resp.StatusCode)
	}
}

func TestDeviceSubscribeAndNotify(t *testing.T) {
	dev := mock.NewDevice()
	dev.SetInitialEvent(false)
	defer dev.Close()

	got := make(chan *http.Request, 1)
	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		got <- r
	}))
	defer cb.Close()

	req, _ := http.NewRequest("SUBSCRIBE", dev.URL()+"/SwitchPower/event", nil)
	req.Header.Set("CALLBACK", "<"+cb.URL+"/cb>")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", "Second-1800")
	resp, err := dev.Client().Do(req)
	if err != nil {
		t.Fatalf("SUBSCRIBE error = %v", err)
	}
	resp.Body.Close()

	sid := resp.Header.Get("SID")
	if !strings.HasPrefix(sid, "uuid:") {
		t.Fatalf("SID = %q", sid)
	}
	if resp.Header.Get("TIMEOUT") != "Second-1800" {
		t.Errorf("TIMEOUT = %q", resp.Header.Get("TIMEOUT"))
	}

	if err := dev.Notify("/SwitchPower", map[string]string{"Status": "1"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	r := <-got
	if r.Method != "NOTIFY" || r.Header.Get("SID") != sid || r.Header.Get("SEQ") != "1" {
		t.Errorf("NOTIFY method=%s sid=%s seq=%s", r.Method, r.Header.Get("SID"), r.Header.Get("SEQ"))
	}

	dev.Reboot()
	if len(dev.Subscribers()) != 0 {
		t.Error("Reboot() should forget subscribers")
	}
	if dev.BootID() != 2 {
		t.Errorf("BootID() = %d, want 2", dev.BootID())
	}
}
