package description

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDescriptionServer(t *testing.T, scpdStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/desc/device.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		_, _ = w.Write([]byte(testDeviceXML))
	})
	scpd := func(w http.ResponseWriter, r *http.Request) {
		if scpdStatus != http.StatusOK {
			w.WriteHeader(scpdStatus)
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(testSCPDXML))
	}
	mux.HandleFunc("/cd/scpd.xml", scpd)
	mux.HandleFunc("/desc/sp/scpd.xml", scpd)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newDescriptionServer(t, http.StatusOK)
	local := netip.MustParseAddr("127.0.0.1")

	rd, err := Fetch(context.Background(), srv.Client(), srv.URL+"/desc/device.xml", local)
	require.NoError(t, err)

	assert.Equal(t, StateReady, rd.State)
	assert.Equal(t, local, rd.PreferredLink.LocalAddress)
	for uuid, services := range rd.ServiceDescriptors {
		for urn, sd := range services {
			assert.Equal(t, StateReady, sd.State, "%s/%s", uuid, urn)
			require.NotNil(t, sd.SCPD, "%s/%s", uuid, urn)
			assert.Len(t, sd.SCPD.Actions, 2)
		}
	}
	assert.True(t, strings.HasPrefix(rd.ServiceDescriptors["embedded-0001"]["urn:schemas-upnp-org:service:SwitchPower:1"].ControlURL, srv.URL))
}

func TestFetchSCPDFailure(t *testing.T) {
	srv := newDescriptionServer(t, http.StatusNotFound)

	rd, err := Fetch(context.Background(), srv.Client(), srv.URL+"/desc/device.xml", netip.Addr{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	require.NotNil(t, rd)
	assert.Equal(t, StateErroneous, rd.State)
}

func TestFetchDescriptionFailure(t *testing.T) {
	srv := newDescriptionServer(t, http.StatusOK)

	rd, err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing.xml", netip.Addr{})
	assert.Nil(t, rd)
	assert.True(t, errors.Is(err, ErrFetchFailed))
}

func TestFetchCanceled(t *testing.T) {
	srv := newDescriptionServer(t, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Fetch(ctx, srv.Client(), srv.URL+"/desc/device.xml", netip.Addr{})
	assert.Error(t, err)
}
