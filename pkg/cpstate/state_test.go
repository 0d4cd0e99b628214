package cpstate

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upnpkit/upnpkit-go/pkg/description"
)

func TestEndpoints(t *testing.T) {
	s := New()

	v4 := NewEndpoint("eth0", netip.MustParseAddr("192.168.1.2"))
	v6 := NewEndpoint("eth0", netip.MustParseAddr("fe80::1"))
	s.AddEndpoint(v4)
	s.AddEndpoint(v6)

	assert.Equal(t, FamilyIPv4, v4.Family)
	assert.Equal(t, GENAMulticastV4, v4.MulticastAddress)
	assert.Equal(t, FamilyIPv6, v6.Family)
	assert.Equal(t, GENAMulticastV6, v6.MulticastAddress)
	assert.Equal(t, "eth0/192.168.1.2", v4.String())

	// Same address replaces
	s.AddEndpoint(NewEndpoint("eth1", netip.MustParseAddr("192.168.1.2")))
	eps := s.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "eth1", eps[0].Interface)

	assert.True(t, s.RemoveEndpoint(v6))
	assert.False(t, s.RemoveEndpoint(v6))
	assert.Len(t, s.Endpoints(), 1)
}

func TestNewEndpointUnmapsV4InV6(t *testing.T) {
	ep := NewEndpoint("eth0", netip.MustParseAddr("::ffff:10.0.0.1"))
	assert.Equal(t, FamilyIPv4, ep.Family)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), ep.Address)
}

func TestRootDescriptors(t *testing.T) {
	s := New()
	a := &description.RootDescriptor{
		RootDeviceUUID: "b",
		ServiceDescriptors: map[string]map[string]*description.ServiceDescriptor{
			"b":        {},
			"embedded": {},
		},
	}
	b := &description.RootDescriptor{RootDeviceUUID: "a"}
	s.SetRootDescriptor(a)
	s.SetRootDescriptor(b)

	rd, ok := s.RootDescriptor("b")
	require.True(t, ok)
	assert.Same(t, a, rd)

	rd, ok = s.FindRootDescriptor("embedded")
	require.True(t, ok)
	assert.Same(t, a, rd)

	_, ok = s.FindRootDescriptor("unknown")
	assert.False(t, ok)

	all := s.RootDescriptors()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].RootDeviceUUID)

	removed, ok := s.RemoveRootDescriptor("b")
	assert.True(t, ok)
	assert.Same(t, a, removed)
	_, ok = s.RootDescriptor("b")
	assert.False(t, ok)
}

func TestHTTPPorts(t *testing.T) {
	s := New()
	s.SetHTTPPorts(8080, 0)
	assert.Equal(t, 8080, s.HTTPPortV4())
	assert.Equal(t, 0, s.HTTPPortV6())
}

func TestStateConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.SetRootDescriptor(&description.RootDescriptor{RootDeviceUUID: string(rune('a' + i))})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.RootDescriptors()
			_ = s.HTTPPortV4()
		}()
	}
	wg.Wait()
	assert.Len(t, s.RootDescriptors(), 10)
}

func TestAddressFamilyString(t *testing.T) {
	assert.Equal(t, "IPv4", FamilyIPv4.String())
	assert.Equal(t, "IPv6", FamilyIPv6.String())
}

func TestLocalEndpoints(t *testing.T) {
	eps, err := LocalEndpoints(true, false)
	require.NoError(t, err)
	for _, ep := range eps {
		assert.False(t, ep.Address.IsLoopback(), "loopback endpoint %s", ep)
		if ep.Family == FamilyIPv6 {
			assert.True(t, ep.Address.IsLinkLocalUnicast(), "global IPv6 endpoint %s", ep)
		}
	}
}
