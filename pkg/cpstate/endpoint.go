package cpstate

import (
	"fmt"
	"net"
	"net/netip"
)

// AddressFamily of an endpoint.
type AddressFamily uint8

const (
	FamilyIPv4 AddressFamily = 4
	FamilyIPv6 AddressFamily = 6
)

// String returns "IPv4" or "IPv6".
func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	default:
		return "UNKNOWN"
	}
}

// GENA multicast event addresses.
var (
	GENAMulticastV4 = netip.MustParseAddr("239.255.255.246")
	GENAMulticastV6 = netip.MustParseAddr("ff02::130")
)

// Endpoint is the configuration of one local network endpoint.
type Endpoint struct {
	// Interface is the network interface name.
	Interface string

	Address          netip.Addr
	Family           AddressFamily
	MulticastAddress netip.Addr
}

// NewEndpoint creates the configuration for a local address.
func NewEndpoint(iface string, addr netip.Addr) *Endpoint {
	addr = addr.Unmap()
	ep := &Endpoint{
		Interface:        iface,
		Address:          addr,
		Family:           FamilyIPv4,
		MulticastAddress: GENAMulticastV4,
	}
	if addr.Is6() {
		ep.Family = FamilyIPv6
		ep.MulticastAddress = GENAMulticastV6
	}
	return ep
}

// String returns "iface/address".
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s/%s", e.Interface, e.Address)
}

// LocalEndpoints enumerates the UPnP-capable local endpoints: addresses of
// interfaces that are up and multicast-capable, excluding loopback. IPv6
// endpoints are limited to link-local addresses unless includeGlobalV6 is
// set.
func LocalEndpoints(includeV6, includeGlobalV6 bool) ([]*Endpoint, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var endpoints []*Endpoint
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, err := netip.ParsePrefix(a.String())
			if err != nil {
				continue
			}
			addr := prefix.Addr().Unmap()
			switch {
			case addr.Is4():
				endpoints = append(endpoints, NewEndpoint(iface.Name, addr))
			case includeV6 && (addr.IsLinkLocalUnicast() || includeGlobalV6):
				endpoints = append(endpoints, NewEndpoint(iface.Name, addr.WithZone(iface.Name)))
			}
		}
	}
	return endpoints, nil
}
