// Package cpstate holds the state shared by all connections of a control
// point: the local endpoints, the known root devices and the ports of the
// event callback listener.
//
// State embeds the lock guarding it. Connections and subscription managers
// take the same lock when they read root descriptor data that discovery may
// update concurrently.
package cpstate

import (
	"sort"
	"sync"

	"github.com/upnpkit/upnpkit-go/pkg/description"
)

// State is the shared control point state.
type State struct {
	sync.RWMutex

	endpoints   []*Endpoint
	rootDevices map[string]*description.RootDescriptor
	httpPortV4  int
	httpPortV6  int
}

// New creates an empty state.
func New() *State {
	return &State{
		rootDevices: make(map[string]*description.RootDescriptor),
	}
}

// AddEndpoint registers a local endpoint. An endpoint with the same address
// is replaced.
func (s *State) AddEndpoint(ep *Endpoint) {
	s.Lock()
	defer s.Unlock()
	for i, e := range s.endpoints {
		if e.Address == ep.Address {
			s.endpoints[i] = ep
			return
		}
	}
	s.endpoints = append(s.endpoints, ep)
}

// RemoveEndpoint removes the endpoint with the given address.
func (s *State) RemoveEndpoint(ep *Endpoint) bool {
	s.Lock()
	defer s.Unlock()
	for i, e := range s.endpoints {
		if e.Address == ep.Address {
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			return true
		}
	}
	return false
}

// Endpoints returns a snapshot of the registered endpoints.
func (s *State) Endpoints() []*Endpoint {
	s.RLock()
	defer s.RUnlock()
	return append([]*Endpoint(nil), s.endpoints...)
}

// SetRootDescriptor registers or replaces a root device entry.
func (s *State) SetRootDescriptor(rd *description.RootDescriptor) {
	s.Lock()
	defer s.Unlock()
	s.rootDevices[rd.RootDeviceUUID] = rd
}

// RemoveRootDescriptor removes a root device entry.
func (s *State) RemoveRootDescriptor(rootDeviceUUID string) (*description.RootDescriptor, bool) {
	s.Lock()
	defer s.Unlock()
	rd, ok := s.rootDevices[rootDeviceUUID]
	delete(s.rootDevices, rootDeviceUUID)
	return rd, ok
}

// RootDescriptor returns the entry of a root device.
func (s *State) RootDescriptor(rootDeviceUUID string) (*description.RootDescriptor, bool) {
	s.RLock()
	defer s.RUnlock()
	rd, ok := s.rootDevices[rootDeviceUUID]
	return rd, ok
}

// FindRootDescriptor returns the root entry containing the device with the
// given UUID, which may be an embedded device.
func (s *State) FindRootDescriptor(deviceUUID string) (*description.RootDescriptor, bool) {
	s.RLock()
	defer s.RUnlock()
	if rd, ok := s.rootDevices[deviceUUID]; ok {
		return rd, true
	}
	for _, rd := range s.rootDevices {
		if _, ok := rd.ServiceDescriptors[deviceUUID]; ok {
			return rd, true
		}
	}
	return nil, false
}

// RootDescriptors returns all root entries ordered by UUID.
func (s *State) RootDescriptors() []*description.RootDescriptor {
	s.RLock()
	defer s.RUnlock()
	result := make([]*description.RootDescriptor, 0, len(s.rootDevices))
	for _, rd := range s.rootDevices {
		result = append(result, rd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RootDeviceUUID < result[j].RootDeviceUUID })
	return result
}

// SetHTTPPorts records the ports of the event callback listener. Zero means
// not listening on that address family.
func (s *State) SetHTTPPorts(v4, v6 int) {
	s.Lock()
	defer s.Unlock()
	s.httpPortV4 = v4
	s.httpPortV6 = v6
}

// HTTPPortV4 returns the IPv4 callback listener port.
func (s *State) HTTPPortV4() int {
	s.RLock()
	defer s.RUnlock()
	return s.httpPortV4
}

// HTTPPortV6 returns the IPv6 callback listener port.
func (s *State) HTTPPortV6() int {
	s.RLock()
	defer s.RUnlock()
	return s.httpPortV6
}
