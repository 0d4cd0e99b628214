package proxy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/upnpkit/upnpkit-go/pkg/datatype"
	"github.com/upnpkit/upnpkit-go/pkg/description"
)

// StateVariableChangedFunc is called with the new value of an evented state
// variable.
type StateVariableChangedFunc func(sv *StateVariable, value any)

// SubscriptionFailedFunc is called when an event subscription was lost.
type SubscriptionFailedFunc func(s *Service, err error)

// Service is a proxy for a service of a remote device.
type Service struct {
	ServiceType           string
	ServiceTypeVersion    int
	ServiceTypeVersionURN string
	ServiceID             string

	device         *Device
	actions        map[string]*Action
	stateVariables map[string]*StateVariable

	mu                   sync.RWMutex
	onChanged            StateVariableChangedFunc
	onSubscriptionFailed SubscriptionFailedFunc
}

// Device returns the owning device.
func (s *Service) Device() *Device {
	return s.device
}

// Action returns the action with the given name.
func (s *Service) Action(name string) (*Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

// Actions returns all actions sorted by name.
func (s *Service) Actions() []*Action {
	actions := make([]*Action, 0, len(s.actions))
	for _, a := range s.actions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
	return actions
}

// StateVariable returns the state variable with the given name.
func (s *Service) StateVariable(name string) (*StateVariable, bool) {
	sv, ok := s.stateVariables[name]
	return sv, ok
}

// StateVariables returns all state variables sorted by name.
func (s *Service) StateVariables() []*StateVariable {
	svs := make([]*StateVariable, 0, len(s.stateVariables))
	for _, sv := range s.stateVariables {
		svs = append(svs, sv)
	}
	sort.Slice(svs, func(i, j int) bool { return svs[i].Name < svs[j].Name })
	return svs
}

// IsConnected reports whether the owning device is connected.
func (s *Service) IsConnected() bool {
	return s.device.IsConnected()
}

// HasEventedStateVariables reports whether any state variable is evented.
func (s *Service) HasEventedStateVariables() bool {
	for _, sv := range s.stateVariables {
		if sv.SendEvents {
			return true
		}
	}
	return false
}

// String returns the service ID.
func (s *Service) String() string {
	return s.ServiceID
}

// SubscribeEvents subscribes the service for state variable change events.
func (s *Service) SubscribeEvents(ctx context.Context) error {
	conn := s.device.Connection()
	if conn == nil {
		return IllegalCall("service %s is not connected to a UPnP network service", s.ServiceID)
	}
	return conn.SubscribeEvents(ctx, s)
}

// UnsubscribeEvents cancels the event subscription of the service.
func (s *Service) UnsubscribeEvents(ctx context.Context) error {
	conn := s.device.Connection()
	if conn == nil {
		return IllegalCall("service %s is not connected to a UPnP network service", s.ServiceID)
	}
	return conn.UnsubscribeEvents(ctx, s)
}

// IsSubscribed reports whether the service is currently subscribed.
func (s *Service) IsSubscribed() bool {
	conn := s.device.Connection()
	return conn != nil && conn.IsServiceSubscribedForEvents(s)
}

// OnStateVariableChanged sets the handler for state variable changes.
func (s *Service) OnStateVariableChanged(fn StateVariableChangedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChanged = fn
}

// OnEventSubscriptionFailed sets the handler for lost event subscriptions.
func (s *Service) OnEventSubscriptionFailed(fn SubscriptionFailedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubscriptionFailed = fn
}

// UpdateStateVariable parses an evented value, caches it and invokes the
// change handler.
func (s *Service) UpdateStateVariable(name, text string) error {
	sv, ok := s.stateVariables[name]
	if !ok {
		return fmt.Errorf("service %s has no state variable %q", s.ServiceID, name)
	}
	v, err := sv.Type.Parse(text)
	if err != nil {
		return fmt.Errorf("state variable %s: %w", name, err)
	}
	sv.setValue(v)

	s.mu.RLock()
	fn := s.onChanged
	s.mu.RUnlock()
	if fn != nil {
		fn(sv, v)
	}
	return nil
}

// FireEventSubscriptionFailed invokes the subscription failed handler.
func (s *Service) FireEventSubscriptionFailed(err error) {
	s.mu.RLock()
	fn := s.onSubscriptionFailed
	s.mu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}

// StateVariable is a proxy for a state variable.
type StateVariable struct {
	Name          string
	Type          datatype.Type
	SendEvents    bool
	Multicast     bool
	DefaultValue  any
	AllowedValues []string
	AllowedRange  *description.AllowedRange

	service *Service

	mu       sync.RWMutex
	value    any
	hasValue bool
}

// Service returns the owning service.
func (sv *StateVariable) Service() *Service {
	return sv.service
}

// Value returns the last evented value. Before the first event the default
// value is returned and ok is false.
func (sv *StateVariable) Value() (value any, ok bool) {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	if !sv.hasValue {
		return sv.DefaultValue, false
	}
	return sv.value, true
}

func (sv *StateVariable) setValue(v any) {
	sv.mu.Lock()
	sv.value = v
	sv.hasValue = true
	sv.mu.Unlock()
}
