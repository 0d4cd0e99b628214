package proxy

import (
	"context"

	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// Argument is a formal argument of an action.
type Argument struct {
	Name                 string
	IsReturnValue        bool
	RelatedStateVariable *StateVariable
}

// Action is a proxy for a remote action.
type Action struct {
	Name         string
	InArguments  []*Argument
	OutArguments []*Argument

	service *Service
}

// Service returns the owning service.
func (a *Action) Service() *Service {
	return a.service
}

// IsConnected reports whether the action can be invoked.
func (a *Action) IsConnected() bool {
	return a.service.IsConnected()
}

// FullQualifiedName returns "<serviceTypeVersionURN>#<name>", the value of
// the SOAPACTION header without quotes.
func (a *Action) FullQualifiedName() string {
	return a.service.ServiceTypeVersionURN + "#" + a.Name
}

// SOAPInArguments returns the input arguments as codec arguments.
func (a *Action) SOAPInArguments() []soap.Argument {
	return soapArguments(a.InArguments)
}

// SOAPOutArguments returns the output arguments as codec arguments.
func (a *Action) SOAPOutArguments() []soap.Argument {
	return soapArguments(a.OutArguments)
}

func soapArguments(args []*Argument) []soap.Argument {
	out := make([]soap.Argument, len(args))
	for i, arg := range args {
		out[i] = soap.Argument{Name: arg.Name, Type: arg.RelatedStateVariable.Type}
	}
	return out
}

// InvokeAsync invokes the action. The returned channel delivers exactly one
// result.
func (a *Action) InvokeAsync(ctx context.Context, in []any, clientState any) (<-chan CallResult, error) {
	conn := a.service.device.Connection()
	if conn == nil {
		return nil, IllegalCall("action %s is not connected to a UPnP network action", a.FullQualifiedName())
	}
	return conn.InvokeAction(ctx, a, in, clientState)
}

// Invoke invokes the action and waits for its result. Faulted calls return a
// *soap.Fault error.
func (a *Action) Invoke(ctx context.Context, in ...any) ([]any, error) {
	ch, err := a.InvokeAsync(ctx, in, nil)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		if res.Outcome != OutcomeCompleted {
			return nil, res.Err
		}
		return res.OutParams, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
