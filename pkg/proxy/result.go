package proxy

import (
	"context"
	"errors"
	"fmt"

	"github.com/upnpkit/upnpkit-go/pkg/soap"
)

// ErrIllegalCall is returned when an operation is invoked on a disconnected
// or otherwise unsuitable proxy object.
var ErrIllegalCall = errors.New("illegal call")

// IllegalCall returns an ErrIllegalCall with a message naming the object.
func IllegalCall(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalCall, fmt.Sprintf(format, args...))
}

// Outcome is the terminal state of an action call.
type Outcome uint8

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeFaulted
	OutcomeNetworkError
	OutcomeTimedOut
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "COMPLETED"
	case OutcomeFaulted:
		return "FAULTED"
	case OutcomeNetworkError:
		return "NETWORK_ERROR"
	case OutcomeTimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// CallResult is the outcome of one action call.
type CallResult struct {
	Action      *Action
	ClientState any
	Outcome     Outcome

	// OutParams holds the decoded output arguments of a completed call.
	OutParams []any

	// Fault is set for faulted calls.
	Fault *soap.Fault

	// Err describes why the call did not complete. For faulted calls it is
	// the fault itself.
	Err error
}

// Connection is the live connection behind a proxy device tree.
type Connection interface {
	InvokeAction(ctx context.Context, action *Action, in []any, clientState any) (<-chan CallResult, error)
	SubscribeEvents(ctx context.Context, service *Service) error
	UnsubscribeEvents(ctx context.Context, service *Service) error
	IsServiceSubscribedForEvents(service *Service) bool
}
