package mock

import "errors"

// Mock package errors.
var (
	// ErrUnknownSubscriber is returned when notifying an unknown SID.
	ErrUnknownSubscriber = errors.New("unknown subscriber")

	// ErrTimeout is returned when an expected event does not arrive.
	ErrTimeout = errors.New("timed out waiting for event")
)
