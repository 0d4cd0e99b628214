package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the device connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer URL or address.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceUUID is the UUID of the connected device.
	DeviceUUID string `cbor:"7,keyasint,omitempty"`

	// ServiceID is the service the event relates to.
	ServiceID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Action      *ActionEvent      `cbor:"10,keyasint,omitempty"` // SOAP layer
	GENA        *GENAEvent        `cbor:"11,keyasint,omitempty"` // GENA layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/subscription state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerSOAP is the action control layer.
	LayerSOAP Layer = 0
	// LayerGENA is the eventing layer.
	LayerGENA Layer = 1
	// LayerConnection is the device connection layer.
	LayerConnection Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSOAP:
		return "SOAP"
	case LayerGENA:
		return "GENA"
	case LayerConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response/notification).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageType distinguishes request/response/notification.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
	// MessageTypeNotification indicates a notification message.
	MessageTypeNotification MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// ActionEvent captures an action call at the SOAP layer.
type ActionEvent struct {
	// Type is REQUEST for the outgoing call, RESPONSE for its outcome.
	Type MessageType `cbor:"1,keyasint"`

	// CallID correlates request and response of one call.
	CallID uint64 `cbor:"2,keyasint"`

	// Action is the fully qualified action name (urn#name).
	Action string `cbor:"3,keyasint"`

	// Arguments are the wire values of input (request) or output
	// (response) arguments.
	Arguments []string `cbor:"4,keyasint,omitempty"`

	// Outcome is the terminal outcome of the call (response only).
	Outcome string `cbor:"5,keyasint,omitempty"`

	// HTTPStatus is the response status (response only).
	HTTPStatus int `cbor:"6,keyasint,omitempty"`

	// FaultCode is the UPnP error code of a faulted call.
	FaultCode *int `cbor:"7,keyasint,omitempty"`

	// Duration is the time from dispatch to outcome (response only).
	// Stored as nanoseconds.
	Duration *time.Duration `cbor:"8,keyasint,omitempty"`
}

// GENAEvent captures a GENA request or notification.
type GENAEvent struct {
	// Method is SUBSCRIBE, RENEW, UNSUBSCRIBE or NOTIFY.
	Method string `cbor:"1,keyasint"`

	// SID is the subscription identifier.
	SID string `cbor:"2,keyasint,omitempty"`

	// Seq is the event key of a NOTIFY.
	Seq *uint32 `cbor:"3,keyasint,omitempty"`

	// Timeout is the requested or granted subscription duration.
	Timeout *time.Duration `cbor:"4,keyasint,omitempty"`

	// Status is the HTTP status of the exchange.
	Status int `cbor:"5,keyasint,omitempty"`

	// Variables holds the evented state variables of a NOTIFY.
	Variables map[string]string `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures connection, subscription and call lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a device connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates an event subscription state change.
	StateEntitySubscription StateEntity = 1
	// StateEntityCall indicates an action call state change.
	StateEntityCall StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityCall:
		return "CALL"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
