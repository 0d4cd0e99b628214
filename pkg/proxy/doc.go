// Package proxy implements the in-process mirror of a remote UPnP device.
//
// A proxy tree is built once from a root descriptor and consists of a fixed
// set of node types:
//
//	Device          a (root or embedded) device with its services and embedded devices
//	Service         a service with its actions and state variables
//	Action          a remote action with input and output arguments
//	Argument        a formal action argument bound to its related state variable
//	StateVariable   a state variable, caching the last evented value
//
// The tree is never mutated after construction except for its connection.
// While a Connection is attached, actions can be invoked and services can be
// subscribed for events; after Disconnect every such call fails with
// ErrIllegalCall.
//
// Action results are delivered as a CallResult on a channel carrying exactly
// one value per call.
package proxy
