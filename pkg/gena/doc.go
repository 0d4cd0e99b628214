// Package gena implements the client side of UPnP eventing (GENA).
//
// A Manager holds the event subscriptions of one device connection. It
// sends SUBSCRIBE, renewal and UNSUBSCRIBE requests to the services' event
// URLs, renews every subscription before it expires, and turns inbound
// NOTIFY requests into state variable updates on the proxy tree.
//
// A Listener is the HTTP server receiving NOTIFY requests for all managers
// of a control point. Each manager registers a callback path of its own:
//
//	listener := gena.NewListener(gena.DefaultListenerConfig())
//	if err := listener.Start(ctx); err != nil {
//	    return err
//	}
//
//	cfg := gena.DefaultConfig()
//	cfg.Listener = listener
//	cfg.State = state
//	m := gena.NewManager(cfg)
//	m.Start()
//	defer m.Close(true)
//
//	err := m.Subscribe(ctx, service, descriptor)
//
// # Event Keys
//
// Every NOTIFY carries an event key (SEQ). Keys start at 0 with the initial
// event and wrap from 4294967295 to 1. Notifications with a key not newer
// than the last accepted one are acknowledged but dropped.
package gena
