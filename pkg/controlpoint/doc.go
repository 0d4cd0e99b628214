// Package controlpoint connects to UPnP devices found by discovery.
//
// A DeviceConnection binds the proxy tree of one device to the network: it
// performs action calls over SOAP and manages the device's GENA event
// subscriptions. A ControlPoint owns the state shared by all connections,
// including the event callback listener, and is the entry point for
// discovery notifications.
//
// # Usage
//
//	cp := controlpoint.New(controlpoint.DefaultConfig())
//	if err := cp.Start(ctx); err != nil {
//	    return err
//	}
//	defer cp.Stop()
//
//	rd, err := description.Fetch(ctx, http.DefaultClient, location, localAddr)
//	if err != nil {
//	    return err
//	}
//	conn, err := cp.Connect(rd, rd.RootDeviceUUID)
//	if err != nil {
//	    return err
//	}
//	svc, _ := conn.Device().FindService("urn:schemas-upnp-org:service:SwitchPower:1")
//	svc.OnStateVariableChanged(func(sv *proxy.StateVariable, v any) { ... })
//	if err := svc.SubscribeEvents(ctx); err != nil {
//	    return err
//	}
//	action, _ := svc.Action("SetTarget")
//	_, err = action.Invoke(ctx, true)
//
// # Action Calls
//
// Every call resolves to exactly one of COMPLETED, FAULTED, NETWORK_ERROR
// or TIMED_OUT. Calls are bounded by Config.ActionTimeout and by
// Config.MaxPendingCalls concurrently running requests per connection.
// Disconnect aborts pending calls and returns once all of them resolved.
package controlpoint
