// Package description models UPnP device and service descriptions as seen by
// a control point.
//
// A RootDescriptor bundles the parsed device description document of one root
// device with the metadata collected during discovery: the description
// location, the local address the device was seen on, the BOOTID/CONFIGID
// announced over SSDP and the description state. Service descriptors are kept
// in a map keyed by device UUID and service type/version URN so that a
// connection to an embedded device can find its services without walking the
// whole tree.
//
// Fetch retrieves a description and all referenced SCPD documents over HTTP.
// The parse functions accept any charset the document declares.
package description
