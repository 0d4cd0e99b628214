package proxy

import (
	"sync"
)

// Device is a proxy for a root or embedded device.
type Device struct {
	UUID              string
	DeviceType        string
	DeviceTypeVersion int
	FriendlyName      string
	Manufacturer      string
	ModelName         string
	ModelNumber       string
	SerialNumber      string

	parent   *Device
	services []*Service
	devices  []*Device

	mu   sync.RWMutex
	conn Connection
}

// Parent returns the enclosing device, nil for the device a connection was
// built for.
func (d *Device) Parent() *Device {
	return d.parent
}

// Root returns the top of this proxy tree.
func (d *Device) Root() *Device {
	for d.parent != nil {
		d = d.parent
	}
	return d
}

// Services returns the services of this device.
func (d *Device) Services() []*Service {
	return append([]*Service(nil), d.services...)
}

// Devices returns the embedded devices.
func (d *Device) Devices() []*Device {
	return append([]*Device(nil), d.devices...)
}

// FindService returns the service with the given type/version URN.
func (d *Device) FindService(serviceTypeVersionURN string) (*Service, bool) {
	for _, s := range d.services {
		if s.ServiceTypeVersionURN == serviceTypeVersionURN {
			return s, true
		}
	}
	return nil, false
}

// FindServiceByID returns the service with the given service ID.
func (d *Device) FindServiceByID(serviceID string) (*Service, bool) {
	for _, s := range d.services {
		if s.ServiceID == serviceID {
			return s, true
		}
	}
	return nil, false
}

// Walk calls fn for d and every embedded device.
func (d *Device) Walk(fn func(*Device)) {
	fn(d)
	for _, e := range d.devices {
		e.Walk(fn)
	}
}

// Connection returns the attached connection, nil when disconnected.
func (d *Device) Connection() Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// IsConnected reports whether a connection is attached.
func (d *Device) IsConnected() bool {
	return d.Connection() != nil
}

// Connect attaches conn to this device and all embedded devices.
func (d *Device) Connect(conn Connection) {
	d.Walk(func(dev *Device) {
		dev.mu.Lock()
		dev.conn = conn
		dev.mu.Unlock()
	})
}

// Disconnect detaches the connection from this device and all embedded
// devices.
func (d *Device) Disconnect() {
	d.Connect(nil)
}
