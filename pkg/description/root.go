package description

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Lookup errors.
var (
	ErrDeviceNotFound  = errors.New("device not found in root descriptor")
	ErrServiceNotFound = errors.New("service not found in root descriptor")
)

// State is the lifecycle state of a RootDescriptor.
type State uint8

const (
	StateAwaitingDeviceDescription State = iota
	StateAwaitingServiceDescriptions
	StateReady
	StateErroneous
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingDeviceDescription:
		return "AWAITING_DEVICE_DESCRIPTION"
	case StateAwaitingServiceDescriptions:
		return "AWAITING_SERVICE_DESCRIPTIONS"
	case StateReady:
		return "READY"
	case StateErroneous:
		return "ERRONEOUS"
	default:
		return "UNKNOWN"
	}
}

// Link is the network link a root device was discovered on.
type Link struct {
	// DescriptionLocation is the LOCATION URL of the device description.
	DescriptionLocation string

	// LocalAddress is the local endpoint address the device is reachable
	// from. Event callback URLs use this address.
	LocalAddress netip.Addr
}

// ServiceDescriptor describes one service of one device.
type ServiceDescriptor struct {
	DeviceUUID string

	// ServiceType is the type part of the URN, without version.
	ServiceType        string
	ServiceTypeVersion int

	// ServiceTypeVersionURN is the full serviceType URN.
	ServiceTypeVersionURN string
	ServiceID             string

	// Absolute URLs.
	SCPDURL     string
	ControlURL  string
	EventSubURL string

	State State
	SCPD  *SCPD
}

// RootDescriptor holds everything known about a root device.
//
// Discovery owns and mutates a RootDescriptor. Readers that race with
// discovery updates must hold the shared control point lock.
type RootDescriptor struct {
	RootDeviceUUID string
	UPnPVersion    Version
	PreferredLink  Link

	// BootID and ConfigID as announced in BOOTID.UPNP.ORG and
	// CONFIGID.UPNP.ORG. Zero for UPnP 1.0 devices.
	BootID   uint32
	ConfigID uint32

	State    State
	Document *DeviceDocument

	// ServiceDescriptors maps device UUID to service type/version URN to
	// service descriptor.
	ServiceDescriptors map[string]map[string]*ServiceDescriptor
}

// NewRootDescriptor creates a root descriptor for a parsed device
// description. Service descriptors are created for every device in the tree,
// awaiting their SCPD.
func NewRootDescriptor(doc *DeviceDocument, link Link) (*RootDescriptor, error) {
	rd := &RootDescriptor{
		RootDeviceUUID:     doc.Device.UUID(),
		UPnPVersion:        doc.SpecVersion,
		PreferredLink:      link,
		State:              StateAwaitingServiceDescriptions,
		Document:           doc,
		ServiceDescriptors: make(map[string]map[string]*ServiceDescriptor),
	}

	var buildErr error
	doc.Device.Walk(func(d *Device) bool {
		services := make(map[string]*ServiceDescriptor, len(d.Services))
		for _, s := range d.Services {
			sd, err := rd.newServiceDescriptor(d.UUID(), s)
			if err != nil {
				buildErr = err
				return false
			}
			services[sd.ServiceTypeVersionURN] = sd
		}
		rd.ServiceDescriptors[d.UUID()] = services
		return true
	})
	if buildErr != nil {
		rd.State = StateErroneous
		return rd, buildErr
	}
	return rd, nil
}

func (rd *RootDescriptor) newServiceDescriptor(deviceUUID string, s Service) (*ServiceDescriptor, error) {
	urn := strings.TrimSpace(s.ServiceType)
	typ, version, ok := ParseTypeVersion(urn)
	if !ok {
		return nil, fmt.Errorf("%w: invalid service type %q", ErrMalformedDescription, s.ServiceType)
	}
	sd := &ServiceDescriptor{
		DeviceUUID:            deviceUUID,
		ServiceType:           typ,
		ServiceTypeVersion:    version,
		ServiceTypeVersionURN: urn,
		ServiceID:             strings.TrimSpace(s.ServiceID),
		State:                 StateAwaitingServiceDescriptions,
	}
	var err error
	if sd.SCPDURL, err = rd.ResolveURL(s.SCPDURL); err != nil {
		return nil, err
	}
	if sd.ControlURL, err = rd.ResolveURL(s.ControlURL); err != nil {
		return nil, err
	}
	// eventSubURL is empty for services without evented variables
	if strings.TrimSpace(s.EventSubURL) != "" {
		if sd.EventSubURL, err = rd.ResolveURL(s.EventSubURL); err != nil {
			return nil, err
		}
	}
	return sd, nil
}

// ResolveURL resolves a URL from the description against the URLBase of a
// UPnP 1.0 description, or against the description location.
func (rd *RootDescriptor) ResolveURL(ref string) (string, error) {
	base := rd.PreferredLink.DescriptionLocation
	if rd.Document != nil && rd.Document.URLBase != "" && rd.UPnPVersion.Major == 1 && rd.UPnPVersion.Minor == 0 {
		base = rd.Document.URLBase
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// FindDevice returns the device element with the given UUID.
func (rd *RootDescriptor) FindDevice(deviceUUID string) (*Device, error) {
	if rd.Document == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceUUID)
	}
	var found *Device
	rd.Document.Device.Walk(func(d *Device) bool {
		if strings.EqualFold(d.UUID(), deviceUUID) {
			found = d
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceUUID)
	}
	return found, nil
}

// ServiceDescriptor returns the descriptor of a service of the given device.
func (rd *RootDescriptor) ServiceDescriptor(deviceUUID, serviceTypeVersionURN string) (*ServiceDescriptor, error) {
	sd, ok := rd.ServiceDescriptors[deviceUUID][serviceTypeVersionURN]
	if !ok {
		return nil, fmt.Errorf("%w: %s on device %s", ErrServiceNotFound, serviceTypeVersionURN, deviceUUID)
	}
	return sd, nil
}

// DeviceUUIDs returns the UUIDs of the root device and all embedded devices.
func (rd *RootDescriptor) DeviceUUIDs() []string {
	if rd.Document == nil {
		return nil
	}
	var uuids []string
	rd.Document.Device.Walk(func(d *Device) bool {
		uuids = append(uuids, d.UUID())
		return true
	})
	return uuids
}
