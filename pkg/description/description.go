package description

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/upnpkit/upnpkit-go/pkg/datatype"
)

// Parse errors.
var (
	ErrMalformedDescription = errors.New("malformed description document")
	ErrMissingUDN           = errors.New("device without UDN")
)

// UDNPrefix prefixes every unique device name.
const UDNPrefix = "uuid:"

// Version is a UPnP architecture version.
type Version struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

// String returns "major.minor".
func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// DeviceDocument is a parsed device description document.
type DeviceDocument struct {
	XMLName     xml.Name `xml:"root"`
	SpecVersion Version  `xml:"specVersion"`

	// URLBase is only used by UPnP 1.0 devices.
	URLBase string `xml:"URLBase"`

	Device Device `xml:"device"`
}

// Device is a <device> element of a device description.
type Device struct {
	DeviceType       string    `xml:"deviceType"`
	FriendlyName     string    `xml:"friendlyName"`
	Manufacturer     string    `xml:"manufacturer"`
	ManufacturerURL  string    `xml:"manufacturerURL"`
	ModelDescription string    `xml:"modelDescription"`
	ModelName        string    `xml:"modelName"`
	ModelNumber      string    `xml:"modelNumber"`
	ModelURL         string    `xml:"modelURL"`
	SerialNumber     string    `xml:"serialNumber"`
	UDN              string    `xml:"UDN"`
	UPC              string    `xml:"UPC"`
	PresentationURL  string    `xml:"presentationURL"`
	Services         []Service `xml:"serviceList>service"`
	Devices          []Device  `xml:"deviceList>device"`
}

// UUID returns the device UUID, the UDN without its "uuid:" prefix.
func (d *Device) UUID() string {
	return UUIDFromUDN(d.UDN)
}

// Walk calls fn for d and every embedded device, depth first. Walking stops
// when fn returns false.
func (d *Device) Walk(fn func(*Device) bool) bool {
	if !fn(d) {
		return false
	}
	for i := range d.Devices {
		if !d.Devices[i].Walk(fn) {
			return false
		}
	}
	return true
}

// Service is a <service> element of a device description.
type Service struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// SCPD is a parsed service control protocol description.
type SCPD struct {
	XMLName        xml.Name        `xml:"scpd"`
	SpecVersion    Version         `xml:"specVersion"`
	Actions        []Action        `xml:"actionList>action"`
	StateVariables []StateVariable `xml:"serviceStateTable>stateVariable"`
}

// Action is an <action> element of an SCPD.
type Action struct {
	Name      string     `xml:"name"`
	Arguments []Argument `xml:"argumentList>argument"`
}

// Argument directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Argument is an <argument> element of an SCPD action.
type Argument struct {
	Name                 string    `xml:"name"`
	Direction            string    `xml:"direction"`
	RelatedStateVariable string    `xml:"relatedStateVariable"`
	RetVal               *struct{} `xml:"retval"`
}

// IsIn reports whether the argument is an input argument.
func (a *Argument) IsIn() bool {
	return strings.EqualFold(strings.TrimSpace(a.Direction), DirectionIn)
}

// IsReturnValue reports whether the argument is marked as the return value.
func (a *Argument) IsReturnValue() bool {
	return a.RetVal != nil
}

// StateVariable is a <stateVariable> element of an SCPD.
type StateVariable struct {
	SendEvents    string        `xml:"sendEvents,attr"`
	Multicast     string        `xml:"multicast,attr"`
	Name          string        `xml:"name"`
	DataType      DataType      `xml:"dataType"`
	DefaultValue  *string       `xml:"defaultValue"`
	AllowedValues []string      `xml:"allowedValueList>allowedValue"`
	AllowedRange  *AllowedRange `xml:"allowedValueRange"`
}

// DataType is a <dataType> element. Extended types carry their name in the
// type attribute (UDA 1.1+).
type DataType struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// AllowedRange is an <allowedValueRange> element.
type AllowedRange struct {
	Minimum string `xml:"minimum"`
	Maximum string `xml:"maximum"`
	Step    string `xml:"step"`
}

// IsEvented reports whether changes of the variable are sent in event
// notifications. The attribute defaults to "yes".
func (sv *StateVariable) IsEvented() bool {
	return !strings.EqualFold(strings.TrimSpace(sv.SendEvents), "no")
}

// IsMulticast reports whether the variable is evented over multicast.
func (sv *StateVariable) IsMulticast() bool {
	return strings.EqualFold(strings.TrimSpace(sv.Multicast), "yes")
}

// Type resolves the variable's data type.
func (sv *StateVariable) Type() datatype.Type {
	t := datatype.Lookup(sv.DataType.Value)
	if t.IsStandard() || sv.DataType.Type == "" {
		return t
	}
	return datatype.Lookup(sv.DataType.Type)
}

// FindAction returns the action with the given name.
func (s *SCPD) FindAction(name string) (*Action, bool) {
	for i := range s.Actions {
		if s.Actions[i].Name == name {
			return &s.Actions[i], true
		}
	}
	return nil, false
}

// FindStateVariable returns the state variable with the given name.
func (s *SCPD) FindStateVariable(name string) (*StateVariable, bool) {
	for i := range s.StateVariables {
		if s.StateVariables[i].Name == name {
			return &s.StateVariables[i], true
		}
	}
	return nil, false
}

// ParseDeviceDescription parses a device description document.
func ParseDeviceDescription(r io.Reader) (*DeviceDocument, error) {
	var doc DeviceDocument
	if err := newDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescription, err)
	}
	var missing bool
	doc.Device.Walk(func(d *Device) bool {
		if d.UUID() == "" {
			missing = true
			return false
		}
		return true
	})
	if missing {
		return nil, ErrMissingUDN
	}
	return &doc, nil
}

// ParseSCPD parses a service description document.
func ParseSCPD(r io.Reader) (*SCPD, error) {
	var scpd SCPD
	if err := newDecoder(r).Decode(&scpd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescription, err)
	}
	for i := range scpd.Actions {
		for _, arg := range scpd.Actions[i].Arguments {
			if _, ok := scpd.FindStateVariable(arg.RelatedStateVariable); !ok {
				return nil, fmt.Errorf("%w: action %s argument %s references unknown state variable %q",
					ErrMalformedDescription, scpd.Actions[i].Name, arg.Name, arg.RelatedStateVariable)
			}
		}
	}
	return &scpd, nil
}

// UUIDFromUDN strips the "uuid:" prefix of a unique device name.
func UUIDFromUDN(udn string) string {
	udn = strings.TrimSpace(udn)
	if len(udn) >= len(UDNPrefix) && strings.EqualFold(udn[:len(UDNPrefix)], UDNPrefix) {
		return udn[len(UDNPrefix):]
	}
	return udn
}

// UUIDFromUSN extracts the device UUID of an SSDP unique service name such as
// "uuid:<uuid>::urn:schemas-upnp-org:service:ContentDirectory:1".
func UUIDFromUSN(usn string) string {
	if i := strings.Index(usn, "::"); i >= 0 {
		usn = usn[:i]
	}
	return UUIDFromUDN(usn)
}

// ParseTypeVersion splits a type/version URN such as
// "urn:schemas-upnp-org:service:ContentDirectory:1" into its type part and
// version number.
func ParseTypeVersion(urn string) (string, int, bool) {
	i := strings.LastIndexByte(urn, ':')
	if i <= 0 {
		return "", 0, false
	}
	v, err := strconv.Atoi(urn[i+1:])
	if err != nil || v < 1 {
		return "", 0, false
	}
	return urn[:i], v, true
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}
