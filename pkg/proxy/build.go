package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upnpkit/upnpkit-go/pkg/description"
)

// ErrBuild is returned when a proxy tree cannot be built from a descriptor.
var ErrBuild = errors.New("cannot build proxy tree")

// BuildDevice builds the proxy tree for the device with the given UUID,
// including its embedded devices. Every service must have its SCPD.
func BuildDevice(rd *description.RootDescriptor, deviceUUID string) (*Device, error) {
	dd, err := rd.FindDevice(deviceUUID)
	if err != nil {
		return nil, err
	}
	return buildDevice(rd, dd, nil)
}

func buildDevice(rd *description.RootDescriptor, dd *description.Device, parent *Device) (*Device, error) {
	d := &Device{
		UUID:         dd.UUID(),
		DeviceType:   dd.DeviceType,
		FriendlyName: dd.FriendlyName,
		Manufacturer: dd.Manufacturer,
		ModelName:    dd.ModelName,
		ModelNumber:  dd.ModelNumber,
		SerialNumber: dd.SerialNumber,
		parent:       parent,
	}
	if typ, version, ok := description.ParseTypeVersion(dd.DeviceType); ok {
		d.DeviceType = typ
		d.DeviceTypeVersion = version
	}

	for _, s := range dd.Services {
		sd, err := rd.ServiceDescriptor(d.UUID, strings.TrimSpace(s.ServiceType))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuild, err)
		}
		svc, err := buildService(sd, d)
		if err != nil {
			return nil, err
		}
		d.services = append(d.services, svc)
	}

	for i := range dd.Devices {
		e, err := buildDevice(rd, &dd.Devices[i], d)
		if err != nil {
			return nil, err
		}
		d.devices = append(d.devices, e)
	}
	return d, nil
}

func buildService(sd *description.ServiceDescriptor, d *Device) (*Service, error) {
	if sd.SCPD == nil {
		return nil, fmt.Errorf("%w: service %s of device %s has no SCPD (state %s)",
			ErrBuild, sd.ServiceTypeVersionURN, d.UUID, sd.State)
	}
	s := &Service{
		ServiceType:           sd.ServiceType,
		ServiceTypeVersion:    sd.ServiceTypeVersion,
		ServiceTypeVersionURN: sd.ServiceTypeVersionURN,
		ServiceID:             sd.ServiceID,
		device:                d,
		actions:               make(map[string]*Action, len(sd.SCPD.Actions)),
		stateVariables:        make(map[string]*StateVariable, len(sd.SCPD.StateVariables)),
	}

	for i := range sd.SCPD.StateVariables {
		dsv := &sd.SCPD.StateVariables[i]
		sv := &StateVariable{
			Name:          dsv.Name,
			Type:          dsv.Type(),
			SendEvents:    dsv.IsEvented(),
			Multicast:     dsv.IsMulticast(),
			AllowedValues: dsv.AllowedValues,
			AllowedRange:  dsv.AllowedRange,
			service:       s,
		}
		if dsv.DefaultValue != nil {
			// An unparsable default is treated as absent
			if v, err := sv.Type.Parse(*dsv.DefaultValue); err == nil {
				sv.DefaultValue = v
			}
		}
		s.stateVariables[sv.Name] = sv
	}

	for _, da := range sd.SCPD.Actions {
		a := &Action{Name: da.Name, service: s}
		for _, darg := range da.Arguments {
			sv, ok := s.stateVariables[darg.RelatedStateVariable]
			if !ok {
				return nil, fmt.Errorf("%w: action %s argument %s: unknown state variable %q",
					ErrBuild, da.Name, darg.Name, darg.RelatedStateVariable)
			}
			arg := &Argument{
				Name:                 darg.Name,
				IsReturnValue:        darg.IsReturnValue(),
				RelatedStateVariable: sv,
			}
			if darg.IsIn() {
				a.InArguments = append(a.InArguments, arg)
			} else {
				a.OutArguments = append(a.OutArguments, arg)
			}
		}
		s.actions[a.Name] = a
	}
	return s, nil
}
