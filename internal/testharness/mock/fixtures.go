package mock

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/upnpkit/upnpkit-go/pkg/description"
)

// Device identities and service types of the fake device.
const (
	RootUUID  = "5d1f2b3c-0000-4000-8000-00000000aa01"
	LightUUID = "5d1f2b3c-0000-4000-8000-00000000aa02"

	SwitchPowerURN = "urn:schemas-upnp-org:service:SwitchPower:1"
	DimmingURN     = "urn:schemas-upnp-org:service:Dimming:1"
)

// DeviceXML is the device description. The root device hosts SwitchPower and
// Dimming, the embedded light another SwitchPower.
const DeviceXML = `<?xml version="1.0" encoding="utf-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>1</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:DimmableLight:1</deviceType>
    <friendlyName>Mock Dimmable Light</friendlyName>
    <manufacturer>upnpkit</manufacturer>
    <modelName>mock</modelName>
    <modelNumber>1</modelNumber>
    <UDN>uuid:` + RootUUID + `</UDN>
    <serviceList>
      <service>
        <serviceType>` + SwitchPowerURN + `</serviceType>
        <serviceId>urn:upnp-org:serviceId:SwitchPower.0001</serviceId>
        <SCPDURL>/SwitchPower/scpd.xml</SCPDURL>
        <controlURL>/SwitchPower/control</controlURL>
        <eventSubURL>/SwitchPower/event</eventSubURL>
      </service>
      <service>
        <serviceType>` + DimmingURN + `</serviceType>
        <serviceId>urn:upnp-org:serviceId:Dimming.0001</serviceId>
        <SCPDURL>/Dimming/scpd.xml</SCPDURL>
        <controlURL>/Dimming/control</controlURL>
        <eventSubURL>/Dimming/event</eventSubURL>
      </service>
    </serviceList>
    <deviceList>
      <device>
        <deviceType>urn:schemas-upnp-org:device:BinaryLight:1</deviceType>
        <friendlyName>Mock Binary Light</friendlyName>
        <UDN>uuid:` + LightUUID + `</UDN>
        <serviceList>
          <service>
            <serviceType>` + SwitchPowerURN + `</serviceType>
            <serviceId>urn:upnp-org:serviceId:SwitchPower.0002</serviceId>
            <SCPDURL>/light/SwitchPower/scpd.xml</SCPDURL>
            <controlURL>/light/SwitchPower/control</controlURL>
            <eventSubURL>/light/SwitchPower/event</eventSubURL>
          </service>
        </serviceList>
      </device>
    </deviceList>
  </device>
</root>`

// SwitchPowerSCPD is the SwitchPower:1 service description.
const SwitchPowerSCPD = `<?xml version="1.0" encoding="utf-8"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
    <action>
      <name>SetTarget</name>
      <argumentList>
        <argument><name>newTargetValue</name><direction>in</direction><relatedStateVariable>Target</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetTarget</name>
      <argumentList>
        <argument><name>RetTargetValue</name><direction>out</direction><retval/><relatedStateVariable>Target</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetStatus</name>
      <argumentList>
        <argument><name>ResultStatus</name><direction>out</direction><retval/><relatedStateVariable>Status</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no">
      <name>Target</name>
      <dataType>boolean</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
    <stateVariable sendEvents="yes">
      <name>Status</name>
      <dataType>boolean</dataType>
      <defaultValue>0</defaultValue>
    </stateVariable>
  </serviceStateTable>
</scpd>`

// DimmingSCPD is a reduced Dimming:1 service description.
const DimmingSCPD = `<?xml version="1.0" encoding="utf-8"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
    <action>
      <name>SetLoadLevelTarget</name>
      <argumentList>
        <argument><name>newLoadlevelTarget</name><direction>in</direction><relatedStateVariable>LoadLevelTarget</relatedStateVariable></argument>
      </argumentList>
    </action>
    <action>
      <name>GetLoadLevelStatus</name>
      <argumentList>
        <argument><name>retLoadlevelStatus</name><direction>out</direction><retval/><relatedStateVariable>LoadLevelStatus</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no">
      <name>LoadLevelTarget</name>
      <dataType>ui1</dataType>
      <defaultValue>0</defaultValue>
      <allowedValueRange><minimum>0</minimum><maximum>100</maximum></allowedValueRange>
    </stateVariable>
    <stateVariable sendEvents="yes">
      <name>LoadLevelStatus</name>
      <dataType>ui1</dataType>
      <defaultValue>0</defaultValue>
      <allowedValueRange><minimum>0</minimum><maximum>100</maximum></allowedValueRange>
    </stateVariable>
  </serviceStateTable>
</scpd>`

// SCPDFor returns the SCPD document of a service type/version URN.
func SCPDFor(serviceTypeVersionURN string) (string, bool) {
	switch serviceTypeVersionURN {
	case SwitchPowerURN:
		return SwitchPowerSCPD, true
	case DimmingURN:
		return DimmingSCPD, true
	}
	return "", false
}

// ParseRootDescriptor builds a Ready root descriptor from the fixtures
// without any network access. URLs resolve against location.
func ParseRootDescriptor(location string, local netip.Addr) (*description.RootDescriptor, error) {
	doc, err := description.ParseDeviceDescription(strings.NewReader(DeviceXML))
	if err != nil {
		return nil, err
	}
	rd, err := description.NewRootDescriptor(doc, description.Link{
		DescriptionLocation: location,
		LocalAddress:        local,
	})
	if err != nil {
		return nil, err
	}
	for _, services := range rd.ServiceDescriptors {
		for urn, sd := range services {
			text, ok := SCPDFor(urn)
			if !ok {
				return nil, fmt.Errorf("no SCPD fixture for %s", urn)
			}
			scpd, err := description.ParseSCPD(strings.NewReader(text))
			if err != nil {
				return nil, err
			}
			sd.SCPD = scpd
			sd.State = description.StateReady
		}
	}
	rd.State = description.StateReady
	return rd, nil
}
