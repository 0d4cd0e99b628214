// Package soap encodes UPnP action calls and decodes action responses and
// faults.
//
// A control point sends an action as an HTTP POST to the service's control
// URL:
//
//	POST /control HTTP/1.1
//	CONTENT-TYPE: text/xml; charset="utf-8"
//	SOAPACTION: "urn:schemas-upnp-org:service:SwitchPower:1#SetTarget"
//
//	<s:Envelope ...><s:Body><u:SetTarget xmlns:u="...">
//	  <newTargetValue>1</newTargetValue>
//	</u:SetTarget></s:Body></s:Envelope>
//
// The device answers 200 with a <u:SetTargetResponse> body, or 500 with a
// SOAP fault whose detail carries a UPnPError code and description.
package soap
