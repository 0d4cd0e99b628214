package soap

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Fault is a UPnP error returned in a SOAP fault.
type Fault struct {
	FaultCode   string
	FaultString string

	// Code and Description are taken from the UPnPError detail.
	Code        int
	Description string
}

// Error implements error.
func (f *Fault) Error() string {
	if f.Description == "" {
		return fmt.Sprintf("UPnP error %d", f.Code)
	}
	return fmt.Sprintf("UPnP error %d: %s", f.Code, f.Description)
}

// DecodeResult decodes an action response envelope and returns the output
// argument values in declaration order.
//
// Values are matched by argument name. Devices that misname their output
// arguments are tolerated when the number of values matches.
func DecodeResult(dec *xml.Decoder, action string, out []Argument) ([]any, error) {
	resp, err := findBodyElement(dec)
	if err != nil {
		return nil, err
	}
	if resp.Name.Local != action+"Response" {
		return nil, fmt.Errorf("%w: expected %sResponse, got %s", ErrMalformedEnvelope, action, resp.Name.Local)
	}

	type rawValue struct {
		name string
		text string
	}
	var raw []rawValue
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if _, ok := tok.(xml.EndElement); ok {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, fmt.Errorf("%w: argument %s: %v", ErrMalformedEnvelope, se.Name.Local, err)
		}
		raw = append(raw, rawValue{name: se.Name.Local, text: text})
	}

	if len(raw) != len(out) {
		return nil, fmt.Errorf("%w: action %s returned %d output arguments, expected %d",
			ErrArgumentCount, action, len(raw), len(out))
	}

	byName := make(map[string]string, len(raw))
	for _, v := range raw {
		byName[v.name] = v.text
	}

	result := make([]any, len(out))
	for i, arg := range out {
		text, ok := byName[arg.Name]
		if !ok {
			text = raw[i].text
		}
		v, err := arg.Type.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("output argument %s: %w", arg.Name, err)
		}
		result[i] = v
	}
	return result, nil
}

type faultEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *faultElement `xml:"Fault"`
	} `xml:"Body"`
}

type faultElement struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			ErrorCode        string `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// DecodeFault decodes a fault envelope.
func DecodeFault(dec *xml.Decoder) (*Fault, error) {
	var env faultEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Body.Fault == nil {
		return nil, ErrNoFault
	}
	f := env.Body.Fault
	fault := &Fault{
		FaultCode:   strings.TrimSpace(f.FaultCode),
		FaultString: strings.TrimSpace(f.FaultString),
		Description: strings.TrimSpace(f.Detail.UPnPError.ErrorDescription),
	}
	if code := strings.TrimSpace(f.Detail.UPnPError.ErrorCode); code != "" {
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid errorCode %q", ErrMalformedEnvelope, code)
		}
		fault.Code = n
	}
	return fault, nil
}

// findBodyElement advances the decoder to the first element inside the SOAP
// Body.
func findBodyElement(dec *xml.Decoder) (xml.StartElement, error) {
	depth := 0
	inBody := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, fmt.Errorf("%w: no body element", ErrMalformedEnvelope)
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1 && t.Name.Local != "Envelope":
				return xml.StartElement{}, fmt.Errorf("%w: root element %s", ErrMalformedEnvelope, t.Name.Local)
			case depth == 2 && t.Name.Local == "Body":
				inBody = true
			case depth == 3 && inBody:
				return t, nil
			case depth == 2:
				// Header; skip
				if err := dec.Skip(); err != nil {
					return xml.StartElement{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
				}
				depth--
			}
		case xml.EndElement:
			depth--
			inBody = false
		}
	}
}
