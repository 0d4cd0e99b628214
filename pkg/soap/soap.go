package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/upnpkit/upnpkit-go/pkg/datatype"
)

// Namespaces and header values.
const (
	EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	EncodingStyle     = "http://schemas.xmlsoap.org/soap/encoding/"
	ControlNamespace  = "urn:schemas-upnp-org:control-1-0"

	// ContentType is the content type of action requests.
	ContentType = `text/xml; charset="utf-8"`

	// HeaderSOAPAction names the action header.
	HeaderSOAPAction = "SOAPACTION"
)

// Codec errors.
var (
	ErrMalformedEnvelope = errors.New("malformed SOAP envelope")
	ErrArgumentCount     = errors.New("argument count mismatch")
	ErrNoFault           = errors.New("no SOAP fault in envelope")
	ErrContentType       = errors.New("unexpected content type")
)

// Argument is a formal action argument.
type Argument struct {
	Name string
	Type datatype.Type
}

// ActionHeader returns the quoted SOAPACTION header value.
func ActionHeader(serviceTypeVersionURN, action string) string {
	return `"` + serviceTypeVersionURN + "#" + action + `"`
}

// EncodeCall encodes an action call envelope. Values are given in argument
// declaration order.
func EncodeCall(action, serviceTypeVersionURN string, in []Argument, values []any) ([]byte, error) {
	if len(values) != len(in) {
		return nil, fmt.Errorf("%w: action %s expects %d input arguments, got %d",
			ErrArgumentCount, action, len(in), len(values))
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString(`<s:Envelope xmlns:s="` + EnvelopeNamespace + `" s:encodingStyle="` + EncodingStyle + `">`)
	buf.WriteString(`<s:Body><u:` + action + ` xmlns:u="`)
	_ = xml.EscapeText(&buf, []byte(serviceTypeVersionURN))
	buf.WriteString(`">`)
	for i, arg := range in {
		text, err := arg.Type.Format(values[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
		}
		buf.WriteString("<" + arg.Name + ">")
		_ = xml.EscapeText(&buf, []byte(text))
		buf.WriteString("</" + arg.Name + ">")
	}
	buf.WriteString(`</u:` + action + `></s:Body></s:Envelope>`)
	return buf.Bytes(), nil
}

// CheckContentType verifies a response content type is text/xml and returns
// its charset parameter.
func CheckContentType(contentType string) (string, error) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrContentType, contentType)
	}
	if mt != "text/xml" {
		return "", fmt.Errorf("%w: %q", ErrContentType, mt)
	}
	return params["charset"], nil
}

// NewDecoder returns an XML decoder for a body transmitted with the given
// content type charset. Bodies in charsets other than UTF-8 are converted
// before decoding; the encoding declared in the XML prolog is honoured when
// no charset is given.
func NewDecoder(r io.Reader, contentCharset string) (*xml.Decoder, error) {
	cs := strings.ToLower(strings.Trim(contentCharset, `" `))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		dec := xml.NewDecoder(r)
		dec.CharsetReader = charset.NewReaderLabel
		return dec, nil
	}

	cr, err := charset.NewReaderLabel(cs, r)
	if err != nil {
		return nil, fmt.Errorf("%w: charset %q", ErrContentType, contentCharset)
	}
	dec := xml.NewDecoder(cr)
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return dec, nil
}
