package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Events are written with canonical key order and RFC 3339 timestamps with
// nanoseconds. Reading accepts duplicate keys and indefinite-length items.
var (
	eventEncMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})
	eventDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ulog: CBOR encoder options: %v", err))
	}
	return em
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	dm, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ulog: CBOR decoder options: %v", err))
	}
	return dm
}

// EncodeEvent returns the CBOR form of an event as stored in .ulog files.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEncMode.Marshal(event)
}

// DecodeEvent parses one event record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns an encoder writing a stream of event records to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return eventEncMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading a stream of event records from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return eventDecMode.NewDecoder(r)
}
