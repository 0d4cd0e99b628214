package log

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
)

func TestActionEventCBORRoundTrip(t *testing.T) {
	code := 401
	dur := 15 * time.Millisecond
	original := Event{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerSOAP,
		Category:     CategoryMessage,
		RemoteAddr:   "http://192.168.1.10:49152/control",
		DeviceUUID:   "uuid-1",
		ServiceID:    "urn:upnp-org:serviceId:SwitchPower",
		Action: &ActionEvent{
			Type:       MessageTypeResponse,
			CallID:     7,
			Action:     "urn:schemas-upnp-org:service:SwitchPower:1#SetTarget",
			Outcome:    "FAULTED",
			HTTPStatus: 500,
			FaultCode:  &code,
			Duration:   &dur,
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGENAEventCBORRoundTrip(t *testing.T) {
	seq := uint32(4294967295)
	timeout := 1800 * time.Second
	original := Event{
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerGENA,
		Category:     CategoryMessage,
		GENA: &GENAEvent{
			Method:    "NOTIFY",
			SID:       "uuid:sid-1",
			Seq:       &seq,
			Timeout:   &timeout,
			Status:    200,
			Variables: map[string]string{"Status": "1"},
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEventCBORUsesIntegerKeys(t *testing.T) {
	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-1",
		Layer:        LayerConnection,
		Category:     CategoryState,
		StateChange:  &StateChangeEvent{Entity: StateEntityConnection, NewState: "CONNECTED"},
	}
	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	var raw map[any]any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for k := range raw {
		if _, ok := k.(uint64); !ok {
			t.Errorf("key %v (%T) is not an integer", k, k)
		}
	}
	if _, ok := raw[uint64(12)]; !ok {
		t.Error("state change payload not stored under key 12")
	}
	if _, ok := raw[uint64(10)]; ok {
		t.Error("nil action payload should be omitted")
	}
}

func TestDecodeEventInvalid(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("DecodeEvent should fail on garbage")
	}
}
