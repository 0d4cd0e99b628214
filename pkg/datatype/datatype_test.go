package datatype

import (
	"errors"
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
	}{
		{"ui4", KindUI4},
		{"boolean", KindBoolean},
		{"dateTime.tz", KindDateTimeTZ},
		{"fixed.14.4", KindFixed14_4},
		{" string ", KindString},
		{"vendor-specific", KindExtended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ := Lookup(tt.name)
			if typ.Kind != tt.kind {
				t.Errorf("Lookup(%q).Kind = %v, want %v", tt.name, typ.Kind, tt.kind)
			}
		})
	}

	if Lookup("foo").IsStandard() {
		t.Error("extended type should not be standard")
	}
}

func TestFormatIntegers(t *testing.T) {
	tests := []struct {
		typ     string
		value   any
		want    string
		wantErr error
	}{
		{"ui1", uint8(255), "255", nil},
		{"ui1", 256, "", ErrOutOfRange},
		{"ui2", 65535, "65535", nil},
		{"ui4", uint32(42), "42", nil},
		{"ui4", -1, "", ErrTypeMismatch},
		{"i1", -128, "-128", nil},
		{"i1", 128, "", ErrOutOfRange},
		{"i4", int32(-7), "-7", nil},
		{"i4", "7", "", ErrTypeMismatch},
		{"int", int64(1) << 40, "1099511627776", nil},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := Lookup(tt.typ).Format(tt.value)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Format(%v) error = %v, want %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Format(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestFormatOther(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)

	tests := []struct {
		typ   string
		value any
		want  string
	}{
		{"boolean", true, "1"},
		{"boolean", false, "0"},
		{"r8", 1.5, "1.5"},
		{"r4", float32(0.25), "0.25"},
		{"fixed.14.4", 3.14159, "3.1416"},
		{"char", 'x', "x"},
		{"string", "hello", "hello"},
		{"date", ts, "2024-03-05"},
		{"dateTime", ts, "2024-03-05T10:20:30"},
		{"dateTime.tz", ts, "2024-03-05T10:20:30Z"},
		{"time", ts, "10:20:30"},
		{"bin.base64", []byte("hi"), "aGk="},
		{"bin.hex", []byte{0xde, 0xad}, "dead"},
		{"x-custom", "raw", "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := Lookup(tt.typ).Format(tt.value)
			if err != nil {
				t.Fatalf("Format(%v) error = %v", tt.value, err)
			}
			if got != tt.want {
				t.Errorf("Format(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		typ  string
		text string
		want any
	}{
		{"ui1", "200", uint8(200)},
		{"ui2", " 1000 ", uint16(1000)},
		{"ui4", "4294967295", uint32(4294967295)},
		{"ui8", "18446744073709551615", uint64(18446744073709551615)},
		{"i1", "-5", int8(-5)},
		{"i2", "+12", int16(12)},
		{"i4", "-100000", int32(-100000)},
		{"int", "12", int64(12)},
		{"r4", "0.5", float32(0.5)},
		{"r8", "2.25", 2.25},
		{"boolean", "1", true},
		{"boolean", "yes", true},
		{"boolean", "FALSE", false},
		{"char", "z", 'z'},
		{"string", " padded ", " padded "},
		{"uri", "http://host/", "http://host/"},
		{"x-custom", "anything", "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.text, func(t *testing.T) {
			got, err := Lookup(tt.typ).Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.text, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v (%T), want %v (%T)", tt.text, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		typ  string
		text string
	}{
		{"ui1", "256"},
		{"ui4", "-1"},
		{"i4", "abc"},
		{"boolean", "maybe"},
		{"char", "ab"},
		{"bin.hex", "zz"},
		{"bin.base64", "!!"},
		{"date", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			_, err := Lookup(tt.typ).Parse(tt.text)
			if !errors.Is(err, ErrInvalidText) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidText", tt.text, err)
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	v, err := Lookup("dateTime.tz").Parse("2024-03-05T10:20:30+02:00")
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	tm := v.(time.Time)
	if tm.UTC().Hour() != 8 {
		t.Errorf("UTC hour = %d, want 8", tm.UTC().Hour())
	}

	// dateTime accepts a date-only value
	v, err = Lookup("dateTime").Parse("2024-03-05")
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	if v.(time.Time).Day() != 5 {
		t.Errorf("Day = %d, want 5", v.(time.Time).Day())
	}
}

func TestParseBinary(t *testing.T) {
	v, err := Lookup("bin.base64").Parse("aGk=")
	if err != nil {
		t.Fatalf("Parse error = %v", err)
	}
	if string(v.([]byte)) != "hi" {
		t.Errorf("Parse = %q, want %q", v, "hi")
	}
}

func TestKindString(t *testing.T) {
	if KindUI4.String() != "ui4" {
		t.Errorf("KindUI4.String() = %q", KindUI4.String())
	}
	if KindExtended.String() != "extended" {
		t.Errorf("KindExtended.String() = %q", KindExtended.String())
	}
}
