package datatype

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Conversion errors.
var (
	ErrTypeMismatch = errors.New("value does not match data type")
	ErrOutOfRange   = errors.New("value out of range for data type")
	ErrInvalidText  = errors.New("invalid text representation")
)

// Kind identifies a UPnP standard data type.
type Kind uint8

const (
	KindExtended Kind = iota
	KindUI1
	KindUI2
	KindUI4
	KindUI8
	KindI1
	KindI2
	KindI4
	KindI8
	KindInt
	KindR4
	KindR8
	KindNumber
	KindFixed14_4
	KindFloat
	KindChar
	KindString
	KindDate
	KindDateTime
	KindDateTimeTZ
	KindTime
	KindTimeTZ
	KindBoolean
	KindBinBase64
	KindBinHex
	KindURI
	KindUUID
)

var kindNames = map[Kind]string{
	KindUI1:        "ui1",
	KindUI2:        "ui2",
	KindUI4:        "ui4",
	KindUI8:        "ui8",
	KindI1:         "i1",
	KindI2:         "i2",
	KindI4:         "i4",
	KindI8:         "i8",
	KindInt:        "int",
	KindR4:         "r4",
	KindR8:         "r8",
	KindNumber:     "number",
	KindFixed14_4:  "fixed.14.4",
	KindFloat:      "float",
	KindChar:       "char",
	KindString:     "string",
	KindDate:       "date",
	KindDateTime:   "dateTime",
	KindDateTimeTZ: "dateTime.tz",
	KindTime:       "time",
	KindTimeTZ:     "time.tz",
	KindBoolean:    "boolean",
	KindBinBase64:  "bin.base64",
	KindBinHex:     "bin.hex",
	KindURI:        "uri",
	KindUUID:       "uuid",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// String returns the UPnP type name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "extended"
}

// Type is a data type as declared in a service description.
type Type struct {
	// Name is the declared type name.
	Name string

	// Kind is the resolved standard type, KindExtended for unknown names.
	Kind Kind
}

// Lookup resolves a declared type name. Unknown names resolve to an
// extended type whose values are handled as plain strings.
func Lookup(name string) Type {
	name = strings.TrimSpace(name)
	if k, ok := kindsByName[name]; ok {
		return Type{Name: name, Kind: k}
	}
	return Type{Name: name, Kind: KindExtended}
}

// IsStandard reports whether the type is one of the UDA standard types.
func (t Type) IsStandard() bool {
	return t.Kind != KindExtended
}

// String returns the declared type name.
func (t Type) String() string {
	return t.Name
}

// Date and time layouts (ISO 8601 subsets used by UDA).
const (
	layoutDate       = "2006-01-02"
	layoutDateTime   = "2006-01-02T15:04:05"
	layoutDateTimeTZ = "2006-01-02T15:04:05Z07:00"
	layoutTime       = "15:04:05"
	layoutTimeTZ     = "15:04:05Z07:00"
)

// Format converts a Go value to its wire text for this type.
func (t Type) Format(v any) (string, error) {
	switch t.Kind {
	case KindUI1, KindUI2, KindUI4, KindUI8:
		n, ok := toUint64(v)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		if n > maxUint(t.Kind) {
			return "", fmt.Errorf("%w: %d for %s", ErrOutOfRange, n, t.Name)
		}
		return strconv.FormatUint(n, 10), nil

	case KindI1, KindI2, KindI4, KindI8, KindInt:
		n, ok := toInt64(v)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		lo, hi := intRange(t.Kind)
		if n < lo || n > hi {
			return "", fmt.Errorf("%w: %d for %s", ErrOutOfRange, n, t.Name)
		}
		return strconv.FormatInt(n, 10), nil

	case KindR4:
		f, ok := toFloat64(v)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		return strconv.FormatFloat(f, 'g', -1, 32), nil

	case KindR8, KindNumber, KindFloat:
		f, ok := toFloat64(v)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil

	case KindFixed14_4:
		f, ok := toFloat64(v)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		if math.Abs(f) >= 1e14 {
			return "", fmt.Errorf("%w: %v for %s", ErrOutOfRange, f, t.Name)
		}
		return strconv.FormatFloat(f, 'f', 4, 64), nil

	case KindChar:
		switch c := v.(type) {
		case rune:
			return string(c), nil
		case string:
			if utf8.RuneCountInString(c) != 1 {
				return "", fmt.Errorf("%w: char needs exactly one character", ErrTypeMismatch)
			}
			return c, nil
		}
		return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)

	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		if b {
			return "1", nil
		}
		return "0", nil

	case KindDate, KindDateTime, KindDateTimeTZ, KindTime, KindTimeTZ:
		tm, ok := v.(time.Time)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		return tm.Format(timeLayout(t.Kind)), nil

	case KindBinBase64:
		b, ok := v.([]byte)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		return base64.StdEncoding.EncodeToString(b), nil

	case KindBinHex:
		b, ok := v.([]byte)
		if !ok {
			return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
		}
		return hex.EncodeToString(b), nil

	default:
		// string, uri, uuid and extended types
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		case nil:
			return "", nil
		}
		return "", fmt.Errorf("%w: %T for %s", ErrTypeMismatch, v, t.Name)
	}
}

// Parse converts wire text to the Go value for this type.
func (t Type) Parse(s string) (any, error) {
	text := strings.TrimSpace(s)
	switch t.Kind {
	case KindUI1, KindUI2, KindUI4, KindUI8:
		n, err := strconv.ParseUint(text, 10, bitSize(t.Kind))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		switch t.Kind {
		case KindUI1:
			return uint8(n), nil
		case KindUI2:
			return uint16(n), nil
		case KindUI4:
			return uint32(n), nil
		}
		return n, nil

	case KindI1, KindI2, KindI4, KindI8, KindInt:
		// Some devices send "+5"
		n, err := strconv.ParseInt(strings.TrimPrefix(text, "+"), 10, bitSize(t.Kind))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		switch t.Kind {
		case KindI1:
			return int8(n), nil
		case KindI2:
			return int16(n), nil
		case KindI4:
			return int32(n), nil
		}
		return n, nil

	case KindR4:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		return float32(f), nil

	case KindR8, KindNumber, KindFloat, KindFixed14_4:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		return f, nil

	case KindChar:
		if utf8.RuneCountInString(s) != 1 {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return r, nil

	case KindBoolean:
		switch strings.ToLower(text) {
		case "1", "true", "yes":
			return true, nil
		case "0", "false", "no":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)

	case KindDate, KindDateTime, KindDateTimeTZ, KindTime, KindTimeTZ:
		return parseTime(t, text)

	case KindBinBase64:
		b, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		return b, nil

	case KindBinHex:
		b, err := hex.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, s, t.Name)
		}
		return b, nil

	default:
		// Strings keep surrounding whitespace.
		return s, nil
	}
}

func parseTime(t Type, text string) (any, error) {
	layouts := []string{timeLayout(t.Kind)}
	switch t.Kind {
	case KindDateTime:
		layouts = append(layouts, layoutDateTimeTZ, layoutDate)
	case KindDateTimeTZ:
		layouts = append(layouts, layoutDateTime)
	case KindTime:
		layouts = append(layouts, layoutTimeTZ)
	case KindTimeTZ:
		layouts = append(layouts, layoutTime)
	}
	for _, layout := range layouts {
		if tm, err := time.Parse(layout, text); err == nil {
			return tm, nil
		}
	}
	return nil, fmt.Errorf("%w: %q as %s", ErrInvalidText, text, t.Name)
}

func timeLayout(k Kind) string {
	switch k {
	case KindDate:
		return layoutDate
	case KindDateTime:
		return layoutDateTime
	case KindDateTimeTZ:
		return layoutDateTimeTZ
	case KindTime:
		return layoutTime
	default:
		return layoutTimeTZ
	}
}

func bitSize(k Kind) int {
	switch k {
	case KindUI1, KindI1:
		return 8
	case KindUI2, KindI2:
		return 16
	case KindUI4, KindI4:
		return 32
	default:
		return 64
	}
}

func maxUint(k Kind) uint64 {
	switch k {
	case KindUI1:
		return math.MaxUint8
	case KindUI2:
		return math.MaxUint16
	case KindUI4:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

func intRange(k Kind) (int64, int64) {
	switch k {
	case KindI1:
		return math.MinInt8, math.MaxInt8
	case KindI2:
		return math.MinInt16, math.MaxInt16
	case KindI4:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// Helper functions for numeric coercion.

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	default:
		i, ok := toInt64(v)
		if !ok || i < 0 {
			return 0, false
		}
		return uint64(i), true
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	if u, ok := toUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}
