// Package version provides UPnP version parsing, comparison, and product
// token helpers for USER-AGENT and SERVER headers.
package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Current is the version of this library announced in product tokens.
const Current = "1.0"

// UPnP is the UPnP architecture version implemented by this library.
const UPnP = "1.1"

// ProductName is the product token name of this library.
const ProductName = "upnpkit"

// SpecVersion represents a parsed "major.minor" version.
type SpecVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (SpecVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return SpecVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return SpecVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return SpecVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v SpecVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v SpecVersion) Compatible(other SpecVersion) bool {
	return v.Major == other.Major
}

// Less reports whether v is an older version than other.
func (v SpecVersion) Less(other SpecVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// UserAgent returns the product tokens sent in USER-AGENT headers:
// "OS/version UPnP/1.1 upnpkit/1.0".
func UserAgent() string {
	return fmt.Sprintf("%s/%s UPnP/%s %s/%s", runtime.GOOS, runtime.Version(), UPnP, ProductName, Current)
}

// UPnPFromProductTokens extracts the UPnP version from a SERVER or
// USER-AGENT header value such as "Linux/6.1 UPnP/1.0 Foo/2.3". Some devices
// separate tokens with ", " instead of a space.
func UPnPFromProductTokens(tokens string) (SpecVersion, error) {
	fields := strings.FieldsFunc(tokens, func(r rune) bool { return r == ' ' || r == ',' })
	for _, f := range fields {
		name, ver, ok := strings.Cut(f, "/")
		if !ok || !strings.EqualFold(name, "UPnP") {
			continue
		}
		return Parse(ver)
	}
	return SpecVersion{}, fmt.Errorf("no UPnP product token in %q", tokens)
}
