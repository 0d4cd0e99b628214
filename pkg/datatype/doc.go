// Package datatype implements the UPnP standard state variable data types.
//
// Every state variable in a service description declares one of the UDA data
// types (ui4, boolean, string, dateTime, ...). Values travel as XML text in
// SOAP action calls and GENA event notifications; this package converts
// between that text and native Go values:
//
//	ui1, ui2, ui4, ui8          uint8, uint16, uint32, uint64
//	i1, i2, i4, i8, int         int8, int16, int32, int64, int64
//	r4                          float32
//	r8, number, float, fixed.14.4  float64
//	char                        rune
//	string, uri, uuid           string
//	date, dateTime, dateTime.tz, time, time.tz  time.Time
//	boolean                     bool
//	bin.base64, bin.hex         []byte
//
// Unknown (vendor extended) type names are carried as strings.
package datatype
