// Package telem provides the telemetry primitives shared by every layer of
// telempoll: data types, channel keys, timestamps, series, and frames.
//
// The types are deliberately small value types. A [Frame] is the unit of
// output of one read cycle; it maps channel keys to single-type [Series].
package telem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DataType identifies the sample type stored by a channel.
type DataType string

const (
	Float64T   DataType = "float64"
	Float32T   DataType = "float32"
	Int64T     DataType = "int64"
	Int32T     DataType = "int32"
	Int16T     DataType = "int16"
	Int8T      DataType = "int8"
	Uint64T    DataType = "uint64"
	Uint32T    DataType = "uint32"
	Uint16T    DataType = "uint16"
	Uint8T     DataType = "uint8"
	TimeStampT DataType = "timestamp"
	StringT    DataType = "string"
	UUIDT      DataType = "uuid"
	JSONT      DataType = "json"
	BytesT     DataType = "bytes"
)

var dataTypes = map[DataType]struct{}{
	Float64T: {}, Float32T: {}, Int64T: {}, Int32T: {}, Int16T: {}, Int8T: {},
	Uint64T: {}, Uint32T: {}, Uint16T: {}, Uint8T: {}, TimeStampT: {},
	StringT: {}, UUIDT: {}, JSONT: {}, BytesT: {},
}

// ParseDataType converts a case-insensitive name into a DataType.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := dataTypes[dt]; !ok {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return dt, nil
}

// String returns the data type name.
func (d DataType) String() string {
	return string(d)
}

// IsNumeric reports whether d holds integer or floating point samples.
func (d DataType) IsNumeric() bool {
	switch d {
	case Float64T, Float32T, Int64T, Int32T, Int16T, Int8T,
		Uint64T, Uint32T, Uint16T, Uint8T:
		return true
	}
	return false
}

// IsInteger reports whether d holds integer samples.
func (d DataType) IsInteger() bool {
	return d.IsNumeric() && d != Float64T && d != Float32T
}

// IsSigned reports whether d is a signed integer type.
func (d DataType) IsSigned() bool {
	switch d {
	case Int64T, Int32T, Int16T, Int8T:
		return true
	}
	return false
}

// ChannelKey uniquely identifies a channel in the registry. Zero means
// "no channel".
type ChannelKey uint32

// String returns the key in decimal.
func (k ChannelKey) String() string {
	return strconv.FormatUint(uint64(k), 10)
}

// TimeStamp is a nanosecond-precision instant measured from the Unix epoch.
type TimeStamp int64

// Now returns the current wall-clock time as a TimeStamp.
func Now() TimeStamp {
	return TimeStamp(time.Now().UnixNano())
}

// NewTimeStamp converts t to a TimeStamp.
func NewTimeStamp(t time.Time) TimeStamp {
	return TimeStamp(t.UnixNano())
}

// Time converts the timestamp to a UTC time.Time.
func (ts TimeStamp) Time() time.Time {
	return time.Unix(0, int64(ts)).UTC()
}

// String formats the timestamp as RFC 3339 with nanoseconds.
func (ts TimeStamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// TimeRange is a half-open interval of timestamps.
type TimeRange struct {
	Start TimeStamp
	End   TimeStamp
}

// Midpoint returns the instant halfway between Start and End. It avoids
// overflow for timestamps near the int64 limits.
func (tr TimeRange) Midpoint() TimeStamp {
	return tr.Start + (tr.End-tr.Start)/2
}

// Span returns the duration covered by the range.
func (tr TimeRange) Span() time.Duration {
	return time.Duration(tr.End - tr.Start)
}

// Rate is a sampling frequency in Hz.
type Rate float64

// Period returns the time between two ticks at this rate. Non-positive
// rates have no period.
func (r Rate) Period() time.Duration {
	if r <= 0 || math.IsInf(float64(r), 0) || math.IsNaN(float64(r)) {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(r))
}
