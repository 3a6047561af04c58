package jsonx

import "fmt"

// TimeFormat describes how a JSON value encodes a timestamp.
type TimeFormat string

const (
	ISO8601   TimeFormat = "iso8601"
	UnixSec   TimeFormat = "unix_sec"
	UnixMilli TimeFormat = "unix_ms"
	UnixMicro TimeFormat = "unix_us"
	UnixNano  TimeFormat = "unix_ns"
)

// ParseTimeFormat validates s as a TimeFormat name.
func ParseTimeFormat(s string) (TimeFormat, error) {
	switch tf := TimeFormat(s); tf {
	case ISO8601, UnixSec, UnixMilli, UnixMicro, UnixNano:
		return tf, nil
	}
	return "", fmt.Errorf(
		`unknown time format %q: expected "iso8601", "unix_sec", "unix_ms", "unix_us", or "unix_ns"`,
		s,
	)
}

// multiplier returns the number of nanoseconds in one unit of a unix format.
func (tf TimeFormat) multiplier() int64 {
	switch tf {
	case UnixSec:
		return 1_000_000_000
	case UnixMilli:
		return 1_000_000
	case UnixMicro:
		return 1_000
	case UnixNano:
		return 1
	}
	return 0
}
