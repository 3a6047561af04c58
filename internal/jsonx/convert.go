package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jpalmerr/telempoll/internal/telem"
)

var (
	ErrFractional       = errors.New("value has a fractional component")
	ErrOutOfBounds      = errors.New("value is out of bounds")
	ErrInvalidNumber    = errors.New("not a valid number")
	ErrInvalidTimestamp = errors.New("not a valid ISO 8601 timestamp")
	ErrUnsupported      = errors.New("unsupported conversion")
)

// ReadOptions control how ToSampleValue interprets a JSON value.
type ReadOptions struct {
	// Strict rejects fractional values for integer targets instead of
	// truncating them. Out-of-range values are rejected either way.
	Strict bool
	// TimeFormat is required for timestamp targets.
	TimeFormat TimeFormat
	// EnumValues maps string values to numbers before numeric conversion.
	EnumValues map[string]float64
}

// SupportsSampleType reports whether ToSampleValue can produce samples of dt.
func SupportsSampleType(dt telem.DataType) bool {
	return dt.IsNumeric() || dt == telem.TimeStampT || dt == telem.StringT
}

// ToSampleValue converts a decoded JSON value into a sample of type dt. The
// returned value has the Go type documented on telem.Series.
func ToSampleValue(v any, dt telem.DataType, opts ReadOptions) (any, error) {
	out, err := convert(v, dt, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot convert %s to %s: %w", Dump(v), dt, err)
	}
	return out, nil
}

func convert(v any, dt telem.DataType, opts ReadOptions) (any, error) {
	switch {
	case dt == telem.TimeStampT:
		return toTimeStamp(v, opts.TimeFormat)
	case dt == telem.StringT:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return Dump(v), nil
	case !dt.IsNumeric():
		return nil, fmt.Errorf("%w: data type %s", ErrUnsupported, dt)
	}

	switch val := v.(type) {
	case bool:
		if val {
			return intNumber(1).to(dt, opts.Strict)
		}
		return intNumber(0).to(dt, opts.Strict)
	case json.Number:
		n, err := parseNumber(string(val), dt)
		if err != nil {
			return nil, err
		}
		return n.to(dt, opts.Strict)
	case float64:
		return floatNumber(val).to(dt, opts.Strict)
	case string:
		if ev, ok := opts.EnumValues[val]; ok {
			return floatNumber(ev).to(dt, opts.Strict)
		}
		n, err := parseNumber(val, dt)
		if err != nil {
			return nil, err
		}
		return n.to(dt, opts.Strict)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func toTimeStamp(v any, tf TimeFormat) (any, error) {
	switch val := v.(type) {
	case json.Number:
		return numberToTimeStamp(string(val), tf)
	case float64:
		return numberToTimeStamp(strconv.FormatFloat(val, 'g', -1, 64), tf)
	case string:
		if tf == ISO8601 {
			return parseRFC3339(val)
		}
		return numberToTimeStamp(val, tf)
	}
	return nil, fmt.Errorf("%w: timestamps must be numbers or strings", ErrUnsupported)
}

func numberToTimeStamp(s string, tf TimeFormat) (telem.TimeStamp, error) {
	if tf == ISO8601 {
		return 0, fmt.Errorf("%w: numeric values cannot be converted with ISO 8601 format", ErrUnsupported)
	}
	mult := tf.multiplier()
	if mult == 0 {
		return 0, fmt.Errorf("%w: unknown time format %q", ErrUnsupported, tf)
	}

	if isIntegerString(s) {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if i > math.MaxInt64/mult || i < math.MinInt64/mult {
				return 0, ErrOutOfBounds
			}
			return telem.TimeStamp(i * mult), nil
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidNumber
	}
	ns := f * float64(mult)
	if math.IsNaN(ns) || ns < math.MinInt64 || ns >= math.MaxInt64 {
		return 0, ErrOutOfBounds
	}
	return telem.TimeStamp(int64(ns)), nil
}

type numberKind uint8

const (
	kindInt numberKind = iota
	kindUint
	kindFloat
)

// number is a JSON number held without loss in its narrowest exact form.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func intNumber(i int64) number     { return number{kind: kindInt, i: i} }
func uintNumber(u uint64) number   { return number{kind: kindUint, u: u} }
func floatNumber(f float64) number { return number{kind: kindFloat, f: f} }

// parseNumber keeps pure integer text out of float64 when the target is an
// integer type, so int64 and uint64 values keep full precision.
func parseNumber(s string, dt telem.DataType) (number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return number{}, ErrInvalidNumber
	}
	if dt.IsInteger() && isIntegerString(s) {
		if s[0] == '-' || dt.IsSigned() {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return number{}, ErrOutOfBounds
			}
			return intNumber(i), nil
		}
		u, err := strconv.ParseUint(strings.TrimPrefix(s, "+"), 10, 64)
		if err != nil {
			return number{}, ErrOutOfBounds
		}
		return uintNumber(u), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return number{}, ErrOutOfBounds
		}
		return number{}, ErrInvalidNumber
	}
	return floatNumber(f), nil
}

func isIntegerString(s string) bool {
	start := 0
	if s != "" && (s[0] == '-' || s[0] == '+') {
		start = 1
	}
	if start >= len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// bounds returns the inclusive minimum and maximum of an integer type.
func bounds(dt telem.DataType) (int64, uint64) {
	switch dt {
	case telem.Int8T:
		return math.MinInt8, math.MaxInt8
	case telem.Int16T:
		return math.MinInt16, math.MaxInt16
	case telem.Int32T:
		return math.MinInt32, math.MaxInt32
	case telem.Int64T:
		return math.MinInt64, math.MaxInt64
	case telem.Uint8T:
		return 0, math.MaxUint8
	case telem.Uint16T:
		return 0, math.MaxUint16
	case telem.Uint32T:
		return 0, math.MaxUint32
	}
	return 0, math.MaxUint64
}

func (n number) to(dt telem.DataType, strict bool) (any, error) {
	switch dt {
	case telem.Float64T:
		return n.float(), nil
	case telem.Float32T:
		return float32(n.float()), nil
	}

	lo, hi := bounds(dt)
	switch n.kind {
	case kindInt:
		if n.i < lo || (n.i > 0 && uint64(n.i) > hi) {
			return nil, ErrOutOfBounds
		}
		if dt.IsSigned() {
			return castSigned(dt, n.i), nil
		}
		return castUnsigned(dt, uint64(n.i)), nil
	case kindUint:
		if n.u > hi {
			return nil, ErrOutOfBounds
		}
		if dt.IsSigned() {
			return castSigned(dt, int64(n.u)), nil
		}
		return castUnsigned(dt, n.u), nil
	}

	f := n.f
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrOutOfBounds
	}
	if t := math.Trunc(f); t != f {
		if strict {
			return nil, ErrFractional
		}
		f = t
	}
	// float64(hi)+1 is exact for every width, including 2^63 and 2^64.
	if f < float64(lo) || f >= float64(hi)+1 {
		return nil, ErrOutOfBounds
	}
	if dt.IsSigned() {
		return castSigned(dt, int64(f)), nil
	}
	return castUnsigned(dt, uint64(f)), nil
}

func (n number) float() float64 {
	switch n.kind {
	case kindInt:
		return float64(n.i)
	case kindUint:
		return float64(n.u)
	}
	return n.f
}

func castSigned(dt telem.DataType, v int64) any {
	switch dt {
	case telem.Int8T:
		return int8(v)
	case telem.Int16T:
		return int16(v)
	case telem.Int32T:
		return int32(v)
	}
	return v
}

func castUnsigned(dt telem.DataType, v uint64) any {
	switch dt {
	case telem.Uint8T:
		return uint8(v)
	case telem.Uint16T:
		return uint16(v)
	case telem.Uint32T:
		return uint32(v)
	}
	return v
}
