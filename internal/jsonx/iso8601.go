package jsonx

import (
	"fmt"
	"time"

	"github.com/jpalmerr/telempoll/internal/telem"
)

// parseRFC3339 is more lenient than time.Parse: it accepts 't' or a space
// as the date/time separator, a lowercase 'z', second 60, and any number of
// fractional digits (truncated to nanoseconds).
func parseRFC3339(s string) (telem.TimeStamp, error) {
	if len(s) < 20 {
		return 0, isoErr("too short (minimum 20 characters)")
	}
	if s[4] != '-' || s[7] != '-' {
		return 0, isoErr("expected '-' at positions 4 and 7")
	}
	if s[10] != 'T' && s[10] != 't' && s[10] != ' ' {
		return 0, isoErr("expected 'T', 't', or space at position 10")
	}
	if s[13] != ':' || s[16] != ':' {
		return 0, isoErr("expected ':' at positions 13 and 16")
	}

	year, ok1 := digits(s, 0, 4)
	month, ok2 := digits(s, 5, 2)
	day, ok3 := digits(s, 8, 2)
	hour, ok4 := digits(s, 11, 2)
	minute, ok5 := digits(s, 14, 2)
	second, ok6 := digits(s, 17, 2)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return 0, isoErr("non-digit character in date or time fields")
	}
	switch {
	case month < 1 || month > 12:
		return 0, isoErr("month must be between 1 and 12")
	case day < 1 || day > 31:
		return 0, isoErr("day must be between 1 and 31")
	case hour > 23:
		return 0, isoErr("hour must be between 0 and 23")
	case minute > 59:
		return 0, isoErr("minute must be between 0 and 59")
	case second > 60:
		return 0, isoErr("second must be between 0 and 60")
	}

	pos := 19
	frac := 0
	if pos < len(s) && s[pos] == '.' {
		pos++
		mult := 100_000_000
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			frac += int(s[pos]-'0') * mult
			mult /= 10
			pos++
		}
	}

	if pos >= len(s) {
		return 0, isoErr("missing timezone designator")
	}
	offset := 0
	switch c := s[pos]; c {
	case 'Z', 'z':
	case '+', '-':
		pos++
		if pos+5 > len(s) || s[pos+2] != ':' {
			return 0, isoErr("invalid timezone offset format")
		}
		oh, okh := digits(s, pos, 2)
		om, okm := digits(s, pos+3, 2)
		if !okh || !okm {
			return 0, isoErr("non-digit character in timezone offset")
		}
		offset = oh*3600 + om*60
		if c == '-' {
			offset = -offset
		}
	default:
		return 0, isoErr(fmt.Sprintf("unexpected character %q where timezone designator expected", c))
	}

	// time.Date normalises second 60 and out-of-month days forward.
	t := time.Date(year, time.Month(month), day, hour, minute, second, frac, time.UTC)
	return telem.TimeStamp(t.UnixNano() - int64(offset)*int64(time.Second)), nil
}

func digits(s string, start, n int) (int, bool) {
	v := 0
	for i := start; i < start+n; i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		v = v*10 + int(s[i]-'0')
	}
	return v, true
}

func isoErr(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidTimestamp, reason)
}
