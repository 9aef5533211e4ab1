package etl

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// twoDigitYearPivot bounds how far into the future a two-digit year may land
// before it is moved back a century.
const twoDigitYearPivot = 20

// Strict ISO-8601 forms. A value without an offset is read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
}

// Lenient forms tried after the ISO ones. Month comes first in slash dates.
var (
	lenientLayouts = []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC850,
		time.ANSIC,
		time.UnixDate,
		time.RubyDate,
		"2006-01-02",
		"2006/01/02",
		"2006/01/02 15:04:05",
		"2006.01.02",
		"1/2/2006 15:04:05",
		"1/2/2006 15:04",
		"1/2/2006",
		"01/02/2006",
		"1-2-2006",
		"01-02-2006",
		"1.2.2006",
		"01.02.2006",
		"Jan 2, 2006 15:04:05",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006 15:04:05",
		"2 Jan 2006",
		"02 Jan 2006",
		"20060102T150405Z",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
)

// parseTimestamp coerces a raw cell to a UTC instant with microsecond precision.
// ok is false when v is missing or cannot be read as a point in time.
func parseTimestamp(v any, now time.Time) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case string:
		return parseTimestampString(x, now)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(x)
	case int:
		return fromEpoch(float64(x))
	case int64:
		return fromEpoch(float64(x))
	case time.Time:
		return canonicalTime(x), true
	default:
		return time.Time{}, false
	}
}

func parseTimestampString(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return canonicalTime(t), true
		}
	}

	for _, layout := range lenientLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return canonicalTime(t), true
		}
	}

	pivotYear := now.Year() + twoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return canonicalTime(t), true
		}
	}

	// A bare number in a text column is an epoch timestamp.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}

	return time.Time{}, false
}

// fromEpoch reads f as Unix seconds. Fractions keep microsecond precision.
func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	// Outside what Postgres can store.
	if f < -210866803200 || f > 9224318016000 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	usec := math.Round(frac * 1e6)
	return canonicalTime(time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))), true
}

// canonicalTime converts t to UTC and drops precision finer than the store keeps.
func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
