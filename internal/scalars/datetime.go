package scalars

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"15:04:05.999999999",
}

// ParseDatetimeString normalizes a date, time or timestamp string to
// milliseconds since the Unix epoch, in UTC.
//
// An 8 character value is a time of day anchored to 1970-01-01. A 10 character
// value is a calendar date anchored to midnight. Anything else is parsed as a
// full timestamp; timestamps without an offset are read as UTC.
func ParseDatetimeString(value string) (int64, error) {
	value = strings.TrimSpace(value)
	switch len(value) {
	case 8:
		t, err := time.ParseInLocation("15:04:05", value, time.UTC)
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", value)
		}
		return clockMillis(t), nil
	case 10:
		t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
		if err != nil {
			return 0, fmt.Errorf("invalid date %q", value)
		}
		return t.UnixMilli(), nil
	}
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err != nil {
			continue
		}
		if layout == "15:04:05.999999999" {
			return clockMillis(t), nil
		}
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid timestamp %q", value)
}

// clockMillis drops the date part that time.Parse fills in for clock-only layouts.
func clockMillis(t time.Time) int64 {
	return int64(t.Hour())*3_600_000 + int64(t.Minute())*60_000 + int64(t.Second())*1_000 + int64(t.Nanosecond()/1_000_000)
}

// ToEpochMillis coerces a date-like row or operand value to epoch milliseconds.
// Numbers are taken to already be epoch milliseconds.
func ToEpochMillis(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().UnixMilli(), true
	case *time.Time:
		if v == nil {
			return 0, false
		}
		return v.UTC().UnixMilli(), true
	case string:
		ms, err := ParseDatetimeString(v)
		return ms, err == nil
	case []byte:
		ms, err := ParseDatetimeString(string(v))
		return ms, err == nil
	default:
		f, ok := ToFloat(v)
		if !ok {
			return 0, false
		}
		return int64(f), true
	}
}

// ToTime is ToEpochMillis returned as a UTC time.Time.
func ToTime(value interface{}) (time.Time, bool) {
	ms, ok := ToEpochMillis(value)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
