package util

import (
    "strconv"
    "time"

    "github.com/araddon/dateparse"
)

// ParseTime accepts RFC3339, a plain date, unix seconds or milliseconds, and
// falls back to dateparse for looser layouts. Results are in UTC.
func ParseTime(s string) (time.Time, bool) {
    if s == "" {
        return time.Time{}, false
    }
    if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
        return t.UTC(), true
    }
    if t, err := time.Parse(time.DateOnly, s); err == nil {
        return t, true
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        if ts > 1e11 { // ms
            return time.UnixMilli(ts).UTC(), true
        }
        return time.Unix(ts, 0).UTC(), true
    }
    if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
        return t.UTC(), true
    }
    return time.Time{}, false
}

// ParseDate parses a calendar day and returns its UTC midnight.
func ParseDate(s string) (time.Time, bool) {
    t, ok := ParseTime(s)
    if !ok {
        return time.Time{}, false
    }
    return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}
