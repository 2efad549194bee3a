package http

import (
	"time"

	xutil "GridVol/pkg/util"
)

// ParseTime parses a query time, see util.ParseTime.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

// ParseDate parses a calendar day to its UTC midnight.
func ParseDate(s string) (time.Time, bool) { return xutil.ParseDate(s) }
