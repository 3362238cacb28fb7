package correlator

import (
	"strings"
	"time"
)

// TimestampLayout is the leading timestamp of a log line, ended by the
// first comma.
const TimestampLayout = "2006-01-02 15:04:05"

// Window is the closed interval [Start, Start+Tolerance]. Log timestamps
// carry whole seconds, so Start is truncated to the second.
type Window struct {
	Start     time.Time
	Tolerance time.Duration
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	start := w.Start.Truncate(time.Second)
	return !t.Before(start) && !t.After(start.Add(w.Tolerance))
}

// lineTime parses the timestamp field of line in loc.
func lineTime(line string, loc *time.Location) (time.Time, bool) {
	field, _, ok := strings.Cut(line, ",")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(field), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MatchesLine reports whether line carries a timestamp inside the window.
// Lines with an absent or malformed timestamp never match.
func (w Window) MatchesLine(line string) bool {
	t, ok := lineTime(line, w.Start.Location())
	return ok && w.Contains(t)
}
