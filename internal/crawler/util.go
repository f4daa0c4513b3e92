package crawler

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the wall-clock layout used by the source site and the task table.
const TimeLayout = "2006-01-02 15:04:05"

// WallClock re-expresses t as a naive wall-clock time in loc. The result
// carries UTC as its location so it compares equal to timestamps read back
// from a "timestamp without time zone" column.
func WallClock(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// ParseWallClock parses a source timestamp such as "2024-03-01 09:30:00".
// Date-only values are accepted and mean midnight.
func ParseWallClock(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
