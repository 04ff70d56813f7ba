package schedule

import (
	"fmt"
	"strings"
	"time"
)

var wallClockLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// resolveWallClock turns raw into an instant in canonical, truncated to the
// minute. Wall clocks that a DST transition skips in their zone are rejected.
func resolveWallClock(raw, zone string, canonical *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("scheduled_at is required")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(canonical).Truncate(time.Minute), nil
	}

	loc := canonical
	if z := strings.TrimSpace(zone); z != "" {
		l, err := time.LoadLocation(z)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown time zone %q", z)
		}
		loc = l
	}

	for _, layout := range wallClockLayouts {
		p, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		t := time.Date(p.Year(), p.Month(), p.Day(), p.Hour(), p.Minute(), 0, 0, loc)
		if t.Day() != p.Day() || t.Hour() != p.Hour() || t.Minute() != p.Minute() {
			return time.Time{}, fmt.Errorf("%s does not exist in %s (DST transition)", raw, loc)
		}
		return t.In(canonical), nil
	}
	return time.Time{}, fmt.Errorf("scheduled_at %q is not a valid date-time", raw)
}

// descriptor is the calendar trigger for t (already in the canonical zone).
// It matches t's minute once per year.
func descriptor(t time.Time) string {
	return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}
