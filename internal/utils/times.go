package utils

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// LoadLocation resolves the viewer's timezone. Empty or "Local" means the
// process timezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// LocalDate returns the viewer's calendar date for an instant.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// LocalClock returns the viewer's wall-clock time for an instant.
func LocalClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimeLayout)
}

// ParseDate parses a YYYY-MM-DD civil date. The result is midnight UTC so that
// day arithmetic is not affected by DST.
func ParseDate(date string) (time.Time, error) {
	return time.Parse(DateLayout, date)
}

// DaysBetween counts whole civil days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// ParseTimestamp accepts the ISO-8601 variants the API emits. Timestamps
// without a zone are wall-clock times in loc.
func ParseTimestamp(ts string, loc *time.Location) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, ts, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", ts)
}

// LongDate renders a civil date as "Monday, January 2".
func LongDate(date string) (string, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return d.Format("Monday, January 2"), nil
}

// TimezoneInfo describes the viewer's clock next to the server clock.
func TimezoneInfo(loc *time.Location, now time.Time) string {
	local := now.In(loc)
	return fmt.Sprintf("🕐 Your time: %s (UTC%s)\n   Server time: %s UTC",
		local.Format("15:04"), local.Format("-07:00"), now.UTC().Format("15:04"))
}
