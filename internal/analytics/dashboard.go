package analytics

import (
	"sort"
	"time"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

type TimelinePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Mood      mood.Type `json:"mood"`
	Value     float64   `json:"value"`
}

type ActivePeriod struct {
	TimePeriod string `json:"time_period"`
	Count      int    `json:"count"`
}

type Dashboard struct {
	Calendar      []CalendarDay     `json:"calendarData"`
	Distribution  []DistributionRow `json:"mood_distribution"`
	ActivePeriods []ActivePeriod    `json:"active_time_periods"`
	Timeline      []TimelinePoint   `json:"timeline,omitempty"`
	Streak        Streak            `json:"streak"`
	Insight       *Insight          `json:"insight,omitempty"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// Timeline maps each dated mood to its ordinal. Fewer than two points are
// not enough to draw a trend and yield nil.
func Timeline(logs []chatlog.FormattedMessage, loc *time.Location) []TimelinePoint {
	var points []TimelinePoint
	for _, l := range logs {
		if !l.HasMood() {
			continue
		}
		at, ok := l.Instant(loc)
		if !ok {
			continue
		}
		points = append(points, TimelinePoint{Timestamp: at, Mood: l.Mood, Value: l.Mood.Ordinal()})
	}
	if len(points) < 2 {
		return nil
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points
}

// ActivePeriods buckets every timed message by local hour, busiest first.
func ActivePeriods(logs []chatlog.FormattedMessage) []ActivePeriod {
	counts := make(map[string]int)
	for _, l := range logs {
		if len(l.Time) < 2 {
			continue
		}
		counts[l.Time[:2]]++
	}
	periods := make([]ActivePeriod, 0, len(counts))
	for hour, n := range counts {
		periods = append(periods, ActivePeriod{TimePeriod: hour + ":00", Count: n})
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].Count != periods[j].Count {
			return periods[i].Count > periods[j].Count
		}
		return periods[i].TimePeriod < periods[j].TimePeriod
	})
	return periods
}

// BuildDashboard computes every view at once. now carries the viewer's
// location.
func BuildDashboard(logs []chatlog.FormattedMessage, now time.Time) Dashboard {
	return Dashboard{
		Calendar:      Calendar(logs),
		Distribution:  Distribution(logs),
		ActivePeriods: ActivePeriods(logs),
		Timeline:      Timeline(logs, now.Location()),
		Streak:        Streaks(logs, now),
		Insight:       Insights(logs),
		LastUpdated:   now,
	}
}
