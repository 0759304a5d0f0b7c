// Package analytics derives mood statistics from a normalized chat log.
//
// Every function here is pure: inputs are never modified and each call
// returns freshly built values. An empty or mood-less log is not an error;
// it yields empty slices, a zero Streak or a nil Insight.
package analytics

import (
	"errors"
	"sort"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

var ErrInvalidDate = errors.New("invalid date")

type DistributionRow struct {
	Mood       mood.Type `json:"mood"`
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
}

type CalendarDay struct {
	Date         string    `json:"date"`
	InitialMood  mood.Type `json:"initial_mood"`
	FinalMood    mood.Type `json:"final_mood"`
	TotalEntries int       `json:"total_entries"`
}

// moodCount is a frequency table that remembers first-seen order.
type moodCount struct {
	order  []mood.Type
	counts map[mood.Type]int
	total  int
}

func countMoods(logs []chatlog.FormattedMessage) moodCount {
	mc := moodCount{counts: make(map[mood.Type]int)}
	for _, l := range logs {
		if !l.HasMood() {
			continue
		}
		if _, seen := mc.counts[l.Mood]; !seen {
			mc.order = append(mc.order, l.Mood)
		}
		mc.counts[l.Mood]++
		mc.total++
	}
	return mc
}

// ranked orders moods by count descending, ties by first appearance.
func (mc moodCount) ranked() []mood.Type {
	out := make([]mood.Type, len(mc.order))
	copy(out, mc.order)
	sort.SliceStable(out, func(i, j int) bool {
		return mc.counts[out[i]] > mc.counts[out[j]]
	})
	return out
}

// Distribution returns one row per distinct mood in first-seen order.
func Distribution(logs []chatlog.FormattedMessage) []DistributionRow {
	mc := countMoods(logs)
	rows := make([]DistributionRow, 0, len(mc.order))
	if mc.total == 0 {
		return rows
	}
	for _, m := range mc.order {
		rows = append(rows, DistributionRow{
			Mood:       m,
			Count:      mc.counts[m],
			Percentage: 100 * float64(mc.counts[m]) / float64(mc.total),
		})
	}
	return rows
}

// MergeDistributions adds the counts of two distributions and recomputes
// the percentages over the combined total.
func MergeDistributions(a, b []DistributionRow) []DistributionRow {
	var (
		order  []mood.Type
		counts = make(map[mood.Type]int)
		total  int
	)
	for _, r := range append(append([]DistributionRow(nil), a...), b...) {
		if _, seen := counts[r.Mood]; !seen {
			order = append(order, r.Mood)
		}
		counts[r.Mood] += r.Count
		total += r.Count
	}
	rows := make([]DistributionRow, 0, len(order))
	for _, m := range order {
		row := DistributionRow{Mood: m, Count: counts[m]}
		if total > 0 {
			row.Percentage = 100 * float64(counts[m]) / float64(total)
		}
		rows = append(rows, row)
	}
	return rows
}

// Calendar returns one row per local date with at least one mood, sorted by
// date.
func Calendar(logs []chatlog.FormattedMessage) []CalendarDay {
	groups := make(map[string][]chatlog.FormattedMessage)
	var dates []string
	for _, l := range logs {
		if !l.HasMood() || !l.Dated() {
			continue
		}
		if _, ok := groups[l.Date]; !ok {
			dates = append(dates, l.Date)
		}
		groups[l.Date] = append(groups[l.Date], l)
	}
	sort.Strings(dates)

	days := make([]CalendarDay, 0, len(dates))
	for _, d := range dates {
		g := groups[d]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Time < g[j].Time })
		days = append(days, CalendarDay{
			Date:         d,
			InitialMood:  g[0].Mood,
			FinalMood:    g[len(g)-1].Mood,
			TotalEntries: len(g),
		})
	}
	return days
}
