package analytics

import (
	"sort"
	"time"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/utils"
)

type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// Streaks counts runs of consecutive local dates that have a mood. Current
// is the run ending on now's date; now should already be in the viewer's
// location.
func Streaks(logs []chatlog.FormattedMessage, now time.Time) Streak {
	present := make(map[string]bool)
	var days []time.Time
	for _, l := range logs {
		if !l.HasMood() || !l.Dated() || present[l.Date] {
			continue
		}
		d, err := utils.ParseDate(l.Date)
		if err != nil {
			continue
		}
		present[l.Date] = true
		days = append(days, d)
	}
	if len(days) == 0 {
		return Streak{}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if utils.DaysBetween(days[i-1], days[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	current := 0
	cursor, _ := utils.ParseDate(now.Format(utils.DateLayout))
	for present[cursor.Format(utils.DateLayout)] {
		current++
		cursor = cursor.AddDate(0, 0, -1)
	}

	return Streak{Current: current, Longest: longest}
}
