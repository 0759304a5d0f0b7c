package analytics

import (
	"fmt"
	"strings"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
	"tala-companion/internal/utils"
)

// Insight is built from fixed templates over mood frequencies.
type Insight struct {
	Summary string `json:"summary"`
	Insight string `json:"insight"`
	Advice  string `json:"advice"`
}

type DaySummary struct {
	Date         string   `json:"date"`
	Summary      string   `json:"summary"`
	Insights     []string `json:"insights"`
	Interactions int      `json:"interactions"`
	MoodsLogged  int      `json:"moods_logged"`
}

// Empty reports a day without any interaction; callers hide such summaries.
func (d DaySummary) Empty() bool {
	return d.Interactions == 0
}

const irregularTrackingAdvice = "Track your moods more regularly to get more personalized insights about your emotional patterns."

// Insights returns nil when the log carries no moods.
func Insights(logs []chatlog.FormattedMessage) *Insight {
	mc := countMoods(logs)
	if mc.total == 0 {
		return nil
	}
	ranked := mc.ranked()
	top := ranked[0]

	dayCount := len(chatlog.GroupByDate(logs))
	avgPerDay := 0.0
	if dayCount > 0 {
		avgPerDay = float64(mc.total) / float64(dayCount)
	}

	insight := fmt.Sprintf("You tend to experience %s more than other emotions.", top)
	if len(ranked) > 1 {
		others := ranked[1:min(3, len(ranked))]
		names := make([]string, len(others))
		for i, m := range others {
			names[i] = string(m)
		}
		insight += fmt.Sprintf(" Your less frequent moods include %s.", strings.Join(names, " and "))
	}

	return &Insight{
		Summary: fmt.Sprintf(
			"Based on your chat history, your most frequent mood is %s (%d times). You've tracked your moods across %d different days.",
			top, mc.counts[top], dayCount,
		),
		Insight: insight,
		Advice:  advice(top, avgPerDay),
	}
}

func advice(top mood.Type, avgPerDay float64) string {
	if avgPerDay < 1 {
		return irregularTrackingAdvice
	}
	switch top.Category() {
	case mood.Positive:
		return fmt.Sprintf("Continue with activities that promote your sense of %s. You're on a good path with your emotional wellbeing.", top.Lower())
	case mood.Negative:
		return fmt.Sprintf("Consider activities that might help when you're feeling %s, such as mindfulness, connecting with others, or physical exercise.", top.Lower())
	case mood.Neutral:
		return fmt.Sprintf("Try exploring new activities or reflecting on what brings you joy to move beyond feeling %s.", top.Lower())
	}
	return "Continue tracking your moods to reveal more detailed patterns about your emotional wellbeing."
}

// DayDetail summarizes a single local date. It fails only for a malformed
// date.
func DayDetail(logs []chatlog.FormattedMessage, date string) (DaySummary, error) {
	long, err := utils.LongDate(date)
	if err != nil {
		return DaySummary{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, date, err)
	}

	var day []chatlog.FormattedMessage
	for _, l := range logs {
		if l.Date == date {
			day = append(day, l)
		}
	}
	mc := countMoods(day)
	ranked := mc.ranked()

	observations := make([]string, 0, 2)
	if len(ranked) > 0 {
		observations = append(observations, fmt.Sprintf("Your prominent mood was %s.", ranked[0]))
	}
	if len(ranked) > 1 {
		rest := make([]string, len(ranked)-1)
		for i, m := range ranked[1:] {
			rest[i] = string(m)
		}
		observations = append(observations, fmt.Sprintf("You also experienced %s.", strings.Join(rest, ", ")))
	}

	return DaySummary{
		Date:         date,
		Summary:      fmt.Sprintf("On %s, you had %d chat interactions and logged %d moods.", long, len(day), mc.total),
		Insights:     observations,
		Interactions: len(day),
		MoodsLogged:  mc.total,
	}, nil
}
