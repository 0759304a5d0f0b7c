package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tala-companion/internal/analytics"
	"tala-companion/internal/api"
	"tala-companion/internal/chat"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
	"tala-companion/internal/services"
)

func TestMoodKeyboard(t *testing.T) {
	kb := moodKeyboard(feelPrefix)
	require.Len(t, kb.InlineKeyboard, 4)
	assert.Len(t, kb.InlineKeyboard[3], 2)

	first := kb.InlineKeyboard[0][0]
	require.NotNil(t, first.CallbackData)
	assert.Equal(t, "feel_Despairing", *first.CallbackData)

	prefix, m, ok := parseMoodCallback(*first.CallbackData)
	require.True(t, ok)
	assert.Equal(t, feelPrefix, prefix)
	assert.Equal(t, mood.Despairing, m)

	_, _, ok = parseMoodCallback("mood_Bored")
	assert.False(t, ok)
}

func TestSpark(t *testing.T) {
	assert.Equal(t, "▁", spark(1))
	assert.Equal(t, "█", spark(10))
	assert.Equal(t, "▁", spark(-3))
}

func TestRenderCalendarKeepsLatestDays(t *testing.T) {
	days := []analytics.CalendarDay{
		{Date: "2025-03-08", InitialMood: mood.Drained, FinalMood: mood.Calm, TotalEntries: 2},
		{Date: "2025-03-09", InitialMood: mood.Calm, FinalMood: mood.Calm, TotalEntries: 1},
		{Date: "2025-03-10", InitialMood: mood.Hopeful, FinalMood: mood.Energized, TotalEntries: 3},
	}
	out := renderCalendar(days, 2)
	assert.NotContains(t, out, "2025-03-08")
	assert.Contains(t, out, "2025-03-10</code> 🌱 Hopeful → ⚡ Energized (3)")

	assert.Equal(t, noDataText, renderCalendar(nil, 2))
}

func TestRenderInsightEscapes(t *testing.T) {
	assert.Equal(t, noDataText, renderInsight(nil))
	out := renderInsight(&analytics.Insight{Summary: "<b>x</b>", Insight: "y", Advice: "z"})
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
}

func TestRenderDashboard(t *testing.T) {
	d := &analytics.Dashboard{
		Distribution:  []analytics.DistributionRow{{Mood: mood.Calm, Count: 3, Percentage: 75}, {Mood: mood.Anxious, Count: 1, Percentage: 25}},
		ActivePeriods: []analytics.ActivePeriod{{TimePeriod: "09:00", Count: 1}},
		Streak:        analytics.Streak{Current: 1, Longest: 4},
		LastUpdated:   time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	out := renderDashboard(d, time.UTC)
	assert.Contains(t, out, "1 day\n")
	assert.Contains(t, out, "4 days")
	assert.Contains(t, out, "😌 Calm  3 (75%)")
	assert.Contains(t, out, "\n🟢 3 · 🟡 0 · 🔴 1\n")
	assert.Contains(t, out, "<b>09:00</b> (1 message)")
	assert.Contains(t, out, "Updated Mar 10 12:00")

	assert.Equal(t, noDataText, renderDashboard(&analytics.Dashboard{}, time.UTC))
}

func TestRenderDay(t *testing.T) {
	assert.Contains(t, renderDay(analytics.DaySummary{Date: "2025-03-10"}), "Nothing recorded")
	out := renderDay(analytics.DaySummary{Date: "2025-03-10", Summary: "s", Insights: []string{"a", "b"}, Interactions: 2})
	assert.Contains(t, out, "• a\n• b\n")

	assert.Contains(t, renderDaySummary(&api.DaySummary{Summary: "calm"}), "calm")
}

func TestRenderStatus(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	out := renderStatus(services.StatusReport{Status: api.Status{Status: "offline", Message: "model offline"}, CheckedAt: at}, time.UTC)
	assert.Contains(t, out, "🔴 Tala is <b>offline</b>\nmodel offline")
	assert.Contains(t, out, "UTC+0")
}

func TestRenderStatusHalfHourZone(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ist := time.FixedZone("IST", 5*60*60+30*60)
	out := renderStatus(services.StatusReport{Status: api.Status{Status: "online"}, CheckedAt: at}, ist)
	assert.Contains(t, out, "17:30 (UTC+05:30)")
}

func TestRenderProfileReadsZonelessDateInViewerZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	out := renderProfile(&api.Profile{Username: "ana", Email: "ana@example.com", CreatedAt: "2025-03-31T23:30:00"}, loc)
	assert.Contains(t, out, "Member since March 2025")

	out = renderProfile(&api.Profile{Username: "ana", CreatedAt: "2025-03-31T23:30:00Z"}, loc)
	assert.Contains(t, out, "Member since April 2025")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{""}, splitMessage("", 5))
	assert.Equal(t, []string{"short"}, splitMessage("short", 5))

	// Runes, not bytes, count towards the limit.
	assert.Equal(t, []string{"ééé", "éé"}, splitMessage("ééééé", 3))

	// A line break in the second half of the window is preferred.
	assert.Equal(t, []string{"abc\n", "defgh"}, splitMessage("abc\ndefgh", 5))
	assert.Equal(t, []string{"a\nbcd", "efg"}, splitMessage("a\nbcdefg", 5))
}

func TestRenderTimeline(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	points := []analytics.TimelinePoint{
		{Timestamp: at, Mood: mood.Despairing, Value: 1},
		{Timestamp: at.Add(time.Hour), Mood: mood.Energized, Value: 10},
	}
	out := renderTimeline(points, time.UTC, 10)
	assert.Contains(t, out, "<code>▁█</code>")
	assert.Contains(t, out, "Mar 10 10:00")
	assert.Contains(t, renderTimeline(nil, time.UTC, 10), "at least two")
}

func TestLastReply(t *testing.T) {
	st := chat.NewState([]chatlog.FormattedMessage{
		{From: chatlog.Me, Text: "hi"},
		{From: chatlog.Tala, Text: "hello"},
	}, time.UTC)
	assert.Equal(t, "hello", lastReply(st))

	st = chat.Reduce(st, chat.Submit{Text: "again", At: time.Now()})
	st = chat.Reduce(st, chat.Fail{Err: errors.New("x")})
	assert.Equal(t, chat.FallbackText, lastReply(st))

	assert.Equal(t, chat.FallbackText, lastReply(chat.NewState(nil, time.UTC)))
}

func TestRenderTrends(t *testing.T) {
	assert.Equal(t, noDataText, renderTrends(nil))
	out := renderTrends(&api.MoodTrends{
		Frequencies: []api.MoodFrequency{{Mood: mood.Calm, Count: 4}},
		Volatility:  &api.MoodVolatility{VolatilityIndex: 0.25, AvgDailyEntries: 1.5},
	})
	assert.Contains(t, out, "😌 Calm  4")
	assert.NotContains(t, out, "Common shifts")
	assert.Contains(t, out, "Volatility 0.25 · 1.5 moods a day")
}
