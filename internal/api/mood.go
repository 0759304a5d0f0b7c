package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"tala-companion/internal/analytics"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

type DateRange struct {
	StartDate string
	EndDate   string
}

// DefaultRange covers the last 30 days.
func DefaultRange(now time.Time) DateRange {
	return DateRange{
		StartDate: now.AddDate(0, 0, -30).Format("2006-01-02"),
		EndDate:   now.Format("2006-01-02"),
	}
}

func (r *DateRange) query() url.Values {
	if r == nil {
		return nil
	}
	q := url.Values{}
	if r.StartDate != "" {
		q.Set("startDate", r.StartDate)
	}
	if r.EndDate != "" {
		q.Set("endDate", r.EndDate)
	}
	return q
}

type MoodFrequency struct {
	Mood  mood.Type `json:"mood"`
	Count int       `json:"count"`
}

type MoodTransition struct {
	PrevMood        mood.Type `json:"prev_mood"`
	NextMood        mood.Type `json:"next_mood"`
	TransitionCount int       `json:"transition_count"`
}

type MoodVolatility struct {
	AvgDailyMoodVariety float64 `json:"avg_daily_mood_variety"`
	AvgDailyEntries     float64 `json:"avg_daily_entries"`
	VolatilityIndex     float64 `json:"volatility_index"`
}

type MoodTrends struct {
	Frequencies []MoodFrequency  `json:"frequencies"`
	Transitions []MoodTransition `json:"transitions"`
	Volatility  *MoodVolatility  `json:"volatility,omitempty"`
}

type saveMoodRequest struct {
	UserID string    `json:"userId"`
	Mood   mood.Type `json:"mood"`
	Note   string    `json:"note,omitempty"`
}

func (c *Client) SaveMood(ctx context.Context, m mood.Type, note string) (*chatlog.MoodEntry, error) {
	id, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}
	res, err := call[chatlog.MoodEntry](ctx, c, request{
		method: http.MethodPost,
		path:   "/mood",
		body:   saveMoodRequest{UserID: id, Mood: m, Note: note},
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// MoodEntries lists mood entries; a nil range returns the full history.
func (c *Client) MoodEntries(ctx context.Context, r *DateRange) ([]chatlog.MoodEntry, error) {
	path, err := c.userPath(ctx, "/mood/%s")
	if err != nil {
		return nil, err
	}
	return call[[]chatlog.MoodEntry](ctx, c, request{method: http.MethodGet, path: path, query: r.query()})
}

func (c *Client) MoodCalendar(ctx context.Context, r *DateRange) ([]analytics.CalendarDay, error) {
	path, err := c.userPath(ctx, "/mood/calendar/%s")
	if err != nil {
		return nil, err
	}
	return call[[]analytics.CalendarDay](ctx, c, request{method: http.MethodGet, path: path, query: r.query()})
}

func (c *Client) DayMoods(ctx context.Context, date string) ([]chatlog.MoodEntry, error) {
	path, err := c.userPath(ctx, "/mood/day/%s/%s", url.PathEscape(date))
	if err != nil {
		return nil, err
	}
	return call[[]chatlog.MoodEntry](ctx, c, request{method: http.MethodGet, path: path})
}

func (c *Client) MoodTrends(ctx context.Context, r *DateRange) (*MoodTrends, error) {
	path, err := c.userPath(ctx, "/mood/trends/%s")
	if err != nil {
		return nil, err
	}
	res, err := call[MoodTrends](ctx, c, request{method: http.MethodGet, path: path, query: r.query()})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
