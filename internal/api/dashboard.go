package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"tala-companion/internal/analytics"
)

// aiInsightTimeout is much longer than the default: the backend calls a model.
const aiInsightTimeout = 100 * time.Second

type UserSummary struct {
	MoodDistribution  []analytics.DistributionRow `json:"mood_distribution"`
	ActiveTimePeriods []analytics.ActivePeriod    `json:"active_time_periods"`
	LastUpdated       string                      `json:"last_updated"`
}

type DashboardData struct {
	CalendarData []analytics.CalendarDay `json:"calendarData"`
	TrendData    *MoodTrends             `json:"trendData,omitempty"`
	UserSummary  UserSummary             `json:"userSummary"`
}

func (c *Client) Dashboard(ctx context.Context, timeframe string) (*DashboardData, error) {
	path, err := c.userPath(ctx, "/dashboard/%s")
	if err != nil {
		return nil, err
	}
	var q url.Values
	if timeframe != "" {
		q = url.Values{"timeframe": {timeframe}}
	}
	res, err := call[DashboardData](ctx, c, request{method: http.MethodGet, path: path, query: q})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AIInsight asks the backend for a model-written insight.
func (c *Client) AIInsight(ctx context.Context) (*analytics.Insight, error) {
	path, err := c.userPath(ctx, "/dashboard/%s/ai-insight")
	if err != nil {
		return nil, err
	}
	res, err := call[analytics.Insight](ctx, c, request{method: http.MethodGet, path: path, timeout: aiInsightTimeout})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
