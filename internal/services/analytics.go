package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tala-companion/internal/analytics"
	"tala-companion/internal/api"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

// DefaultDedupeWindow is how long a loaded history is reused.
const DefaultDedupeWindow = 5 * time.Second

// ChatData is a user's normalized history.
type ChatData struct {
	Messages   []chatlog.FormattedMessage
	Moods      []chatlog.MoodEntry
	LatestMood mood.Type
	IsNewUser  bool
	FetchedAt  time.Time
}

// HistorySource is the part of the API client the history is loaded from.
type HistorySource interface {
	ChatLogs(ctx context.Context, date string) ([]chatlog.Entry, error)
	MoodEntries(ctx context.Context, r *api.DateRange) ([]chatlog.MoodEntry, error)
}

// DashboardSource also serves the server-side dashboard.
type DashboardSource interface {
	HistorySource
	Dashboard(ctx context.Context, timeframe string) (*api.DashboardData, error)
}

type cachedChatData struct {
	data *ChatData
	at   time.Time
}

type AnalyticsService struct {
	normalizer *chatlog.Normalizer
	dedupe     time.Duration
	now        func() time.Time
	logger     *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedChatData
}

func NewAnalyticsService(normalizer *chatlog.Normalizer, dedupe time.Duration, logger *zap.Logger) *AnalyticsService {
	if dedupe < 0 {
		dedupe = 0
	}
	return &AnalyticsService{
		normalizer: normalizer,
		dedupe:     dedupe,
		now:        time.Now,
		logger:     logger.Named("analytics"),
		cache:      make(map[string]cachedChatData),
	}
}

// Now is the current time in the viewer's location.
func (as *AnalyticsService) Now() time.Time {
	return as.now().In(as.normalizer.Location)
}

func (as *AnalyticsService) Location() *time.Location {
	return as.normalizer.Location
}

// ChatData loads logs and moods concurrently and pairs them. Concurrent
// calls for the same key share one fetch and a result is reused for the
// dedupe window.
func (as *AnalyticsService) ChatData(ctx context.Context, key string, src HistorySource) (*ChatData, error) {
	if d, ok := as.cached(key); ok {
		return d, nil
	}
	v, err, shared := as.group.Do(key, func() (any, error) {
		if d, ok := as.cached(key); ok {
			return d, nil
		}
		d, err := as.fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		as.mu.Lock()
		as.cache[key] = cachedChatData{data: d, at: d.FetchedAt}
		as.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		as.logger.Debug("chat data fetch shared", zap.String("key", key))
	}
	return v.(*ChatData), nil
}

// Invalidate drops the cached history of key, e.g. after a new message.
func (as *AnalyticsService) Invalidate(key string) {
	as.mu.Lock()
	delete(as.cache, key)
	as.mu.Unlock()
	as.group.Forget(key)
}

func (as *AnalyticsService) cached(key string) (*ChatData, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	c, ok := as.cache[key]
	if !ok || as.now().Sub(c.at) >= as.dedupe {
		return nil, false
	}
	return c.data, true
}

func (as *AnalyticsService) fetch(ctx context.Context, src HistorySource) (*ChatData, error) {
	var (
		logs  []chatlog.Entry
		moods []chatlog.MoodEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		logs, err = src.ChatLogs(gctx, "")
		if err != nil {
			return fmt.Errorf("chat logs: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		moods, err = src.MoodEntries(gctx, nil)
		if err != nil {
			return fmt.Errorf("mood entries: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load chat data: %w", err)
	}

	msgs := as.normalizer.Normalize(logs, moods)
	as.logger.Debug("chat data loaded", zap.Int("logs", len(logs)), zap.Int("moods", len(moods)))
	return &ChatData{
		Messages:   msgs,
		Moods:      moods,
		LatestMood: chatlog.LatestMood(moods, as.normalizer.Location),
		IsNewUser:  len(logs) == 0,
		FetchedAt:  as.now(),
	}, nil
}

func (as *AnalyticsService) Dashboard(ctx context.Context, key string, src HistorySource) (*analytics.Dashboard, error) {
	data, err := as.ChatData(ctx, key, src)
	if err != nil {
		return nil, err
	}
	d := analytics.BuildDashboard(data.Messages, as.Now())
	return &d, nil
}

// RemoteDashboard returns the server-side dashboard with the mood
// distribution of the chat history merged into its own.
func (as *AnalyticsService) RemoteDashboard(ctx context.Context, key string, src DashboardSource, timeframe string) (*api.DashboardData, error) {
	var (
		remote *api.DashboardData
		data   *ChatData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		remote, err = src.Dashboard(gctx, timeframe)
		return err
	})
	g.Go(func() (err error) {
		data, err = as.ChatData(gctx, key, src)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := *remote
	merged.UserSummary.MoodDistribution = analytics.MergeDistributions(
		remote.UserSummary.MoodDistribution, analytics.Distribution(data.Messages))
	return &merged, nil
}

func (as *AnalyticsService) DayDetail(ctx context.Context, key string, src HistorySource, date string) (analytics.DaySummary, error) {
	data, err := as.ChatData(ctx, key, src)
	if err != nil {
		return analytics.DaySummary{}, err
	}
	return analytics.DayDetail(data.Messages, date)
}
