package services

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"tala-companion/internal/api"
	"tala-companion/internal/chat"
	"tala-companion/internal/mood"
	"tala-companion/internal/utils"
)

// summaryEvery is how many user messages of a day pass between day
// summaries.
const summaryEvery = 4

// ChatBackend is what a conversation needs from the API client.
type ChatBackend interface {
	chat.Streamer
	chat.MoodSaver
	HistorySource
	DaySummary(ctx context.Context, date string) (*api.DaySummary, error)
}

// Reply is the outcome of one exchange.
type Reply struct {
	State   chat.State
	Summary *api.DaySummary
}

// ChatService keeps one chat.Session per Telegram chat.
type ChatService struct {
	analytics *AnalyticsService
	opts      chat.Options
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*chat.Session
}

func NewChatService(as *AnalyticsService, opts chat.Options, logger *zap.Logger) *ChatService {
	opts.Location = as.Location()
	opts.Logger = logger
	return &ChatService{
		analytics: as,
		opts:      opts,
		logger:    logger.Named("chats"),
		sessions:  make(map[int64]*chat.Session),
	}
}

// HistoryKey is the cache key of a chat's history.
func HistoryKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Session returns the conversation of chatID, seeding it from the remote
// history on first use.
func (cs *ChatService) Session(ctx context.Context, chatID int64, backend ChatBackend) (*chat.Session, *ChatData, error) {
	data, err := cs.analytics.ChatData(ctx, HistoryKey(chatID), backend)
	if err != nil {
		return nil, nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if s, ok := cs.sessions[chatID]; ok {
		return s, data, nil
	}
	s := chat.NewSession(backend, data.Messages, cs.opts)
	if data.LatestMood.Valid() {
		s.SelectMood(data.LatestMood)
	}
	cs.sessions[chatID] = s
	cs.logger.Debug("chat session created", zap.Int64("chat_id", chatID), zap.Int("history", len(data.Messages)))
	return s, data, nil
}

// Send runs one exchange. The Reply carries the state that ended this
// exchange. After every fourth user message of the day the
// remote day summary is attached; failing to load it is not an error.
func (cs *ChatService) Send(ctx context.Context, chatID int64, backend ChatBackend, text string, m mood.Type, onUpdate func(chat.State)) (Reply, error) {
	s, _, err := cs.Session(ctx, chatID, backend)
	if err != nil {
		return Reply{}, err
	}
	st, err := s.Send(ctx, text, m, onUpdate)
	cs.analytics.Invalidate(HistoryKey(chatID))
	return cs.reply(ctx, chatID, backend, st), err
}

// SendMood logs m and tells Tala about it. welcome selects the wording
// of a new user's first message.
func (cs *ChatService) SendMood(ctx context.Context, chatID int64, backend ChatBackend, m mood.Type, welcome bool, onUpdate func(chat.State)) (Reply, error) {
	s, _, err := cs.Session(ctx, chatID, backend)
	if err != nil {
		return Reply{}, err
	}
	var st chat.State
	if welcome {
		st, err = s.Welcome(ctx, backend, m, onUpdate)
	} else {
		st, err = s.SendMood(ctx, backend, m, onUpdate)
	}
	cs.analytics.Invalidate(HistoryKey(chatID))
	return cs.reply(ctx, chatID, backend, st), err
}

func (cs *ChatService) reply(ctx context.Context, chatID int64, backend ChatBackend, st chat.State) Reply {
	r := Reply{State: st}
	if st.Phase != chat.Idle {
		return r
	}

	today := utils.LocalDate(cs.analytics.Now(), cs.analytics.Location())
	if n := st.UserMessagesOn(today); n == 0 || n%summaryEvery != 0 {
		return r
	}
	summary, err := backend.DaySummary(ctx, today)
	if err != nil {
		cs.logger.Warn("day summary failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return r
	}
	r.Summary = summary
	return r
}

func (cs *ChatService) SelectMood(ctx context.Context, chatID int64, backend ChatBackend, m mood.Type) error {
	s, _, err := cs.Session(ctx, chatID, backend)
	if err != nil {
		return err
	}
	s.SelectMood(m)
	return nil
}

// Reset drops the conversation of chatID, cancelling any reply in flight.
func (cs *ChatService) Reset(chatID int64) {
	cs.mu.Lock()
	s, ok := cs.sessions[chatID]
	delete(cs.sessions, chatID)
	cs.mu.Unlock()
	if ok {
		s.Close()
	}
	cs.analytics.Invalidate(HistoryKey(chatID))
}

func (cs *ChatService) CloseAll() {
	cs.mu.Lock()
	sessions := cs.sessions
	cs.sessions = make(map[int64]*chat.Session)
	cs.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
