package services

import (
	"time"

	"go.uber.org/zap"

	"tala-companion/internal/api"
	"tala-companion/internal/auth"
	"tala-companion/internal/chat"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/database"
)

type Options struct {
	Location     *time.Location
	MatchWindow  time.Duration
	DedupeWindow time.Duration
	Chat         chat.Options
	Logger       *zap.Logger
}

type ServiceManager struct {
	Notification *NotificationService
	Analytics    *AnalyticsService
	Chat         *ChatService
	Status       *StatusService
	repository   *database.Repository
	client       *api.Client
	opts         Options
}

func NewServiceManager(db *database.Database, client *api.Client, opts Options) *ServiceManager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = DefaultDedupeWindow
	}
	repo := database.NewRepository(db)
	as := NewAnalyticsService(chatlog.NewNormalizer(opts.MatchWindow, opts.Location), opts.DedupeWindow, opts.Logger)

	return &ServiceManager{
		Notification: nil,
		Analytics:    as,
		Chat:         NewChatService(as, opts.Chat, opts.Logger),
		Status:       NewStatusService(client, opts.Logger),
		repository:   repo,
		client:       client,
		opts:         opts,
	}
}

func (sm *ServiceManager) Repository() *database.Repository {
	return sm.repository
}

// Client returns an API client acting for the user linked to chatID.
func (sm *ServiceManager) Client(chatID int64) *api.Client {
	return sm.client.WithSession(auth.NewSession(sm.repository.TokenStore(chatID)))
}

func (sm *ServiceManager) SetNotificationSender(sender NotificationSender) {
	sm.Notification = NewNotificationService(sender, sm.repository, func(chatID int64) DayMoodSource {
		return sm.Client(chatID)
	}, sm.opts.Location, sm.opts.Logger)
}
