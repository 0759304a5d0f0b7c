package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tala-companion/internal/api"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/database"
	"tala-companion/internal/utils"
)

const checkInReminder = "🌤 <b>How are you feeling today?</b>\n\n" +
	"You haven't checked in yet. Tap /mood to log how you feel, or just tell me about your day."

// NotificationSender delivers a message to a chat.
type NotificationSender interface {
	SendMessage(chatID int64, text string) error
}

type DayMoodSource interface {
	DayMoods(ctx context.Context, date string) ([]chatlog.MoodEntry, error)
}

type NotificationService struct {
	sender     NotificationSender
	repository *database.Repository
	source     func(chatID int64) DayMoodSource
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

func NewNotificationService(sender NotificationSender, repo *database.Repository, source func(chatID int64) DayMoodSource, loc *time.Location, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		sender:     sender,
		repository: repo,
		source:     source,
		loc:        loc,
		now:        time.Now,
		logger:     logger.Named("notifications"),
	}
}

// SendCheckInReminders nudges every linked chat that has not logged a mood
// today. Each chat is reminded at most once per local date.
func (ns *NotificationService) SendCheckInReminders(ctx context.Context) (int, error) {
	today := utils.LocalDate(ns.now(), ns.loc)

	targets, err := ns.repository.ReminderTargets(ctx, today)
	if err != nil {
		return 0, err
	}
	ns.logger.Debug("checking reminders", zap.String("date", today), zap.Int("chats", len(targets)))

	sent := 0
	for _, t := range targets {
		log := ns.logger.With(zap.Int64("chat_id", t.ChatID))

		moods, err := ns.source(t.ChatID).DayMoods(ctx, today)
		switch {
		case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrNotAuthenticated):
			log.Info("skipping reminder, session ended")
			continue
		case err != nil:
			log.Warn("loading today's moods failed", zap.Error(err))
			continue
		}

		if len(moods) == 0 {
			if err := ns.sender.SendMessage(t.ChatID, checkInReminder); err != nil {
				log.Error("sending reminder failed", zap.Error(err))
				continue
			}
			sent++
		}
		if err := ns.repository.MarkReminded(ctx, t.ChatID, today); err != nil {
			log.Warn("marking reminder failed", zap.Error(err))
		}
	}

	if sent > 0 {
		ns.logger.Info("check-in reminders sent", zap.Int("count", sent))
	}
	return sent, nil
}
