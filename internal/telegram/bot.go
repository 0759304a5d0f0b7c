package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tala-companion/internal/api"
	"tala-companion/internal/mood"
	"tala-companion/internal/services"
)

const (
	moodPrefix    = "mood_"
	feelPrefix    = "feel_"
	welcomePrefix = "welcome_"
)

// botAPI is the part of tgbotapi.BotAPI the shell uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Options struct {
	AdminChatID  int64
	EditInterval time.Duration
	Logger       *zap.Logger
}

type Bot struct {
	bot          botAPI
	username     string
	adminChatID  int64
	editInterval time.Duration
	services     *services.ServiceManager
	handlers     map[string]func(context.Context, *tgbotapi.Message)
	logger       *zap.Logger
	wg           sync.WaitGroup
}

func NewBot(token string, serviceManager *services.ServiceManager, opts Options) (*Bot, error) {
	tg, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newBot(tg, tg.Self.UserName, serviceManager, opts), nil
}

func newBot(tg botAPI, username string, serviceManager *services.ServiceManager, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EditInterval <= 0 {
		opts.EditInterval = time.Second
	}
	bot := &Bot{
		bot:          tg,
		username:     username,
		adminChatID:  opts.AdminChatID,
		editInterval: opts.EditInterval,
		services:     serviceManager,
		handlers:     make(map[string]func(context.Context, *tgbotapi.Message)),
		logger:       opts.Logger.Named("telegram"),
	}

	bot.registerHandlers()
	bot.logger.Info("bot initialized", zap.String("username", username))
	return bot
}

func (b *Bot) registerHandlers() {
	b.handlers["/start"] = b.handleStart
	b.handlers["/help"] = b.handleHelp
	b.handlers["/login"] = b.handleLogin
	b.handlers["/signup"] = b.handleSignup
	b.handlers["/logout"] = b.handleLogout
	b.handlers["/reset"] = b.handleRequestReset
	b.handlers["/resetpw"] = b.handleResetPassword
	b.handlers["/profile"] = b.handleProfile
	b.handlers["/username"] = b.handleUsername
	b.handlers["/password"] = b.handleChangePassword
	b.handlers["/deleteaccount"] = b.handleDeleteAccount
	b.handlers["/mood"] = b.handleMood
	b.handlers["/feel"] = b.handleFeel
	b.handlers["/dashboard"] = b.handleDashboard
	b.handlers["/calendar"] = b.handleCalendar
	b.handlers["/streak"] = b.handleStreak
	b.handlers["/insights"] = b.handleInsights
	b.handlers["/timeline"] = b.handleTimeline
	b.handlers["/trends"] = b.handleTrends
	b.handlers["/day"] = b.handleDay
	b.handlers["/reminders"] = b.handleReminders
	b.handlers["/status"] = b.handleStatus
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	_, err := b.send(chatID, text, nil)
	return err
}

func (b *Bot) send(chatID int64, text string, markup any) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return b.bot.Send(msg)
}

// SendAdmin notifies the operator chat when one is configured.
func (b *Bot) SendAdmin(text string) {
	if b.adminChatID == 0 {
		return
	}
	b.SendMessageOrLogError(b.adminChatID, text)
}

func (b *Bot) GetUsername() string {
	return b.username
}

// Start consumes updates until ctx is done. Each update runs in its own
// goroutine so a streaming reply does not hold up other chats; Wait blocks
// until they finish.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)
	defer b.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("update handler panicked", zap.Any("panic", r), zap.Int("update_id", update.UpdateID))
		}
	}()

	if update.CallbackQuery != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	if update.Message == nil {
		return
	}
	b.handleMessage(ctx, update.Message)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !msg.IsCommand() {
		b.handleChat(ctx, msg)
		return
	}
	if handler, exists := b.handlers["/"+msg.Command()]; exists {
		handler(ctx, msg)
		return
	}
	b.SendMessageOrLogError(msg.Chat.ID, "❌ Unknown command. See /help")
}

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	prefix, m, ok := parseMoodCallback(callback.Data)
	if callback.Message == nil {
		ok = false
	}

	answer := ""
	if ok && prefix == moodPrefix {
		answer = b.selectMood(ctx, callback.Message.Chat.ID, m)
	}
	if _, err := b.bot.Request(tgbotapi.NewCallback(callback.ID, answer)); err != nil {
		b.logger.Warn("answering callback failed", zap.Error(err))
	}
	if !ok {
		return
	}

	chatID := callback.Message.Chat.ID
	b.logger.Debug("callback", zap.Int64("chat_id", chatID), zap.String("data", callback.Data))
	b.safeDeleteMessage(chatID, callback.Message.MessageID)

	switch prefix {
	case feelPrefix:
		b.streamMood(ctx, chatID, m, false)
	case welcomePrefix:
		b.streamMood(ctx, chatID, m, true)
	}
}

func parseMoodCallback(data string) (string, mood.Type, bool) {
	for _, prefix := range []string{moodPrefix, feelPrefix, welcomePrefix} {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		m, err := mood.Parse(strings.TrimPrefix(data, prefix))
		if err != nil {
			return "", "", false
		}
		return prefix, m, true
	}
	return "", "", false
}

func (b *Bot) safeDeleteMessage(chatID int64, messageID int) {
	if _, err := b.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Debug("deleting message failed", zap.Int("message_id", messageID), zap.Error(err))
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string) error {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	cfg.ParseMode = tgbotapi.ModeHTML
	_, err := b.bot.Send(cfg)
	return err
}

// replyError turns err into a short answer and logs the detail.
func (b *Bot) replyError(chatID int64, err error, fallback string) {
	b.SendMessageOrLogError(chatID, b.errorText(chatID, err, fallback))
}

func (b *Bot) errorText(chatID int64, err error, fallback string) string {
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		b.services.Chat.Reset(chatID)
		return sessionEnded
	case errors.Is(err, api.ErrNotAuthenticated):
		return loginPrompt
	}
	b.logger.Warn("request failed", zap.Int64("chat_id", chatID), zap.Error(err))
	return "❌ " + html.EscapeString(api.Message(err, fallback))
}
