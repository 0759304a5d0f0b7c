package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tala-companion/internal/analytics"
	"tala-companion/internal/api"
	"tala-companion/internal/chat"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
	"tala-companion/internal/services"
	"tala-companion/internal/utils"
)

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.services.Client(chatID).Session().Authenticated(ctx) {
		b.SendMessageOrLogError(chatID, "🌿 <b>Welcome to Tala</b>, your mental wellness companion.\n\n"+loginPrompt)
		return
	}
	if !b.maybeWelcome(ctx, chatID, msg.From) {
		b.SendMessageOrLogError(chatID, helpText)
	}
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	b.SendMessageOrLogError(msg.Chat.ID, helpText)
}

// authed returns the chat's client, or prompts for login and returns nil.
func (b *Bot) authed(ctx context.Context, chatID int64) *api.Client {
	client := b.services.Client(chatID)
	if !client.Session().Authenticated(ctx) {
		b.SendMessageOrLogError(chatID, loginPrompt)
		return nil
	}
	return client
}

// maybeWelcome shows the first-mood keyboard to a user without any history.
// It reports whether the keyboard was sent.
func (b *Bot) maybeWelcome(ctx context.Context, chatID int64, from *tgbotapi.User) bool {
	repo := b.services.Repository()
	if s, err := repo.GetSession(ctx, chatID); err == nil && s.Welcomed {
		return false
	}

	_, data, err := b.services.Chat.Session(ctx, chatID, b.services.Client(chatID))
	if err != nil {
		b.logger.Warn("loading history failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}
	if !data.IsNewUser {
		if err := repo.SetWelcomed(ctx, chatID, true); err != nil {
			b.logger.Warn("saving welcome flag failed", zap.Error(err))
		}
		return false
	}

	name := ""
	if from != nil {
		name = from.FirstName
	}
	if _, err := b.send(chatID, welcomeText(name), moodKeyboard(welcomePrefix)); err != nil {
		b.logger.Error("sending welcome failed", zap.Error(err))
		return false
	}
	if err := repo.SetWelcomed(ctx, chatID, true); err != nil {
		b.logger.Warn("saving welcome flag failed", zap.Error(err))
	}
	return true
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	// The command carries a password.
	b.safeDeleteMessage(chatID, msg.MessageID)

	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.SendMessageOrLogError(chatID, "Usage: /login email password")
		return
	}

	b.services.Chat.Reset(chatID)
	res, err := b.services.Client(chatID).Login(ctx, args[0], args[1])
	if err != nil {
		b.replyError(chatID, err, "Login failed")
		return
	}
	b.SendMessageOrLogError(chatID, fmt.Sprintf("✅ Welcome back, <b>%s</b>!", html.EscapeString(res.User.Username)))
	b.maybeWelcome(ctx, chatID, msg.From)
}

func (b *Bot) handleSignup(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.safeDeleteMessage(chatID, msg.MessageID)

	args := strings.Fields(msg.CommandArguments())
	if len(args) < 3 {
		b.SendMessageOrLogError(chatID, "Usage: /signup email name password")
		return
	}
	data := api.SignupData{
		Email:    args[0],
		Name:     strings.Join(args[1:len(args)-1], " "),
		Password: args[len(args)-1],
	}

	b.services.Chat.Reset(chatID)
	if _, err := b.services.Client(chatID).Signup(ctx, data); err != nil {
		b.replyError(chatID, err, "Signup failed")
		return
	}
	b.SendMessageOrLogError(chatID, "🎉 Your account is ready.")
	b.maybeWelcome(ctx, chatID, msg.From)
}

func (b *Bot) handleLogout(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.services.Chat.Reset(chatID)
	if err := b.services.Client(chatID).Logout(ctx); err != nil {
		b.logger.Info("remote logout failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	b.SendMessageOrLogError(chatID, "👋 You are logged out. Take care!")
}

func (b *Bot) handleRequestReset(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	email := strings.TrimSpace(msg.CommandArguments())
	if email == "" {
		b.SendMessageOrLogError(chatID, "Usage: /reset email")
		return
	}
	res, err := b.services.Client(chatID).RequestPasswordReset(ctx, email)
	if err != nil {
		b.replyError(chatID, err, "Could not request a reset code")
		return
	}
	text := "📬 " + html.EscapeString(res.Message)
	b.SendMessageOrLogError(chatID, text+"\nThen send /resetpw code newpassword")
}

func (b *Bot) handleResetPassword(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.safeDeleteMessage(chatID, msg.MessageID)

	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.SendMessageOrLogError(chatID, "Usage: /resetpw code newpassword")
		return
	}
	client := b.services.Client(chatID)
	if valid, err := client.VerifyResetToken(ctx, args[0]); err == nil && !valid {
		b.SendMessageOrLogError(chatID, "❌ That code is invalid or has expired. Send /reset email for a new one.")
		return
	}
	message, err := client.ResetPassword(ctx, args[0], args[1])
	if err != nil {
		b.replyError(chatID, err, "Could not reset the password")
		return
	}
	if message == "" {
		message = "Password updated."
	}
	b.SendMessageOrLogError(chatID, "✅ "+html.EscapeString(message)+" You can /login now.")
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) {
	client := b.authed(ctx, msg.Chat.ID)
	if client == nil {
		return
	}
	p, err := client.GetProfile(ctx)
	if err != nil {
		b.replyError(msg.Chat.ID, err, "Could not load your profile")
		return
	}
	b.SendMessageOrLogError(msg.Chat.ID, renderProfile(p, b.services.Analytics.Location()))
}

func (b *Bot) handleUsername(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	name := strings.TrimSpace(msg.CommandArguments())
	if name == "" {
		b.SendMessageOrLogError(chatID, "Usage: /username newname")
		return
	}
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	p, err := client.UpdateProfile(ctx, api.UpdateProfileData{Username: name})
	if err != nil {
		b.replyError(chatID, err, "Could not update your profile")
		return
	}
	b.SendMessageOrLogError(chatID, "✅ Profile updated.\n\n"+renderProfile(p, b.services.Analytics.Location()))
}

func (b *Bot) handleChangePassword(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.safeDeleteMessage(chatID, msg.MessageID)

	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.SendMessageOrLogError(chatID, "Usage: /password current new")
		return
	}
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	message, err := client.ChangePassword(ctx, args[0], args[1])
	if err != nil {
		b.replyError(chatID, err, "Could not change your password")
		return
	}
	if message == "" {
		message = "Password changed."
	}
	b.SendMessageOrLogError(chatID, "✅ "+html.EscapeString(message))
}

func (b *Bot) handleDeleteAccount(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.safeDeleteMessage(chatID, msg.MessageID)

	password := strings.TrimSpace(msg.CommandArguments())
	if password == "" {
		b.SendMessageOrLogError(chatID, "Usage: /deleteaccount password\nThis removes your account and all your data.")
		return
	}
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	if _, err := client.DeleteAccount(ctx, password); err != nil {
		b.replyError(chatID, err, "Could not delete your account")
		return
	}
	b.services.Chat.Reset(chatID)
	b.SendMessageOrLogError(chatID, "🗑 Your account was deleted. Take care of yourself.")
}

func (b *Bot) handleMood(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if b.authed(ctx, chatID) == nil {
		return
	}
	text := "🎭 Which mood should go with your messages?"
	if s, err := b.services.Repository().GetSession(ctx, chatID); err == nil && s.PendingMood.Valid() {
		text += "\nCurrently: " + utils.MoodLabel(s.PendingMood)
	}
	if _, err := b.send(chatID, text, moodKeyboard(moodPrefix)); err != nil {
		b.logger.Error("sending mood keyboard failed", zap.Error(err))
	}
}

func (b *Bot) selectMood(ctx context.Context, chatID int64, m mood.Type) string {
	if err := b.services.Repository().SetPendingMood(ctx, chatID, m); err != nil {
		b.logger.Warn("saving pending mood failed", zap.Error(err))
	}
	if err := b.services.Chat.SelectMood(ctx, chatID, b.services.Client(chatID), m); err != nil {
		b.logger.Debug("selecting mood on session failed", zap.Error(err))
	}
	b.SendMessageOrLogError(chatID, fmt.Sprintf("Your messages now carry %s", utils.MoodLabel(m)))
	return "Mood set to " + string(m)
}

func (b *Bot) handleFeel(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if b.authed(ctx, chatID) == nil {
		return
	}
	if _, err := b.send(chatID, "💬 How are you feeling right now?", moodKeyboard(feelPrefix)); err != nil {
		b.logger.Error("sending mood keyboard failed", zap.Error(err))
	}
}

func (b *Bot) dashboard(ctx context.Context, chatID int64) (*analytics.Dashboard, bool) {
	client := b.authed(ctx, chatID)
	if client == nil {
		return nil, false
	}
	d, err := b.services.Analytics.Dashboard(ctx, services.HistoryKey(chatID), client)
	if err != nil {
		b.replyError(chatID, err, "Could not load your data")
		return nil, false
	}
	return d, true
}

func (b *Bot) handleDashboard(ctx context.Context, msg *tgbotapi.Message) {
	if d, ok := b.dashboard(ctx, msg.Chat.ID); ok {
		b.SendMessageOrLogError(msg.Chat.ID, renderDashboard(d, b.services.Analytics.Location()))
	}
}

func (b *Bot) handleCalendar(ctx context.Context, msg *tgbotapi.Message) {
	if d, ok := b.dashboard(ctx, msg.Chat.ID); ok {
		b.SendMessageOrLogError(msg.Chat.ID, renderCalendar(d.Calendar, 14))
	}
}

func (b *Bot) handleStreak(ctx context.Context, msg *tgbotapi.Message) {
	if d, ok := b.dashboard(ctx, msg.Chat.ID); ok {
		b.SendMessageOrLogError(msg.Chat.ID, renderStreak(d.Streak))
	}
}

// handleInsights prefers the model-written insight and falls back to the
// one computed from the history.
func (b *Bot) handleInsights(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	in, err := client.AIInsight(ctx)
	switch {
	case errors.Is(err, api.ErrSessionExpired), errors.Is(err, api.ErrNotAuthenticated):
		b.replyError(chatID, err, "")
		return
	case err != nil:
		b.logger.Info("ai insight unavailable", zap.Int64("chat_id", chatID), zap.Error(err))
	case in.Summary != "":
		b.SendMessageOrLogError(chatID, renderInsight(in))
		return
	}
	if d, ok := b.dashboard(ctx, chatID); ok {
		b.SendMessageOrLogError(chatID, renderInsight(d.Insight))
	}
}

func (b *Bot) handleTrends(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	r := api.DefaultRange(b.services.Analytics.Now())
	t, err := client.MoodTrends(ctx, &r)
	if err != nil {
		b.replyError(chatID, err, "Could not load your trends")
		return
	}
	b.SendMessageOrLogError(chatID, renderTrends(t))
}

func (b *Bot) handleTimeline(ctx context.Context, msg *tgbotapi.Message) {
	if d, ok := b.dashboard(ctx, msg.Chat.ID); ok {
		b.SendMessageOrLogError(msg.Chat.ID, renderTimeline(d.Timeline, b.services.Analytics.Location(), 20))
	}
}

func (b *Bot) handleDay(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	as := b.services.Analytics
	date := strings.TrimSpace(msg.CommandArguments())
	if date == "" {
		date = utils.LocalDate(as.Now(), as.Location())
	}

	day, err := as.DayDetail(ctx, services.HistoryKey(chatID), client, date)
	if errors.Is(err, analytics.ErrInvalidDate) {
		b.SendMessageOrLogError(chatID, "Usage: /day YYYY-MM-DD")
		return
	}
	if err != nil {
		b.replyError(chatID, err, "Could not load that day")
		return
	}
	b.SendMessageOrLogError(chatID, renderDay(day))
}

func (b *Bot) handleReminders(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	var enabled bool
	switch strings.ToLower(strings.TrimSpace(msg.CommandArguments())) {
	case "on":
		enabled = true
	case "off":
	default:
		b.SendMessageOrLogError(chatID, "Usage: /reminders on|off")
		return
	}
	if err := b.services.Repository().SetReminders(ctx, chatID, enabled); err != nil {
		b.replyError(chatID, err, "Could not save your choice")
		return
	}
	if enabled {
		b.SendMessageOrLogError(chatID, "🔔 Daily check-in reminders are on.")
	} else {
		b.SendMessageOrLogError(chatID, "🔕 Daily check-in reminders are off.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	r := b.services.Status.Check(ctx)
	b.SendMessageOrLogError(msg.Chat.ID, renderStatus(r, b.services.Analytics.Location()))
}

// handleChat sends free text to Tala and streams the answer.
func (b *Bot) handleChat(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}

	var m mood.Type
	if s, err := b.services.Repository().GetSession(ctx, chatID); err == nil && s.PendingMood.Valid() {
		m = s.PendingMood
	}
	b.stream(ctx, chatID, func(onUpdate func(chat.State)) (services.Reply, error) {
		return b.services.Chat.Send(ctx, chatID, client, msg.Text, m, onUpdate)
	})
}

func (b *Bot) streamMood(ctx context.Context, chatID int64, m mood.Type, welcome bool) {
	client := b.authed(ctx, chatID)
	if client == nil {
		return
	}
	if err := b.services.Repository().SetPendingMood(ctx, chatID, m); err != nil {
		b.logger.Warn("saving pending mood failed", zap.Error(err))
	}
	b.stream(ctx, chatID, func(onUpdate func(chat.State)) (services.Reply, error) {
		return b.services.Chat.SendMood(ctx, chatID, client, m, welcome, onUpdate)
	})
}

// stream posts a placeholder and keeps editing it while the reply arrives.
func (b *Bot) stream(ctx context.Context, chatID int64, run func(onUpdate func(chat.State)) (services.Reply, error)) {
	placeholder, err := b.send(chatID, thinkingText, nil)
	if err != nil {
		b.logger.Error("sending placeholder failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	ed := &replyEditor{bot: b, chatID: chatID, messageID: placeholder.MessageID, interval: b.editInterval}

	reply, err := run(ed.update)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		b.safeDeleteMessage(chatID, placeholder.MessageID)
		return
	case errors.Is(err, chat.ErrStreamInFlight):
		ed.finish(stillAnswering)
		return
	case err != nil && len(reply.State.Messages) == 0:
		ed.finish(b.errorText(chatID, err, "Could not reach Tala"))
		return
	case err != nil:
		b.logger.Info("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	ed.finishReply(lastReply(reply.State))
	if reply.Summary != nil {
		b.SendMessageOrLogError(chatID, renderDaySummary(reply.Summary))
	}
}

func lastReply(st chat.State) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].From == chatlog.Tala {
			if st.Messages[i].Text == "" {
				break
			}
			return st.Messages[i].Text
		}
	}
	return chat.FallbackText
}

// replyEditor edits the placeholder at most once per interval. Texts are
// HTML.
type replyEditor struct {
	bot       *Bot
	chatID    int64
	messageID int
	interval  time.Duration
	last      string
	lastAt    time.Time
}

func (e *replyEditor) update(st chat.State) {
	p, ok := st.Placeholder()
	if !ok || p.Text == "" {
		return
	}
	text := html.EscapeString(splitMessage(p.Text, maxMessageLength)[0])
	if text == e.last || time.Since(e.lastAt) < e.interval {
		return
	}
	_ = e.set(text)
}

// finish shows an HTML notice in place of the placeholder.
func (e *replyEditor) finish(text string) {
	e.finishParts([]string{text})
}

// finishReply shows a plain-text reply, split into as many messages as
// Telegram's length limit needs.
func (e *replyEditor) finishReply(reply string) {
	parts := splitMessage(reply, maxMessageLength)
	for i, p := range parts {
		parts[i] = html.EscapeString(p)
	}
	e.finishParts(parts)
}

// finishParts edits the first part into the placeholder and sends the rest as
// new messages. When the edit fails every part is sent instead.
func (e *replyEditor) finishParts(parts []string) {
	rest := parts[1:]
	if parts[0] != e.last {
		if err := e.set(parts[0]); err != nil {
			rest = parts
		}
	}
	for _, p := range rest {
		if _, err := e.bot.send(e.chatID, p, nil); err != nil {
			e.bot.logger.Warn("sending reply failed", zap.Int64("chat_id", e.chatID), zap.Error(err))
			return
		}
	}
}

func (e *replyEditor) set(text string) error {
	if err := e.bot.edit(e.chatID, e.messageID, text); err != nil {
		e.bot.logger.Warn("editing reply failed", zap.Int64("chat_id", e.chatID), zap.Error(err))
		return err
	}
	e.last, e.lastAt = text, time.Now()
	return nil
}
