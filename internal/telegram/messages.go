package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tala-companion/internal/analytics"
	"tala-companion/internal/api"
	"tala-companion/internal/mood"
	"tala-companion/internal/services"
	"tala-companion/internal/utils"
)

const (
	thinkingText   = "💭 …"
	loginPrompt    = "🔒 Please log in first: /login email password\nNo account yet? /signup email name password"
	sessionEnded   = "🔒 Your session has ended. Please /login again."
	stillAnswering = "⏳ Tala is still answering your previous message."
	noDataText     = "📭 Not enough data yet. Chat with Tala and log your moods to see your patterns."

	// maxMessageLength is Telegram's limit on the text of one message.
	maxMessageLength = 4096
)

const helpText = `🌿 <b>Tala</b>, your mental wellness companion

<b>Account</b>
/login email password
/signup email name password
/logout
/reset email - request a password reset code
/resetpw code newpassword - set a new password
/profile - your account
/username newname - change your username
/password current new - change your password
/deleteaccount password - delete your account

<b>Talking with Tala</b>
Just write a message and Tala answers.
/mood - choose the mood sent with your messages
/feel - tell Tala how you feel right now

<b>Your patterns</b>
/dashboard - overview
/calendar - first and last mood per day
/streak - consecutive days with a mood
/insights - what your moods say
/timeline - recent mood trend
/trends - mood shifts over the last 30 days
/day YYYY-MM-DD - one day in detail
/reminders on|off - daily check-in reminder

/status - is Tala online?`

func welcomeText(name string) string {
	greeting := "Hi there!"
	if name != "" {
		greeting = fmt.Sprintf("Hi %s!", html.EscapeString(name))
	}
	return fmt.Sprintf("👋 <b>%s</b> I'm Tala.\n\nBefore we start, how are you feeling right now?", greeting)
}

// moodKeyboard lays the moods out three per row. Each button carries
// prefix + mood as callback data.
func moodKeyboard(prefix string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, m := range mood.All() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(utils.MoodLabel(m), prefix+string(m)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func renderDistribution(rows []analytics.DistributionRow, limit int) string {
	var b strings.Builder
	for i, r := range rows {
		if limit > 0 && i == limit {
			break
		}
		fmt.Fprintf(&b, "%s %s  %d (%.0f%%)\n", r.Mood.Emoji(), r.Mood, r.Count, r.Percentage)
	}
	return b.String()
}

func renderStreak(s analytics.Streak) string {
	return fmt.Sprintf("🔥 <b>Current streak:</b> %d %s\n🏆 <b>Longest streak:</b> %d %s",
		s.Current, plural(s.Current, "day"), s.Longest, plural(s.Longest, "day"))
}

func renderInsight(in *analytics.Insight) string {
	if in == nil {
		return noDataText
	}
	return fmt.Sprintf("💡 <b>Insights</b>\n\n%s\n\n%s\n\n🌱 <i>%s</i>",
		html.EscapeString(in.Summary), html.EscapeString(in.Insight), html.EscapeString(in.Advice))
}

func renderCalendar(days []analytics.CalendarDay, limit int) string {
	if len(days) == 0 {
		return noDataText
	}
	if limit > 0 && len(days) > limit {
		days = days[len(days)-limit:]
	}
	var b strings.Builder
	b.WriteString("📅 <b>Mood calendar</b>\n\n")
	for _, d := range days {
		fmt.Fprintf(&b, "<code>%s</code> %s → %s (%d)\n",
			d.Date, utils.MoodLabel(d.InitialMood), utils.MoodLabel(d.FinalMood), d.TotalEntries)
	}
	return b.String()
}

var sparks = []rune("▁▂▃▄▅▆▇█")

func spark(v float64) string {
	i := int((v - 1) / 9 * float64(len(sparks)-1))
	i = max(0, min(i, len(sparks)-1))
	return string(sparks[i])
}

func renderTimeline(points []analytics.TimelinePoint, loc *time.Location, limit int) string {
	if len(points) == 0 {
		return "📈 Log at least two moods to see a trend."
	}
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	var line, b strings.Builder
	for _, p := range points {
		line.WriteString(spark(p.Value))
		fmt.Fprintf(&b, "<code>%s</code> %s\n", p.Timestamp.In(loc).Format("Jan 02 15:04"), utils.MoodLabel(p.Mood))
	}
	return fmt.Sprintf("📈 <b>Mood timeline</b>\n\n<code>%s</code>\n\n%s", line.String(), b.String())
}

func renderDashboard(d *analytics.Dashboard, loc *time.Location) string {
	if len(d.Distribution) == 0 {
		return noDataText
	}
	var b strings.Builder
	b.WriteString("📊 <b>Your dashboard</b>\n\n")
	b.WriteString(renderStreak(d.Streak))
	b.WriteString("\n\n<b>Most frequent moods</b>\n")
	b.WriteString(renderDistribution(d.Distribution, 5))
	b.WriteString(renderCategories(d.Distribution))

	if len(d.ActivePeriods) > 0 {
		top := d.ActivePeriods[0]
		fmt.Fprintf(&b, "\n⏰ You talk most around <b>%s</b> (%d %s)\n", top.TimePeriod, top.Count, plural(top.Count, "message"))
	}
	if d.Insight != nil {
		fmt.Fprintf(&b, "\n💡 %s\n", html.EscapeString(d.Insight.Summary))
	}
	fmt.Fprintf(&b, "\n<i>Updated %s</i>", d.LastUpdated.In(loc).Format("Jan 02 15:04"))
	return b.String()
}

// renderCategories sums the distribution by mood category on one line.
func renderCategories(rows []analytics.DistributionRow) string {
	counts := make(map[mood.Category]int)
	for _, r := range rows {
		counts[r.Mood.Category()] += r.Count
	}
	parts := make([]string, 0, 3)
	for _, c := range []mood.Category{mood.Positive, mood.Neutral, mood.Negative} {
		parts = append(parts, fmt.Sprintf("%s %d", utils.CategoryEmoji(c), counts[c]))
	}
	return "\n" + strings.Join(parts, " · ") + "\n"
}

func renderTrends(t *api.MoodTrends) string {
	if t == nil || len(t.Frequencies) == 0 {
		return noDataText
	}
	var b strings.Builder
	b.WriteString("🔄 <b>Mood trends</b> (30 days)\n\n")
	for i, f := range t.Frequencies {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%s  %d\n", utils.MoodLabel(f.Mood), f.Count)
	}
	if len(t.Transitions) > 0 {
		b.WriteString("\n<b>Common shifts</b>\n")
		for i, tr := range t.Transitions {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "%s → %s (%d×)\n", utils.MoodLabel(tr.PrevMood), utils.MoodLabel(tr.NextMood), tr.TransitionCount)
		}
	}
	if v := t.Volatility; v != nil {
		fmt.Fprintf(&b, "\n📐 Volatility %.2f · %.1f moods a day", v.VolatilityIndex, v.AvgDailyEntries)
	}
	return b.String()
}

func renderDay(d analytics.DaySummary) string {
	if d.Empty() {
		return fmt.Sprintf("📭 Nothing recorded on %s.", d.Date)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🗓 <b>%s</b>\n\n%s\n", d.Date, html.EscapeString(d.Summary))
	for _, in := range d.Insights {
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(in))
	}
	return b.String()
}

func renderDaySummary(s *api.DaySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📝 <b>Your day so far</b>\n\n%s\n", html.EscapeString(s.Summary))
	for _, in := range s.Insights {
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(in))
	}
	return b.String()
}

func renderStatus(r services.StatusReport, loc *time.Location) string {
	state := "offline"
	if r.Online() {
		state = "online"
	}
	text := fmt.Sprintf("%s Tala is <b>%s</b>", utils.StatusEmoji(r.Online()), state)
	if r.Message != "" {
		text += "\n" + html.EscapeString(r.Message)
	}
	return text + "\n\n" + utils.TimezoneInfo(loc, r.CheckedAt)
}

func renderProfile(p *api.Profile, loc *time.Location) string {
	text := fmt.Sprintf("👤 <b>%s</b>\n📧 %s", html.EscapeString(p.Username), html.EscapeString(p.Email))
	if p.CreatedAt != "" {
		if t, err := utils.ParseTimestamp(p.CreatedAt, loc); err == nil {
			text += "\n🗓 Member since " + t.In(loc).Format("January 2006")
		}
	}
	return text
}

// splitMessage cuts text into parts of at most limit runes, preferring to cut
// after a line break. It always returns at least one part.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		cut, n := len(text), 0
		for i := range text {
			if n == limit {
				cut = i
				break
			}
			n++
		}
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= cut/2 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func (b *Bot) SendMessageOrLogError(chatID int64, message string) {
	if err := b.SendMessage(chatID, message); err != nil {
		b.logger.Error("sending message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
