package chatlog

import (
	"time"

	"tala-companion/internal/mood"
	"tala-companion/internal/utils"
)

// Sender is the author field of a raw log entry as sent by the API.
type Sender string

const (
	FromUser Sender = "user"
	FromTala Sender = "tala"
)

// Author is the author field of a normalized message.
type Author string

const (
	Me   Author = "me"
	Tala Author = "tala"
)

type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	From      Sender    `json:"from"`
	Timestamp string    `json:"timestamp"`
	Mood      mood.Type `json:"mood,omitempty"`
}

type MoodEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Mood      mood.Type `json:"mood"`
	Timestamp string    `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// FormattedMessage is a chat message bucketed into the viewer's local date
// and clock time.
type FormattedMessage struct {
	From Author    `json:"from"`
	Text string    `json:"text"`
	Time string    `json:"time"`
	Date string    `json:"date"`
	Mood mood.Type `json:"mood,omitempty"`
}

func (m FormattedMessage) HasMood() bool {
	return m.Mood != ""
}

func (m FormattedMessage) Dated() bool {
	return m.Date != ""
}

// Instant recovers the moment the message was stamped. ok is false for
// undated messages.
func (m FormattedMessage) Instant(loc *time.Location) (time.Time, bool) {
	if m.Date == "" || m.Time == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(utils.DateLayout+" "+utils.TimeLayout, m.Date+" "+m.Time, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NewMessage stamps a message with the local date and time of at.
func NewMessage(from Author, text string, m mood.Type, at time.Time, loc *time.Location) FormattedMessage {
	return FormattedMessage{
		From: from,
		Text: text,
		Time: utils.LocalClock(at, loc),
		Date: utils.LocalDate(at, loc),
		Mood: m,
	}
}

// ToEntry converts a normalized message back into its raw form. Undated
// messages produce an entry without a timestamp.
func ToEntry(m FormattedMessage, loc *time.Location) Entry {
	e := Entry{
		Content: m.Text,
		From:    FromTala,
		Mood:    m.Mood,
	}
	if m.From == Me {
		e.From = FromUser
	}
	if t, ok := m.Instant(loc); ok {
		e.ID = "chat-" + m.Date + "-" + m.Time
		e.Timestamp = t.UTC().Format(time.RFC3339Nano)
	}
	return e
}

// GroupByDate buckets dated messages by local date. Undated messages are
// dropped.
func GroupByDate(msgs []FormattedMessage) map[string][]FormattedMessage {
	out := make(map[string][]FormattedMessage)
	for _, m := range msgs {
		if !m.Dated() {
			continue
		}
		out[m.Date] = append(out[m.Date], m)
	}
	return out
}

// LatestMood returns the mood of the most recent entry, or "" when there is
// none. Zone-less timestamps are read in loc.
func LatestMood(entries []MoodEntry, loc *time.Location) mood.Type {
	var (
		latest mood.Type
		best   time.Time
	)
	for _, e := range entries {
		t, err := utils.ParseTimestamp(e.Timestamp, loc)
		if err != nil {
			continue
		}
		if latest == "" || t.After(best) {
			latest, best = e.Mood, t
		}
	}
	return latest
}
