package database

import (
	"time"

	"tala-companion/internal/auth"
	"tala-companion/internal/mood"
)

// ChatSession is everything the bot remembers about one Telegram chat.
type ChatSession struct {
	ChatID       int64     `json:"chat_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	PendingMood  mood.Type `json:"pending_mood,omitempty"`
	Welcomed     bool      `json:"welcomed"`
	Reminders    bool      `json:"reminders"`
	LastReminded string    `json:"last_reminded,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s ChatSession) Linked() bool {
	return s.AccessToken != ""
}

func (s ChatSession) Tokens() auth.Tokens {
	return auth.Tokens{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}
