package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tala-companion/internal/auth"
	"tala-companion/internal/mood"
)

var ErrSessionNotFound = errors.New("chat session not found")

type Repository struct {
	Db *Database
}

func NewRepository(db *Database) *Repository {
	return &Repository{Db: db}
}

const sessionColumns = `chat_id, access_token, refresh_token, pending_mood, welcomed, reminders, last_reminded, updated_at`

func scanSession(row interface{ Scan(...any) error }) (ChatSession, error) {
	var s ChatSession
	var pending string
	err := row.Scan(
		&s.ChatID,
		&s.AccessToken,
		&s.RefreshToken,
		&pending,
		&s.Welcomed,
		&s.Reminders,
		&s.LastReminded,
		&s.UpdatedAt,
	)
	s.PendingMood = mood.Type(pending)
	return s, err
}

func (r *Repository) GetSession(ctx context.Context, chatID int64) (*ChatSession, error) {
	row := r.Db.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE chat_id = ?`, chatID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session %d: %w", chatID, err)
	}
	return &s, nil
}

// ensure creates the row for chatID if it does not exist yet.
func (r *Repository) ensure(ctx context.Context, chatID int64) error {
	_, err := r.Db.db.ExecContext(ctx, `INSERT OR IGNORE INTO chat_sessions (chat_id) VALUES (?)`, chatID)
	if err != nil {
		return fmt.Errorf("create chat session %d: %w", chatID, err)
	}
	return nil
}

func (r *Repository) update(ctx context.Context, chatID int64, set string, args ...any) error {
	if err := r.ensure(ctx, chatID); err != nil {
		return err
	}
	args = append(args, chatID)
	_, err := r.Db.db.ExecContext(ctx,
		`UPDATE chat_sessions SET `+set+`, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update chat session %d: %w", chatID, err)
	}
	return nil
}

func (r *Repository) SaveTokens(ctx context.Context, chatID int64, tokens auth.Tokens) error {
	return r.update(ctx, chatID, `access_token = ?, refresh_token = ?`, tokens.AccessToken, tokens.RefreshToken)
}

func (r *Repository) ClearTokens(ctx context.Context, chatID int64) error {
	return r.update(ctx, chatID, `access_token = '', refresh_token = ''`)
}

func (r *Repository) SetPendingMood(ctx context.Context, chatID int64, m mood.Type) error {
	return r.update(ctx, chatID, `pending_mood = ?`, string(m))
}

func (r *Repository) SetWelcomed(ctx context.Context, chatID int64, welcomed bool) error {
	return r.update(ctx, chatID, `welcomed = ?`, welcomed)
}

func (r *Repository) SetReminders(ctx context.Context, chatID int64, enabled bool) error {
	return r.update(ctx, chatID, `reminders = ?`, enabled)
}

func (r *Repository) MarkReminded(ctx context.Context, chatID int64, date string) error {
	return r.update(ctx, chatID, `last_reminded = ?`, date)
}

// ReminderTargets lists linked chats with reminders on that have not been
// reminded on date yet.
func (r *Repository) ReminderTargets(ctx context.Context, date string) ([]ChatSession, error) {
	rows, err := r.Db.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE access_token != '' AND reminders = 1 AND last_reminded != ?
		ORDER BY chat_id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list reminder targets: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// TokenStore keeps the tokens of a single chat.
type TokenStore struct {
	repo   *Repository
	chatID int64
}

func (r *Repository) TokenStore(chatID int64) *TokenStore {
	return &TokenStore{repo: r, chatID: chatID}
}

func (s *TokenStore) Load(ctx context.Context) (auth.Tokens, error) {
	sess, err := s.repo.GetSession(ctx, s.chatID)
	if errors.Is(err, ErrSessionNotFound) {
		return auth.Tokens{}, auth.ErrNoTokens
	}
	if err != nil {
		return auth.Tokens{}, err
	}
	if !sess.Linked() {
		return auth.Tokens{}, auth.ErrNoTokens
	}
	return sess.Tokens(), nil
}

func (s *TokenStore) Save(ctx context.Context, tokens auth.Tokens) error {
	return s.repo.SaveTokens(ctx, s.chatID, tokens)
}

func (s *TokenStore) Clear(ctx context.Context) error {
	return s.repo.ClearTokens(ctx, s.chatID)
}
