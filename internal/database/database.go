package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Database struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, path string, logger *zap.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serialises writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	d := &Database{db: db, logger: logger.Named("database")}
	if err := d.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	d.logger.Info("database ready", zap.String("path", path))
	return d, nil
}

func (d *Database) init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			chat_id INTEGER PRIMARY KEY,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			pending_mood TEXT NOT NULL DEFAULT '',
			welcomed BOOLEAN NOT NULL DEFAULT 0,
			reminders BOOLEAN NOT NULL DEFAULT 1,
			last_reminded TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_reminders ON chat_sessions(reminders)`,
	}

	for _, query := range queries {
		if _, err := d.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}
