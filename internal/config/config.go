package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"tala-companion/internal/api"
	"tala-companion/internal/chat"
	"tala-companion/internal/chatlog"
	"tala-companion/internal/utils"
)

type Config struct {
	Telegram struct {
		Token        string        `yaml:"token"`
		AdminChatID  int64         `yaml:"admin_chat_id"`
		EditInterval time.Duration `yaml:"edit_interval"`
	} `yaml:"telegram"`
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Chat struct {
		StreamTimeout time.Duration `yaml:"stream_timeout"`
		IdleTimeout   time.Duration `yaml:"idle_timeout"`
	} `yaml:"chat"`
	Analytics struct {
		Timezone        string        `yaml:"timezone"`
		MoodMatchWindow time.Duration `yaml:"mood_match_window"`
		DedupeWindow    time.Duration `yaml:"dedupe_window"`
	} `yaml:"analytics"`
	Schedule struct {
		StatusPoll string `yaml:"status_poll"`
		Reminder   string `yaml:"reminder"`
	} `yaml:"schedule"`
	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Telegram.EditInterval = time.Second
	cfg.API.BaseURL = api.DefaultBaseURL
	cfg.API.Timeout = api.DefaultTimeout
	cfg.Database.Path = "tala.db"
	cfg.Chat.StreamTimeout = chat.DefaultStreamTimeout
	cfg.Chat.IdleTimeout = chat.DefaultIdleTimeout
	cfg.Analytics.Timezone = "Local"
	cfg.Analytics.MoodMatchWindow = chatlog.DefaultMatchWindow
	cfg.Analytics.DedupeWindow = 5 * time.Second
	cfg.Schedule.StatusPoll = "@every 30s"
	cfg.Schedule.Reminder = "0 20 * * *"
	cfg.Log.Level = "info"
	return cfg
}

// Load layers defaults, the optional YAML file at path, .env files and the
// process environment, later layers winning.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := loadDotEnv(".env.local", ".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv never overrides variables that are already set, so the first
// file to define a key wins.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Telegram.Token = getEnv("TG_TOKEN", c.Telegram.Token)
	c.API.BaseURL = getEnv("TALA_API_URL", c.API.BaseURL)
	c.Database.Path = getEnv("DB_PATH", c.Database.Path)
	c.Analytics.Timezone = getEnv("TALA_TZ", c.Analytics.Timezone)
	c.Schedule.Reminder = getEnv("TALA_REMINDER_CRON", c.Schedule.Reminder)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	var errs []error
	if v := os.Getenv("TG_ADMIN_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TG_ADMIN_CHAT_ID: %w", err))
		}
		c.Telegram.AdminChatID = id
	}
	if v := os.Getenv("LOG_DEVELOPMENT"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_DEVELOPMENT: %w", err))
		}
		c.Log.Development = dev
	}
	for key, dst := range map[string]*time.Duration{
		"TALA_API_TIMEOUT":    &c.API.Timeout,
		"TALA_STREAM_TIMEOUT": &c.Chat.StreamTimeout,
		"TALA_IDLE_TIMEOUT":   &c.Chat.IdleTimeout,
		"TALA_MOOD_WINDOW":    &c.Analytics.MoodMatchWindow,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = d
		}
	}
	return errors.Join(errs...)
}

// Validate checks the settings every command needs. The Telegram token is
// only required when bot is set.
func (c *Config) Validate(bot bool) error {
	var errs []error
	if bot && c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is not set (TG_TOKEN)"))
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("api base url %q must be http(s)", c.API.BaseURL))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	for name, d := range map[string]time.Duration{
		"api.timeout":                 c.API.Timeout,
		"chat.stream_timeout":         c.Chat.StreamTimeout,
		"chat.idle_timeout":           c.Chat.IdleTimeout,
		"analytics.mood_match_window": c.Analytics.MoodMatchWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := utils.LoadLocation(c.Analytics.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("analytics.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location is the viewer's timezone. Validate rejects unknown names, so the
// UTC fallback only covers an unvalidated config.
func (c *Config) Location() *time.Location {
	loc, err := utils.LoadLocation(c.Analytics.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewLogger builds the process logger: JSON in production, console output
// in development.
func (l LogConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
