package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/textfilter"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelName string `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level

	// Storage
	RedisURL       string `env:"REDIS_URL" envDefault:"localhost:6379"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"redis"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"./data/dialogue.db"`
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	SceneID        string `env:"SCENE_ID" envDefault:"default"`

	// Engine
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	DefaultRange    float64       `env:"DEFAULT_RANGE" envDefault:"30"`
	MaxRange        float64       `env:"MAX_RANGE" envDefault:"120"`
	DefaultInterval time.Duration `env:"DEFAULT_INTERVAL" envDefault:"10s"`
	GridSize        float64       `env:"GRID_SIZE" envDefault:"5"`

	// Dispatch
	PresentationTTL time.Duration `env:"PRESENTATION_TTL" envDefault:"5s"`
	LabelOffset     float64       `env:"LABEL_OFFSET" envDefault:"2"`
	ChatLogLimit    int           `env:"CHAT_LOG_LIMIT" envDefault:"500"`
	ContentRating   string        `env:"CONTENT_RATING" envDefault:"PG13"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)
	cfg.ContentRating = string(textfilter.ParseRating(cfg.ContentRating))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	// broadcast and the text log always run on redis
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL must not be empty"))
	}
	switch c.StorageBackend {
	case storage.BackendRedis:
	case storage.BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", storage.BackendRedis, storage.BackendSQLite, c.StorageBackend))
	}
	if strings.TrimSpace(c.SceneID) == "" {
		errs = append(errs, errors.New("SCENE_ID must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.MaxRange <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RANGE must be positive, got %g", c.MaxRange))
	}
	if c.DefaultRange <= 0 || c.DefaultRange > c.MaxRange {
		errs = append(errs, fmt.Errorf("DEFAULT_RANGE must be in (0, %g], got %g", c.MaxRange, c.DefaultRange))
	}
	if c.DefaultInterval < time.Second || c.DefaultInterval > time.Hour {
		errs = append(errs, fmt.Errorf("DEFAULT_INTERVAL must be between 1s and 1h, got %s", c.DefaultInterval))
	}
	if c.PresentationTTL <= 0 {
		errs = append(errs, fmt.Errorf("PRESENTATION_TTL must be positive, got %s", c.PresentationTTL))
	}
	if c.ChatLogLimit <= 0 {
		errs = append(errs, fmt.Errorf("CHAT_LOG_LIMIT must be positive, got %d", c.ChatLogLimit))
	}
	if c.GridSize < 0 {
		errs = append(errs, fmt.Errorf("GRID_SIZE must not be negative, got %g", c.GridSize))
	}
	return errors.Join(errs...)
}

// StorageDSN is the connection string for the configured backend.
func (c *Config) StorageDSN() string {
	if c.StorageBackend == storage.BackendSQLite {
		return c.SQLitePath
	}
	return c.RedisURL
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
