// Package storage persists per-entity flags and world-level settings for one
// scene, and loads dialogue corpora from the data directory.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// EntityStore holds durable key/value flags attached to scene entities.
// GetEntityFlag returns nil, nil when the flag is not set.
type EntityStore interface {
	GetEntityFlag(ctx context.Context, entityID, key string) ([]byte, error)
	SetEntityFlag(ctx context.Context, entityID, key string, value []byte) error
	UnsetEntityFlag(ctx context.Context, entityID, key string) error
}

// WorldStore holds durable world-level settings. The bool result reports
// whether the key was present.
type WorldStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is a complete durable backend.
type Store interface {
	EntityStore
	WorldStore
	Ping(ctx context.Context) error
	Close() error
}

const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Open builds the backend named by backend. dsn is a Redis URL or address
// for the redis backend and a file path for sqlite.
func Open(backend, dsn, sceneID string, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendRedis:
		return NewRedisStorage(dsn, sceneID, logger)
	case BackendSQLite:
		return NewSQLiteStorage(dsn, sceneID, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", backend)
	}
}

// WaitForConnection pings the store until it answers or attempts run out.
func WaitForConnection(ctx context.Context, s Store, logger *slog.Logger) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := s.Ping(ctx); err != nil {
			logger.Debug("Storage not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for storage: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		logger.Info("Storage connection established")
		return nil
	}

	return fmt.Errorf("storage did not become available after %d attempts", maxRetries)
}
