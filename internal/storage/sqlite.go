package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entity_flags (
	scene_id  TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	flag      TEXT NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (scene_id, entity_id, flag)
);
CREATE TABLE IF NOT EXISTS world_settings (
	scene_id TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (scene_id, key)
);`

// SQLiteStorage implements Store on a local SQLite file, for hosts that run
// without Redis.
type SQLiteStorage struct {
	db      *sql.DB
	logger  *slog.Logger
	sceneID string
}

var _ Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLiteStorage(path, sceneID string, logger *slog.Logger) (*SQLiteStorage, error) {
	if path == "" {
		path = "conversation.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db, logger: logger, sceneID: sceneID}, nil
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close SQLite database", "error", err)
		return err
	}
	s.logger.Info("SQLite database closed")
	return nil
}

func (s *SQLiteStorage) GetEntityFlag(ctx context.Context, entityID, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entity_flags WHERE scene_id = ? AND entity_id = ? AND flag = ?`,
		s.sceneID, entityID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Failed to load entity flag", "entity_id", entityID, "flag", key, "error", err)
		return nil, fmt.Errorf("failed to load entity flag: %w", err)
	}
	return value, nil
}

func (s *SQLiteStorage) SetEntityFlag(ctx context.Context, entityID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_flags (scene_id, entity_id, flag, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (scene_id, entity_id, flag) DO UPDATE SET value = excluded.value`,
		s.sceneID, entityID, key, value,
	)
	if err != nil {
		s.logger.Error("Failed to save entity flag", "entity_id", entityID, "flag", key, "error", err)
		return fmt.Errorf("failed to save entity flag: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UnsetEntityFlag(ctx context.Context, entityID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_flags WHERE scene_id = ? AND entity_id = ? AND flag = ?`,
		s.sceneID, entityID, key,
	)
	if err != nil {
		s.logger.Error("Failed to unset entity flag", "entity_id", entityID, "flag", key, "error", err)
		return fmt.Errorf("failed to unset entity flag: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM world_settings WHERE scene_id = ? AND key = ?`,
		s.sceneID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("Failed to load world setting", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to load world setting: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO world_settings (scene_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (scene_id, key) DO UPDATE SET value = excluded.value`,
		s.sceneID, key, value,
	)
	if err != nil {
		s.logger.Error("Failed to save world setting", "key", key, "error", err)
		return fmt.Errorf("failed to save world setting: %w", err)
	}
	return nil
}
