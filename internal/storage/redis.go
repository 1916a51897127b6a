package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Store with one hash per entity for flags and one
// hash for world settings, all namespaced by scene.
type RedisStorage struct {
	client  *redis.Client
	logger  *slog.Logger
	sceneID string
}

// Ensure RedisStorage implements Store interface
var _ Store = (*RedisStorage)(nil)

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func NewRedisStorage(redisURL, sceneID string, logger *slog.Logger) (*RedisStorage, error) {
	rdb, err := NewRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStorage{
		client:  rdb,
		logger:  logger,
		sceneID: sceneID,
	}, nil
}

func (r *RedisStorage) entityKey(entityID string) string {
	return "scene:" + r.sceneID + ":entity-flags:" + entityID
}

func (r *RedisStorage) worldKey() string {
	return "scene:" + r.sceneID + ":world-settings"
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// Entity flag operations

func (r *RedisStorage) GetEntityFlag(ctx context.Context, entityID, key string) ([]byte, error) {
	data, err := r.client.HGet(ctx, r.entityKey(entityID), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.logger.Error("Failed to load entity flag", "entity_id", entityID, "flag", key, "error", err)
		return nil, fmt.Errorf("failed to load entity flag: %w", err)
	}
	return data, nil
}

func (r *RedisStorage) SetEntityFlag(ctx context.Context, entityID, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.entityKey(entityID), key, value).Err(); err != nil {
		r.logger.Error("Failed to save entity flag", "entity_id", entityID, "flag", key, "error", err)
		return fmt.Errorf("failed to save entity flag: %w", err)
	}
	return nil
}

func (r *RedisStorage) UnsetEntityFlag(ctx context.Context, entityID, key string) error {
	if err := r.client.HDel(ctx, r.entityKey(entityID), key).Err(); err != nil {
		r.logger.Error("Failed to unset entity flag", "entity_id", entityID, "flag", key, "error", err)
		return fmt.Errorf("failed to unset entity flag: %w", err)
	}
	return nil
}

// World setting operations

func (r *RedisStorage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.HGet(ctx, r.worldKey(), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		r.logger.Error("Failed to load world setting", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to load world setting: %w", err)
	}
	return val, true, nil
}

func (r *RedisStorage) SetSetting(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.worldKey(), key, value).Err(); err != nil {
		r.logger.Error("Failed to save world setting", "key", key, "error", err)
		return fmt.Errorf("failed to save world setting: %w", err)
	}
	return nil
}
