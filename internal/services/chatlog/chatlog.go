// Package chatlog keeps the durable, capped text log of everything NPCs have
// said in a scene.
package chatlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultLimit = 500

// Entry is one logged line.
type Entry struct {
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Source      string    `json:"source,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Line renders the entry the way it appears in the chat pane.
func (e Entry) Line() string {
	name := e.SpeakerName
	if name == "" {
		name = e.SpeakerID
	}
	return name + ": " + e.Text
}

// Log is a Redis list of JSON entries, trimmed to the newest limit items on
// every append.
type Log struct {
	rdb     *redis.Client
	sceneID string
	limit   int
	logger  *slog.Logger
}

func New(rdb *redis.Client, sceneID string, limit int, logger *slog.Logger) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{rdb: rdb, sceneID: sceneID, limit: limit, logger: logger}
}

func (l *Log) key() string {
	return fmt.Sprintf("scene-chat:%s", l.sceneID)
}

// Append adds an entry to the end of the log.
func (l *Log) Append(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal chat entry: %w", err)
	}
	key := l.key()
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-l.limit), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat entry: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest entries, oldest first. A limit of
// zero or less returns the whole log.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := l.rdb.LRange(ctx, l.key(), start, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read chat log: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			l.logger.Warn("Skipping malformed chat entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear removes every entry.
func (l *Log) Clear(ctx context.Context) error {
	if err := l.rdb.Del(ctx, l.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear chat log: %w", err)
	}
	return nil
}

// Depth returns the number of logged entries.
func (l *Log) Depth(ctx context.Context) (int, error) {
	count, err := l.rdb.LLen(ctx, l.key()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get chat log depth: %w", err)
	}
	return int(count), nil
}
