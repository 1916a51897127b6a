// Package settings reads and writes the world-level toggles that govern the
// dialogue engine: global pause, aura enablement, default range and
// interval, and which presentation channels are active.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

// World storage keys.
const (
	KeyGlobalPause        = "global-pause"
	KeyAurasEnabled       = "auras-enabled"
	KeyDefaultRange       = "default-range"
	KeyDefaultInterval    = "default-interval"
	KeyFloatingText       = "floating-text"
	KeyChatMessage        = "chat-message"
	KeyConversationGroups = "conversation-groups"
)

const (
	MinRange    = 5.0
	MinInterval = time.Second
	MaxInterval = time.Hour
)

// Snapshot is the settings in effect for one engine tick.
type Snapshot struct {
	GlobalPause     bool
	AurasEnabled    bool
	DefaultRange    float64
	DefaultInterval time.Duration
	FloatingText    bool
	ChatMessage     bool
}

type snapshotJSON struct {
	GlobalPause     bool    `json:"global_pause"`
	AurasEnabled    bool    `json:"auras_enabled"`
	DefaultRange    float64 `json:"default_range"`
	DefaultInterval float64 `json:"default_interval"` // seconds
	FloatingText    bool    `json:"floating_text"`
	ChatMessage     bool    `json:"chat_message"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		GlobalPause:     s.GlobalPause,
		AurasEnabled:    s.AurasEnabled,
		DefaultRange:    s.DefaultRange,
		DefaultInterval: s.DefaultInterval.Seconds(),
		FloatingText:    s.FloatingText,
		ChatMessage:     s.ChatMessage,
	})
}

// Patch is a partial settings update. Nil fields are left unchanged.
type Patch struct {
	GlobalPause     *bool    `json:"global_pause,omitempty"`
	AurasEnabled    *bool    `json:"auras_enabled,omitempty"`
	DefaultRange    *float64 `json:"default_range,omitempty"`
	DefaultInterval *float64 `json:"default_interval,omitempty"` // seconds
	FloatingText    *bool    `json:"floating_text,omitempty"`
	ChatMessage     *bool    `json:"chat_message,omitempty"`
}

// Service loads settings from world storage, falling back to the configured
// defaults for any key that was never written.
type Service struct {
	store    storage.WorldStore
	defaults Snapshot
	maxRange float64
	logger   *slog.Logger
}

func New(store storage.WorldStore, defaults Snapshot, maxRange float64, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		defaults: defaults,
		maxRange: maxRange,
		logger:   logger,
	}
}

// Defaults returns the configured fallback values.
func (s *Service) Defaults() Snapshot {
	return s.defaults
}

// MaxRange is the operator bound on any trigger range.
func (s *Service) MaxRange() float64 {
	return s.maxRange
}

// Load reads every setting. Malformed stored values are logged and replaced
// by the default; only storage failures are returned.
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	snap := s.defaults
	var errs []error

	readBool := func(key string, dst *bool) {
		raw, ok, err := s.store.GetSetting(ctx, key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if !ok {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.logger.Warn("Ignoring malformed world setting", "key", key, "value", raw)
			return
		}
		*dst = v
	}

	readFloat := func(key string) (float64, bool) {
		raw, ok, err := s.store.GetSetting(ctx, key)
		if err != nil {
			errs = append(errs, err)
			return 0, false
		}
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.logger.Warn("Ignoring malformed world setting", "key", key, "value", raw)
			return 0, false
		}
		return v, true
	}

	readBool(KeyGlobalPause, &snap.GlobalPause)
	readBool(KeyAurasEnabled, &snap.AurasEnabled)
	readBool(KeyFloatingText, &snap.FloatingText)
	readBool(KeyChatMessage, &snap.ChatMessage)

	if v, ok := readFloat(KeyDefaultRange); ok {
		if err := s.validateRange(v); err != nil {
			s.logger.Warn("Ignoring out-of-bounds default range", "value", v, "error", err)
		} else {
			snap.DefaultRange = v
		}
	}
	if v, ok := readFloat(KeyDefaultInterval); ok {
		d := time.Duration(v * float64(time.Second))
		if err := validateInterval(d); err != nil {
			s.logger.Warn("Ignoring out-of-bounds default interval", "value", v, "error", err)
		} else {
			snap.DefaultInterval = d
		}
	}

	if err := errors.Join(errs...); err != nil {
		return snap, fmt.Errorf("%w: failed to load world settings: %w", dialogue.ErrPersistence, err)
	}
	return snap, nil
}

// SetGlobalPause writes the pause flag.
func (s *Service) SetGlobalPause(ctx context.Context, paused bool) error {
	if err := s.store.SetSetting(ctx, KeyGlobalPause, strconv.FormatBool(paused)); err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}
	return nil
}

// Update validates the whole patch before writing any of it, then returns
// the settings now in effect.
func (s *Service) Update(ctx context.Context, p Patch) (Snapshot, error) {
	var errs []error
	if p.DefaultRange != nil {
		if err := s.validateRange(*p.DefaultRange); err != nil {
			errs = append(errs, err)
		}
	}
	if p.DefaultInterval != nil {
		if err := validateInterval(time.Duration(*p.DefaultInterval * float64(time.Second))); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Snapshot{}, err
	}

	writes := make(map[string]string)
	putBool := func(key string, v *bool) {
		if v != nil {
			writes[key] = strconv.FormatBool(*v)
		}
	}
	putBool(KeyGlobalPause, p.GlobalPause)
	putBool(KeyAurasEnabled, p.AurasEnabled)
	putBool(KeyFloatingText, p.FloatingText)
	putBool(KeyChatMessage, p.ChatMessage)
	if p.DefaultRange != nil {
		writes[KeyDefaultRange] = strconv.FormatFloat(*p.DefaultRange, 'f', -1, 64)
	}
	if p.DefaultInterval != nil {
		writes[KeyDefaultInterval] = strconv.FormatFloat(*p.DefaultInterval, 'f', -1, 64)
	}

	for key, value := range writes {
		if err := s.store.SetSetting(ctx, key, value); err != nil {
			return Snapshot{}, fmt.Errorf("%w: failed to save %s: %w", dialogue.ErrPersistence, key, err)
		}
	}
	return s.Load(ctx)
}

func (s *Service) validateRange(r float64) error {
	if err := dialogue.ValidateRange(r, s.maxRange); err != nil {
		return err
	}
	if r < MinRange {
		return &dialogue.ValidationError{Field: "default_range", Reason: fmt.Sprintf("must be at least %g", MinRange)}
	}
	return nil
}

func validateInterval(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return &dialogue.ValidationError{
			Field:  "default_interval",
			Reason: fmt.Sprintf("must be between %d and %d seconds", int(MinInterval/time.Second), int(MaxInterval/time.Second)),
		}
	}
	return nil
}
