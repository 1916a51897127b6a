package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeUtteranceDisplayed EventType = "utterance.displayed"
	EventTypeMonitorStarted     EventType = "monitor.started"
	EventTypeMonitorStopped     EventType = "monitor.stopped"
	EventTypePauseChanged       EventType = "world.pause_changed"
)

// UtteranceData is the payload observers need to render a line.
type UtteranceData struct {
	SpeakerID   string         `json:"speaker_id"`
	SpeakerName string         `json:"speaker_name"`
	Text        string         `json:"text"`
	Position    scene.Position `json:"position"`
	Source      string         `json:"source"` // "aura" or "group"
	SourceID    string         `json:"source_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Event represents a generic event structure
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SceneID   string                 `json:"scene_id"`
	Sender    string                 `json:"sender,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Utterance *UtteranceData         `json:"utterance,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Replay    bool                   `json:"replay,omitempty"` // delivered from the durable mirror
}

// Broadcaster publishes scene events to Redis Pub/Sub and keeps the latest
// utterance in a mirror key for observers that join late.
type Broadcaster struct {
	redisClient *redis.Client
	sceneID     string
	sender      string
	logger      *slog.Logger
	now         func() time.Time
}

// NewBroadcaster creates a new event broadcaster. sender identifies this
// host in every event so observers can drop their own echoes.
func NewBroadcaster(redisClient *redis.Client, sceneID, sender string, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		sceneID:     sceneID,
		sender:      sender,
		logger:      logger,
		now:         time.Now,
	}
}

// Channel is the Pub/Sub channel for this scene.
func (b *Broadcaster) Channel() string {
	return "scene-events:" + b.sceneID
}

// MirrorKey holds the last utterance event, last value wins.
func (b *Broadcaster) MirrorKey() string {
	return "scene-mirror:" + b.sceneID + ":utterance"
}

func (b *Broadcaster) Ping(ctx context.Context) error {
	if err := b.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (b *Broadcaster) newEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SceneID:   b.sceneID,
		Sender:    b.sender,
		Timestamp: b.now().UTC(),
	}
}

// PublishUtterance broadcasts the utterance and then writes it to the mirror.
// The broadcast is best effort: a publish failure does not stop the mirror
// write, and both failures are returned joined.
func (b *Broadcaster) PublishUtterance(ctx context.Context, data UtteranceData) (Event, error) {
	event := b.newEvent(EventTypeUtteranceDisplayed)
	event.Utterance = &data

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return event, fmt.Errorf("failed to marshal event: %w", err)
	}

	var errs []error
	if err := b.redisClient.Publish(ctx, b.Channel(), payload).Err(); err != nil {
		b.logger.Warn("Failed to publish event", "error", err, "channel", b.Channel())
		errs = append(errs, fmt.Errorf("failed to publish event: %w", err))
	}
	if err := b.redisClient.Set(ctx, b.MirrorKey(), payload, 0).Err(); err != nil {
		b.logger.Error("Failed to write utterance mirror", "error", err, "key", b.MirrorKey())
		errs = append(errs, fmt.Errorf("failed to write mirror: %w", err))
	}

	b.logger.Debug("Event published",
		"channel", b.Channel(),
		"event_type", event.Type,
		"speaker_id", data.SpeakerID,
	)
	return event, errors.Join(errs...)
}

// PublishMonitorState announces that the trigger engine started or stopped.
func (b *Broadcaster) PublishMonitorState(ctx context.Context, running bool) error {
	t := EventTypeMonitorStopped
	if running {
		t = EventTypeMonitorStarted
	}
	event := b.newEvent(t)
	event.Data = map[string]interface{}{"running": running}
	return b.publish(ctx, event)
}

// PublishPauseChanged announces a change of the global pause flag.
func (b *Broadcaster) PublishPauseChanged(ctx context.Context, paused bool) error {
	event := b.newEvent(EventTypePauseChanged)
	event.Data = map[string]interface{}{"paused": paused}
	return b.publish(ctx, event)
}

func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.redisClient.Publish(ctx, b.Channel(), data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", b.Channel())
		return fmt.Errorf("failed to publish event: %w", err)
	}
	b.logger.Debug("Event published", "channel", b.Channel(), "event_type", event.Type)
	return nil
}

// LastUtterance reads the mirror. It returns nil, nil when nothing has been
// said yet.
func (b *Broadcaster) LastUtterance(ctx context.Context) (*Event, error) {
	data, err := b.redisClient.Get(ctx, b.MirrorKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirror: %w", err)
	}
	return &event, nil
}

// Subscribe delivers the mirrored utterance (marked Replay) and then live
// events to handler until ctx is cancelled. The subscription is confirmed
// before the mirror is read so nothing published in between is lost; an
// event already seen is delivered once.
func (b *Broadcaster) Subscribe(ctx context.Context, handler func(Event)) error {
	return b.subscribe(ctx, handler, false)
}

// SubscribeRemote is Subscribe without this host's own events, for host-side
// consumers that already saw them locally.
func (b *Broadcaster) SubscribeRemote(ctx context.Context, handler func(Event)) error {
	return b.subscribe(ctx, handler, true)
}

func (b *Broadcaster) subscribe(ctx context.Context, handler func(Event), dropOwn bool) error {
	own := func(e Event) bool { return dropOwn && e.Sender == b.sender }

	pubsub := b.redisClient.Subscribe(ctx, b.Channel())
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug("Failed to close pubsub", "error", err)
		}
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.Channel(), err)
	}

	seen := newRecentIDs(64)

	last, err := b.LastUtterance(ctx)
	if err != nil {
		b.logger.Warn("Failed to replay utterance mirror", "error", err)
	} else if last != nil && !own(*last) {
		seen.add(last.ID)
		last.Replay = true
		handler(*last)
	}

	msgChan := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgChan:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if own(event) || seen.contains(event.ID) {
				continue
			}
			seen.add(event.ID)
			handler(event)
		}
	}
}

// recentIDs is a small FIFO set of event IDs.
type recentIDs struct {
	ids  []string
	set  map[string]struct{}
	size int
}

func newRecentIDs(size int) *recentIDs {
	return &recentIDs{set: make(map[string]struct{}, size), size: size}
}

func (r *recentIDs) contains(id string) bool {
	_, ok := r.set[id]
	return ok
}

func (r *recentIDs) add(id string) {
	if id == "" || r.contains(id) {
		return
	}
	if len(r.ids) == r.size {
		delete(r.set, r.ids[0])
		r.ids = r.ids[1:]
	}
	r.ids = append(r.ids, id)
	r.set[id] = struct{}{}
}
