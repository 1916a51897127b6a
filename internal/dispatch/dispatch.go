// Package dispatch delivers a resolved NPC line to every presentation
// channel: the local stage, the observer broadcast with its durable mirror,
// and the scene's text log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/services/events"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
	"github.com/jwebster45206/conversation-engine/pkg/textfilter"
)

// Source values for Utterance.Source.
const (
	SourceAura  = "aura"
	SourceGroup = "group"
)

// Utterance is one line an entity says.
type Utterance struct {
	SpeakerID   string
	SpeakerName string
	Text        string
	Position    scene.Position
	Source      string
	SourceID    string // aura entity ID or group ID
}

// Display selects the presentation channels for one dispatch.
type Display struct {
	FloatingText bool
	ChatMessage  bool
}

// Publisher broadcasts an utterance to observers and mirrors it.
type Publisher interface {
	PublishUtterance(ctx context.Context, data events.UtteranceData) (events.Event, error)
}

// TextLog is the durable chat log.
type TextLog interface {
	Append(ctx context.Context, e chatlog.Entry) error
}

// Dispatcher fans an utterance out to the stage, the broadcaster and the
// text log. Any of them may be nil.
type Dispatcher struct {
	stage       *Stage
	publisher   Publisher
	log         TextLog
	filter      *textfilter.Filter
	labelOffset float64
	ttl         time.Duration // expiry announced when there is no stage
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFilter applies f to every line before it is shown.
func WithFilter(f *textfilter.Filter) Option {
	return func(d *Dispatcher) { d.filter = f }
}

// WithLabelOffset raises floating text above the speaker by units.
func WithLabelOffset(units float64) Option {
	return func(d *Dispatcher) { d.labelOffset = units }
}

// WithPresentationTTL sets how long broadcast floating text is announced to
// stay up when the dispatcher has no stage of its own.
func WithPresentationTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func New(stage *Stage, publisher Publisher, log TextLog, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		stage:     stage,
		publisher: publisher,
		log:       log,
		ttl:       DefaultTTL,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stage returns the dispatcher's presentation stage.
func (d *Dispatcher) Stage() *Stage {
	return d.stage
}

// Dispatch presents u on every enabled channel. Channels are independent: a
// failing one does not stop the others. Failures come back joined under
// dialogue.ErrDispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, u Utterance, display Display) error {
	text := d.filter.Apply(u.Text)
	name := u.SpeakerName
	if name == "" {
		name = u.SpeakerID
	}
	var errs []error

	if display.FloatingText {
		pos := scene.Position{X: u.Position.X, Y: u.Position.Y - d.labelOffset}
		expiresAt := d.now().Add(d.ttl)
		if d.stage != nil {
			p := d.stage.Show(Presentation{
				SpeakerID:   u.SpeakerID,
				SpeakerName: name,
				Text:        text,
				Position:    pos,
			})
			expiresAt = p.ExpiresAt
		}
		if d.publisher != nil {
			_, err := d.publisher.PublishUtterance(ctx, events.UtteranceData{
				SpeakerID:   u.SpeakerID,
				SpeakerName: name,
				Text:        text,
				Position:    pos,
				Source:      u.Source,
				SourceID:    u.SourceID,
				ExpiresAt:   expiresAt,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("broadcast: %w", err))
			}
		}
	}

	if display.ChatMessage && d.log != nil {
		err := d.log.Append(ctx, chatlog.Entry{
			SpeakerID:   u.SpeakerID,
			SpeakerName: name,
			Text:        text,
			Source:      u.Source,
			Timestamp:   d.now().UTC(),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("text log: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("Dispatch incomplete", "speaker_id", u.SpeakerID, "source", u.Source, "error", err)
		return fmt.Errorf("%w: %w", dialogue.ErrDispatch, err)
	}

	d.logger.Debug("Utterance dispatched", "speaker_id", u.SpeakerID, "source", u.Source, "source_id", u.SourceID)
	return nil
}
