package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// Tick runs one evaluation pass and waits for every item it started. The
// polling loop does not wait; Tick is for tests and manual triggering.
func (e *Engine) Tick(ctx context.Context) {
	e.evaluate(ctx).Wait()
}

// evaluate starts one goroutine per enabled aura and group that is not still
// busy from an earlier tick, and returns a WaitGroup covering them.
func (e *Engine) evaluate(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup

	snap, err := e.settings.Load(ctx)
	if err != nil {
		// unknown pause state: fire nothing rather than risk talking through a pause
		e.logger.Warn("Skipping tick, world settings unavailable", "error", err)
		return &wg
	}
	now := e.now()

	e.mu.Lock()
	e.ticks++
	e.lastTick = now
	if snap.GlobalPause {
		e.mu.Unlock()
		return &wg
	}

	type item struct {
		key string
		fn  func(context.Context)
	}
	var items []item

	if snap.AurasEnabled {
		for id, b := range e.auras {
			key := "aura:" + id
			if !b.Enabled || e.inflight[key] {
				continue
			}
			binding := *b
			items = append(items, item{key, func(ctx context.Context) { e.evaluateAura(ctx, now, snap, binding) }})
		}
	}
	for _, id := range e.order {
		g := e.groups[id]
		key := "group:" + id
		if !g.Enabled || e.inflight[key] {
			continue
		}
		epoch := e.epochs[id]
		items = append(items, item{key, func(ctx context.Context) { e.evaluateGroup(ctx, now, snap, g, epoch) }})
	}
	for _, it := range items {
		e.inflight[it.key] = true
	}
	e.mu.Unlock()

	for _, it := range items {
		wg.Add(1)
		e.items.Add(1)
		go e.runItem(ctx, &wg, it.key, it.fn)
	}
	return &wg
}

// runItem isolates one aura or group evaluation: a panic is logged and the
// item is released for the next tick.
func (e *Engine) runItem(ctx context.Context, wg *sync.WaitGroup, key string, fn func(context.Context)) {
	defer wg.Done()
	defer e.items.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic while evaluating dialogue item",
				"item", key,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(ctx)
}

func (e *Engine) evaluateAura(ctx context.Context, now time.Time, snap settings.Snapshot, b dialogue.AuraBinding) {
	log := e.logger.With("entity_id", b.EntityID)

	ent, ok := e.dir.Get(b.EntityID)
	if !ok {
		if err := e.ForgetEntity(ctx, b.EntityID); err != nil {
			log.Warn("Aura entity no longer in scene, flag not cleared", "error", err)
			return
		}
		log.Info("Aura entity no longer in scene, binding removed")
		return
	}

	c, err := e.corpora.Resolve(ctx, b.CorpusID)
	if err != nil {
		log.Warn("Skipping aura with unresolvable corpus",
			"corpus_id", b.CorpusID,
			"error", fmt.Errorf("%w: %w", dialogue.ErrReference, err),
		)
		return
	}

	if !e.anyObserverInRange(ctx, []scene.Entity{ent}, b.Range) {
		return
	}

	// cooldown check and stamp happen together, before any content work
	e.mu.Lock()
	cur, ok := e.auras[b.EntityID]
	if !ok || !cur.Enabled || cur.CorpusID != b.CorpusID {
		e.mu.Unlock()
		return
	}
	if now.Sub(cur.LastTriggeredAt) < snap.DefaultInterval {
		e.mu.Unlock()
		return
	}
	cur.LastTriggeredAt = now
	stamped := *cur
	e.mu.Unlock()

	text, err := c.DrawRandom(ctx)
	if err != nil {
		log.Warn("Failed to draw aura line", "corpus_id", b.CorpusID, "error", err)
	} else {
		e.deliver(ctx, log, dispatch.Utterance{
			SpeakerID:   ent.ID,
			SpeakerName: ent.Name,
			Text:        text,
			Position:    ent.Position,
			Source:      dispatch.SourceAura,
			SourceID:    ent.ID,
		}, snap)
	}

	e.persistAuraStamp(ctx, stamped)
}

// persistAuraStamp writes the cooldown stamp back to the entity flag, unless
// the binding was removed or reassigned while the item was running.
func (e *Engine) persistAuraStamp(ctx context.Context, stamped dialogue.AuraBinding) {
	e.flagMu.Lock()
	defer e.flagMu.Unlock()

	e.mu.Lock()
	cur, ok := e.auras[stamped.EntityID]
	if ok {
		stamped = *cur
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	data, err := stamped.MarshalFlag()
	if err == nil {
		err = e.entities.SetEntityFlag(ctx, stamped.EntityID, dialogue.AuraFlagKey, data)
	}
	if err != nil {
		e.logger.Warn("Failed to persist aura cooldown",
			"entity_id", stamped.EntityID,
			"error", fmt.Errorf("%w: %w", dialogue.ErrPersistence, err),
		)
	}
}

func (e *Engine) evaluateGroup(ctx context.Context, now time.Time, snap settings.Snapshot, g *dialogue.ConversationGroup, epoch uint64) {
	log := e.logger.With("group_id", g.ID)

	var present []scene.Entity
	for _, id := range g.Members {
		if ent, ok := e.dir.Get(id); ok {
			present = append(present, ent)
		}
	}
	if len(present) == 0 {
		return
	}
	if !e.anyObserverInRange(ctx, present, g.EffectiveRange(snap.DefaultRange)) {
		return
	}

	interval := g.Delay
	if interval <= 0 {
		interval = snap.DefaultInterval
	}

	cursor, ok := e.stampGroup(g.ID, epoch, now, interval)
	if !ok {
		return
	}

	res := e.resolve(ctx, log, g, cursor)
	if res.speak {
		e.deliver(ctx, log, dispatch.Utterance{
			SpeakerID:   res.speaker.ID,
			SpeakerName: res.speaker.Name,
			Text:        res.text,
			Position:    res.speaker.Position,
			Source:      dispatch.SourceGroup,
			SourceID:    g.ID,
		}, snap)
	}
	if res.advance {
		e.advanceCursor(g.ID, epoch, res.next)
	}
}

// anyObserverInRange is true when any observer is within units of any of
// the speakers. Speakers never observe themselves. An oracle error counts
// as out of range for that pair only.
func (e *Engine) anyObserverInRange(ctx context.Context, speakers []scene.Entity, units float64) bool {
	for _, obs := range e.dir.Observers() {
		for _, sp := range speakers {
			if obs.ID == sp.ID {
				continue
			}
			in, err := e.oracle.InRange(ctx, sp.Position, obs.Position, units)
			if err != nil {
				e.logger.Warn("Distance check failed",
					"speaker_id", sp.ID,
					"observer_id", obs.ID,
					"error", err,
				)
				continue
			}
			if in {
				return true
			}
		}
	}
	return false
}

func (e *Engine) deliver(ctx context.Context, log *slog.Logger, u dispatch.Utterance, snap settings.Snapshot) {
	e.mu.Lock()
	e.fires++
	e.mu.Unlock()

	display := dispatch.Display{FloatingText: snap.FloatingText, ChatMessage: snap.ChatMessage}
	if err := e.dispatcher.Dispatch(ctx, u, display); err != nil {
		// the cooldown stays consumed; the next window is the retry
		log.Warn("Dispatch failed", "speaker_id", u.SpeakerID, "error", err)
	}
}
