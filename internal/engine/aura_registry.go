package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

// AssignAura binds a corpus to an entity, replacing any existing binding. A
// range of zero takes the world default. The durable flag is written before
// the in-memory index changes, so a failed write leaves the index as it was.
func (e *Engine) AssignAura(ctx context.Context, entityID, corpusID string, rng float64) (dialogue.AuraBinding, error) {
	ent, ok := e.dir.Get(entityID)
	if !ok {
		return dialogue.AuraBinding{}, fmt.Errorf("%w: entity %s not in scene", dialogue.ErrReference, entityID)
	}
	c, err := e.corpora.Resolve(ctx, corpusID)
	if err != nil {
		return dialogue.AuraBinding{}, fmt.Errorf("%w: %w", dialogue.ErrReference, err)
	}
	if rng == 0 {
		snap, err := e.settings.Load(ctx)
		if err != nil {
			e.logger.Warn("Using configured default range, world settings unavailable", "error", err)
		}
		rng = snap.DefaultRange
	}
	if err := dialogue.ValidateRange(rng, e.settings.MaxRange()); err != nil {
		return dialogue.AuraBinding{}, err
	}

	b := dialogue.AuraBinding{
		EntityID:   ent.ID,
		CorpusID:   c.ID(),
		CorpusName: c.Name(),
		Range:      rng,
		Enabled:    true,
	}

	e.flagMu.Lock()
	defer e.flagMu.Unlock()
	if err := e.writeAuraFlag(ctx, b); err != nil {
		return dialogue.AuraBinding{}, err
	}

	e.mu.Lock()
	e.auras[b.EntityID] = &b
	e.mu.Unlock()

	e.logger.Info("Aura assigned", "entity_id", b.EntityID, "corpus_id", b.CorpusID, "range", b.Range)
	return b, nil
}

// RemoveAura deletes the binding from durable storage and the index.
func (e *Engine) RemoveAura(ctx context.Context, entityID string) error {
	e.flagMu.Lock()
	defer e.flagMu.Unlock()

	e.mu.Lock()
	_, indexed := e.auras[entityID]
	e.mu.Unlock()

	if !indexed {
		data, err := e.entities.GetEntityFlag(ctx, entityID, dialogue.AuraFlagKey)
		if err != nil {
			return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
		}
		if data == nil {
			return fmt.Errorf("%w: no aura on %s", dialogue.ErrNotFound, entityID)
		}
	}

	if err := e.entities.UnsetEntityFlag(ctx, entityID, dialogue.AuraFlagKey); err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}

	e.mu.Lock()
	delete(e.auras, entityID)
	e.mu.Unlock()

	e.logger.Info("Aura removed", "entity_id", entityID)
	return nil
}

// ForgetEntity drops the aura binding of an entity that has left the scene,
// durable flag included, so a later entity reusing the ID starts clean. An
// entity without a binding is not an error. If the entity is back in the
// scene by the time the flag lock is held, nothing is removed.
func (e *Engine) ForgetEntity(ctx context.Context, entityID string) error {
	e.flagMu.Lock()
	defer e.flagMu.Unlock()

	if _, ok := e.dir.Get(entityID); ok {
		return nil
	}
	if err := e.entities.UnsetEntityFlag(ctx, entityID, dialogue.AuraFlagKey); err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}

	e.mu.Lock()
	_, had := e.auras[entityID]
	delete(e.auras, entityID)
	e.mu.Unlock()

	if had {
		e.logger.Info("Aura removed with its entity", "entity_id", entityID)
	}
	return nil
}

// UpdateAuraRange changes the trigger range of an existing binding.
func (e *Engine) UpdateAuraRange(ctx context.Context, entityID string, rng float64) (dialogue.AuraBinding, error) {
	if err := dialogue.ValidateRange(rng, e.settings.MaxRange()); err != nil {
		return dialogue.AuraBinding{}, err
	}
	return e.updateAura(ctx, entityID, func(b *dialogue.AuraBinding) { b.Range = rng })
}

// SetAuraEnabled toggles a binding without touching its cooldown.
func (e *Engine) SetAuraEnabled(ctx context.Context, entityID string, enabled bool) (dialogue.AuraBinding, error) {
	return e.updateAura(ctx, entityID, func(b *dialogue.AuraBinding) { b.Enabled = enabled })
}

func (e *Engine) updateAura(ctx context.Context, entityID string, mutate func(*dialogue.AuraBinding)) (dialogue.AuraBinding, error) {
	e.flagMu.Lock()
	defer e.flagMu.Unlock()

	e.mu.Lock()
	cur, ok := e.auras[entityID]
	var next dialogue.AuraBinding
	if ok {
		next = *cur
	}
	e.mu.Unlock()
	if !ok {
		return dialogue.AuraBinding{}, fmt.Errorf("%w: no aura on %s", dialogue.ErrNotFound, entityID)
	}

	mutate(&next)
	if err := e.writeAuraFlag(ctx, next); err != nil {
		return dialogue.AuraBinding{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.auras[entityID]; ok {
		// keep a stamp a tick may have written in the meantime
		next.LastTriggeredAt = cur.LastTriggeredAt
	}
	e.auras[entityID] = &next
	return next, nil
}

func (e *Engine) writeAuraFlag(ctx context.Context, b dialogue.AuraBinding) error {
	data, err := b.MarshalFlag()
	if err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}
	if err := e.entities.SetEntityFlag(ctx, b.EntityID, dialogue.AuraFlagKey, data); err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}
	return nil
}

// LoadFromScene rebuilds the aura index from the flags of every entity now in
// the scene and returns the number of bindings loaded. An entity whose flag
// cannot be read keeps whatever binding the index already had.
func (e *Engine) LoadFromScene(ctx context.Context) (int, error) {
	entities := e.dir.Entities()

	e.mu.Lock()
	previous := e.auras
	e.mu.Unlock()

	next := make(map[string]*dialogue.AuraBinding)
	var errs []error
	for _, ent := range entities {
		data, err := e.entities.GetEntityFlag(ctx, ent.ID, dialogue.AuraFlagKey)
		if err != nil {
			errs = append(errs, err)
			if b, ok := previous[ent.ID]; ok {
				next[ent.ID] = b
			}
			continue
		}
		if data == nil {
			continue
		}
		b, err := dialogue.UnmarshalAuraFlag(ent.ID, data)
		if err != nil {
			e.logger.Warn("Ignoring malformed aura flag", "entity_id", ent.ID, "error", err)
			continue
		}
		next[ent.ID] = &b
	}

	e.mu.Lock()
	e.auras = next
	e.mu.Unlock()

	e.logger.Info("Aura index loaded from scene", "entities", len(entities), "auras", len(next))
	if err := errors.Join(errs...); err != nil {
		return len(next), fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}
	return len(next), nil
}

// Aura returns the binding on entityID.
func (e *Engine) Aura(entityID string) (dialogue.AuraBinding, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.auras[entityID]
	if !ok {
		return dialogue.AuraBinding{}, false
	}
	return *b, true
}

// Auras lists every indexed binding sorted by entity ID.
func (e *Engine) Auras() []dialogue.AuraBinding {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]dialogue.AuraBinding, 0, len(e.auras))
	for _, b := range e.auras {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}
