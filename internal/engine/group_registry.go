package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

// CreateGroup validates cfg as a whole and registers the group. A validation
// failure stores nothing. A persistence failure keeps the group in memory
// and returns its ID together with the error.
func (e *Engine) CreateGroup(ctx context.Context, cfg dialogue.GroupConfig) (string, error) {
	g, err := dialogue.NewGroup(e.newID(), cfg, e.limits(ctx), e.now().UTC())
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.groups[g.ID] = g
	e.order = append(e.order, g.ID)
	e.mu.Unlock()

	e.logger.Info("Conversation group created", "group_id", g.ID, "name", g.Name, "mode", g.Mode.Kind())
	return g.ID, e.persistGroups(ctx)
}

// DeleteGroup removes the group together with its cursor and cooldown.
func (e *Engine) DeleteGroup(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.groups[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: group %s", dialogue.ErrNotFound, id)
	}
	delete(e.groups, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	e.forgetGroupLocked(id)
	e.mu.Unlock()

	e.logger.Info("Conversation group deleted", "group_id", id)
	return e.persistGroups(ctx)
}

// ReplaceGroup swaps in a complete new configuration under the same ID. The
// cursor restarts because members or script may have changed; the cooldown
// is kept so the edit does not cause an immediate fire.
func (e *Engine) ReplaceGroup(ctx context.Context, id string, cfg dialogue.GroupConfig) (dialogue.GroupSummary, error) {
	e.mu.Lock()
	old, ok := e.groups[id]
	e.mu.Unlock()
	if !ok {
		return dialogue.GroupSummary{}, fmt.Errorf("%w: group %s", dialogue.ErrNotFound, id)
	}

	g, err := dialogue.NewGroup(id, cfg, e.limits(ctx), old.CreatedAt)
	if err != nil {
		return dialogue.GroupSummary{}, err
	}

	e.mu.Lock()
	if _, ok := e.groups[id]; !ok {
		e.mu.Unlock()
		return dialogue.GroupSummary{}, fmt.Errorf("%w: group %s", dialogue.ErrNotFound, id)
	}
	e.groups[id] = g
	e.resetCursorLocked(id)
	e.mu.Unlock()

	e.logger.Info("Conversation group replaced", "group_id", id, "mode", g.Mode.Kind())
	return g.Summary(), e.persistGroups(ctx)
}

// SetGroupEnabled toggles a group. Cursor and cooldown are untouched.
func (e *Engine) SetGroupEnabled(ctx context.Context, id string, enabled bool) (dialogue.GroupSummary, error) {
	e.mu.Lock()
	g, ok := e.groups[id]
	if !ok {
		e.mu.Unlock()
		return dialogue.GroupSummary{}, fmt.Errorf("%w: group %s", dialogue.ErrNotFound, id)
	}
	g = g.WithEnabled(enabled)
	e.groups[id] = g
	e.mu.Unlock()

	e.logger.Info("Conversation group toggled", "group_id", id, "enabled", enabled)
	return g.Summary(), e.persistGroups(ctx)
}

// ListGroups returns every group in creation order.
func (e *Engine) ListGroups() []dialogue.GroupSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]dialogue.GroupSummary, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.groups[id].Summary())
	}
	return out
}

// Group returns one group.
func (e *Engine) Group(id string) (dialogue.GroupSummary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.groups[id]
	if !ok {
		return dialogue.GroupSummary{}, false
	}
	return g.Summary(), true
}

// GroupsForMember lists the groups entityID belongs to, in creation order.
func (e *Engine) GroupsForMember(entityID string) []dialogue.GroupSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []dialogue.GroupSummary
	for _, id := range e.order {
		if g := e.groups[id]; g.HasMember(entityID) {
			out = append(out, g.Summary())
		}
	}
	return out
}

// GroupStats counts groups by state and mode.
type GroupStats struct {
	Total    int                       `json:"total"`
	Enabled  int                       `json:"enabled"`
	Disabled int                       `json:"disabled"`
	ByMode   map[dialogue.ModeKind]int `json:"by_mode"`
}

func (e *Engine) Stats() GroupStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := GroupStats{ByMode: make(map[dialogue.ModeKind]int, len(dialogue.ModeKinds))}
	for _, k := range dialogue.ModeKinds {
		stats.ByMode[k] = 0
	}
	for _, g := range e.groups {
		stats.Total++
		if g.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByMode[g.Mode.Kind()]++
	}
	return stats
}

func (e *Engine) limits(ctx context.Context) dialogue.Limits {
	snap, err := e.settings.Load(ctx)
	if err != nil {
		e.logger.Warn("Using configured default range, world settings unavailable", "error", err)
	}
	return dialogue.Limits{DefaultRange: snap.DefaultRange, MaxRange: e.settings.MaxRange()}
}

// persistGroups writes the whole collection as one blob. The snapshot is
// taken under persistMu so the last writer always carries the latest state.
func (e *Engine) persistGroups(ctx context.Context) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	groups := make([]*dialogue.ConversationGroup, 0, len(e.order))
	for _, id := range e.order {
		groups = append(groups, e.groups[id])
	}
	e.mu.Unlock()

	data, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal conversation groups: %w", dialogue.ErrPersistence, err)
	}
	if err := e.world.SetSetting(ctx, settings.KeyConversationGroups, string(data)); err != nil {
		e.logger.Error("Failed to persist conversation groups", "error", err)
		return fmt.Errorf("%w: %w", dialogue.ErrPersistence, err)
	}
	return nil
}

// loadGroups merges the persisted collection into the registry. Groups
// already in memory win, so a create, edit or delete that failed to persist
// is not undone by a later load.
func (e *Engine) loadGroups(ctx context.Context) error {
	raw, ok, err := e.world.GetSetting(ctx, settings.KeyConversationGroups)
	if err != nil {
		return fmt.Errorf("%w: failed to load conversation groups: %w", dialogue.ErrPersistence, err)
	}
	if !ok || raw == "" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		e.logger.Error("Ignoring malformed conversation group collection", "error", err)
		return nil
	}

	loaded := make([]*dialogue.ConversationGroup, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		var g dialogue.ConversationGroup
		if err := json.Unmarshal(item, &g); err != nil {
			e.logger.Warn("Skipping malformed conversation group", "error", err)
			continue
		}
		if g.ID == "" || len(g.Members) == 0 {
			e.logger.Warn("Skipping incomplete conversation group", "group_id", g.ID)
			continue
		}
		if seen[g.ID] {
			continue
		}
		seen[g.ID] = true
		loaded = append(loaded, &g)
	}

	e.mu.Lock()
	added := 0
	for _, g := range loaded {
		if _, ok := e.groups[g.ID]; ok {
			continue
		}
		e.groups[g.ID] = g
		e.order = append(e.order, g.ID)
		added++
	}
	total := len(e.groups)
	e.mu.Unlock()

	e.logger.Info("Conversation groups loaded", "loaded", added, "groups", total)
	return nil
}
