package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

func TestAssignAura(t *testing.T) {
	tests := []struct {
		name      string
		entityID  string
		corpusID  string
		rng       float64
		wantErr   error
		wantRange float64
	}{
		{name: "explicit range", entityID: "npc", corpusID: "greetings", rng: 45, wantRange: 45},
		{name: "zero range takes world default", entityID: "npc", corpusID: "greetings", wantRange: 30},
		{name: "unknown entity", entityID: "ghost", corpusID: "greetings", rng: 45, wantErr: dialogue.ErrReference},
		{name: "unknown corpus", entityID: "npc", corpusID: "nope", rng: 45, wantErr: dialogue.ErrReference},
		{name: "range below zero", entityID: "npc", corpusID: "greetings", rng: -1, wantErr: dialogue.ErrValidation},
		{name: "range above maximum", entityID: "npc", corpusID: "greetings", rng: 121, wantErr: dialogue.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.place(t, "npc", 10)
			h.addCorpus("greetings", "hello")
			ctx := context.Background()

			b, err := h.eng.AssignAura(ctx, tt.entityID, tt.corpusID, tt.rng)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Empty(t, h.eng.Auras())
				assert.Zero(t, h.store.SetFlagCalls, "nothing is written")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRange, b.Range)
			assert.True(t, b.Enabled)
			assert.True(t, b.LastTriggeredAt.IsZero())
			assert.Equal(t, "greetings", b.CorpusName)

			got, ok := h.eng.Aura("npc")
			require.True(t, ok)
			assert.Equal(t, b, got)

			data, err := h.store.GetEntityFlag(ctx, "npc", dialogue.AuraFlagKey)
			require.NoError(t, err)
			stored, err := dialogue.UnmarshalAuraFlag("npc", data)
			require.NoError(t, err)
			assert.Equal(t, tt.corpusID, stored.CorpusID)
		})
	}
}

func TestAssignAura_ReplacesAndResetsCooldown(t *testing.T) {
	h := newHarness(t)
	h.place(t, "npc", 10)
	h.addCorpus("greetings", "hello")
	h.addCorpus("farewells", "bye")
	ctx := context.Background()

	_, err := h.eng.AssignAura(ctx, "npc", "greetings", 30)
	require.NoError(t, err)
	h.fire(0)

	_, err = h.eng.AssignAura(ctx, "npc", "farewells", 30)
	require.NoError(t, err)
	assert.Len(t, h.eng.Auras(), 1)

	h.fire(time.Second)
	assert.Equal(t, []string{"hello", "bye"}, h.disp.Texts())
}

func TestAssignAura_PersistenceFailureLeavesIndex(t *testing.T) {
	h := newHarness(t)
	h.place(t, "npc", 10)
	h.addCorpus("greetings", "hello")
	h.addCorpus("farewells", "bye")
	ctx := context.Background()

	_, err := h.eng.AssignAura(ctx, "npc", "greetings", 30)
	require.NoError(t, err)

	h.store.SetFlagWriteError(errors.New("disk full"))
	_, err = h.eng.AssignAura(ctx, "npc", "farewells", 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dialogue.ErrPersistence))

	b, ok := h.eng.Aura("npc")
	require.True(t, ok)
	assert.Equal(t, "greetings", b.CorpusID)
	assert.Equal(t, 30.0, b.Range)
}

func TestRemoveAura(t *testing.T) {
	h := newHarness(t)
	h.place(t, "npc", 10)
	h.addCorpus("greetings", "hello")
	ctx := context.Background()

	err := h.eng.RemoveAura(ctx, "npc")
	assert.True(t, errors.Is(err, dialogue.ErrNotFound))

	_, err = h.eng.AssignAura(ctx, "npc", "greetings", 30)
	require.NoError(t, err)

	h.store.SetFlagWriteError(errors.New("read only"))
	err = h.eng.RemoveAura(ctx, "npc")
	assert.True(t, errors.Is(err, dialogue.ErrPersistence))
	_, ok := h.eng.Aura("npc")
	assert.True(t, ok, "index unchanged after failed removal")

	h.store.SetFlagWriteError(nil)
	require.NoError(t, h.eng.RemoveAura(ctx, "npc"))
	_, ok = h.eng.Aura("npc")
	assert.False(t, ok)
	data, err := h.store.GetEntityFlag(ctx, "npc", dialogue.AuraFlagKey)
	require.NoError(t, err)
	assert.Nil(t, data)

	h.fire(0)
	assert.Empty(t, h.disp.Calls())
}

func TestRemoveAura_FlagOnlyBinding(t *testing.T) {
	h := newHarness(t)
	h.place(t, "npc", 10)
	ctx := context.Background()

	// a flag written by another session that this index never loaded
	flag, err := dialogue.AuraBinding{EntityID: "npc", CorpusID: "greetings", Range: 30, Enabled: true}.MarshalFlag()
	require.NoError(t, err)
	require.NoError(t, h.store.SetEntityFlag(ctx, "npc", dialogue.AuraFlagKey, flag))

	require.NoError(t, h.eng.RemoveAura(ctx, "npc"))
	data, err := h.store.GetEntityFlag(ctx, "npc", dialogue.AuraFlagKey)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestUpdateAura(t *testing.T) {
	h := newHarness(t)
	h.place(t, "npc", 40)
	h.addCorpus("greetings", "hello")
	ctx := context.Background()

	_, err := h.eng.UpdateAuraRange(ctx, "npc", 50)
	assert.True(t, errors.Is(err, dialogue.ErrNotFound))

	_, err = h.eng.AssignAura(ctx, "npc", "greetings", 30)
	require.NoError(t, err)

	h.fire(0)
	assert.Empty(t, h.disp.Calls(), "observer at 40 is out of range 30")

	_, err = h.eng.UpdateAuraRange(ctx, "npc", 0)
	assert.True(t, errors.Is(err, dialogue.ErrValidation))

	b, err := h.eng.UpdateAuraRange(ctx, "npc", 50)
	require.NoError(t, err)
	assert.Equal(t, 50.0, b.Range)
	h.fire(time.Second)
	require.Len(t, h.disp.Calls(), 1)

	stamp := h.clock.Now()
	b, err = h.eng.SetAuraEnabled(ctx, "npc", false)
	require.NoError(t, err)
	assert.False(t, b.Enabled)
	assert.Equal(t, stamp, b.LastTriggeredAt, "toggling keeps the cooldown")

	h.fire(time.Minute)
	assert.Len(t, h.disp.Calls(), 1, "disabled aura stays quiet")

	_, err = h.eng.SetAuraEnabled(ctx, "npc", true)
	require.NoError(t, err)
	h.fire(0)
	assert.Len(t, h.disp.Calls(), 2)
}

func TestLoadFromScene(t *testing.T) {
	h := newHarness(t)
	h.place(t, "a", 10)
	h.place(t, "b", 20)
	h.place(t, "c", 30)
	h.place(t, "d", 40)
	ctx := context.Background()

	last := h.clock.Now().Add(-time.Minute).UTC()
	write := func(b dialogue.AuraBinding) {
		data, err := b.MarshalFlag()
		require.NoError(t, err)
		require.NoError(t, h.store.SetEntityFlag(ctx, b.EntityID, dialogue.AuraFlagKey, data))
	}
	write(dialogue.AuraBinding{EntityID: "a", CorpusID: "greetings", Range: 30, Enabled: true, LastTriggeredAt: last})
	write(dialogue.AuraBinding{EntityID: "b", CorpusID: "greetings", Range: 30, Enabled: false})
	require.NoError(t, h.store.SetEntityFlag(ctx, "c", dialogue.AuraFlagKey, []byte("{not json")))
	// a flag on an entity that is not in this scene is never looked at
	write(dialogue.AuraBinding{EntityID: "elsewhere", CorpusID: "greetings", Range: 30, Enabled: true})

	n, err := h.eng.LoadFromScene(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, ok := h.eng.Aura("a")
	require.True(t, ok)
	assert.True(t, a.LastTriggeredAt.Equal(last), "cooldown survives a restart")
	b, ok := h.eng.Aura("b")
	require.True(t, ok)
	assert.False(t, b.Enabled)
	_, ok = h.eng.Aura("c")
	assert.False(t, ok)

	// a failed read keeps what the index already had
	h.store.SetFlagReadError(errors.New("timeout"))
	n, err = h.eng.LoadFromScene(ctx)
	assert.True(t, errors.Is(err, dialogue.ErrPersistence))
	assert.Equal(t, 2, n)
	_, ok = h.eng.Aura("a")
	assert.True(t, ok)
}

func TestAurasSortedByEntity(t *testing.T) {
	h := newHarness(t)
	h.addCorpus("greetings", "hello")
	ctx := context.Background()
	for _, id := range []string{"zed", "amy", "mo"} {
		h.place(t, id, 10)
		_, err := h.eng.AssignAura(ctx, id, "greetings", 0)
		require.NoError(t, err)
	}

	var ids []string
	for _, b := range h.eng.Auras() {
		ids = append(ids, b.EntityID)
	}
	assert.Equal(t, []string{"amy", "mo", "zed"}, ids)
}
