package dialogue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = Limits{DefaultRange: 30, MaxRange: 120}

func boolPtr(b bool) *bool { return &b }

func TestNewGroup_Valid(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		cfg      GroupConfig
		wantKind ModeKind
	}{
		{
			name: "random",
			cfg: GroupConfig{
				Name:           "Market chatter",
				Mode:           ModeRandom,
				Members:        []string{"a", "b"},
				TablesByMember: map[string]string{"a": "t1", "b": "t2"},
			},
			wantKind: ModeRandom,
		},
		{
			name: "turn-taking",
			cfg: GroupConfig{
				Name:           "Guards",
				Mode:           ModeTurnTaking,
				Members:        []string{"a", "b", "c"},
				SharedCorpusID: "guards",
			},
			wantKind: ModeTurnTaking,
		},
		{
			name: "scripted corpus",
			cfg: GroupConfig{
				Name:           "Bards",
				Mode:           ModeScriptedCorpus,
				Members:        []string{"a"},
				SharedCorpusID: "ballad",
			},
			wantKind: ModeScriptedCorpus,
		},
		{
			name: "scripted custom",
			cfg: GroupConfig{
				Name:    "Argument",
				Mode:    ModeScriptedCustom,
				Members: []string{"a", "b"},
				Script: []ScriptLine{
					{SpeakerID: "a", Text: "You owe me."},
					{SpeakerID: "b", Text: "I paid you yesterday."},
				},
			},
			wantKind: ModeScriptedCustom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGroup("group-1", tt.cfg, testLimits, created)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, g.Mode.Kind())
			assert.Zero(t, g.Range, "zero range is kept")
			assert.Equal(t, 30.0, g.EffectiveRange(30))
			assert.True(t, g.Enabled)
			assert.Equal(t, time.Duration(0), g.Delay)
			assert.Equal(t, created, g.CreatedAt)
		})
	}
}

func TestNewGroup_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		cfg   GroupConfig
		field string
	}{
		{
			name:  "missing name",
			cfg:   GroupConfig{Mode: ModeTurnTaking, Members: []string{"a"}, SharedCorpusID: "t"},
			field: "name",
		},
		{
			name:  "no members",
			cfg:   GroupConfig{Name: "x", Mode: ModeTurnTaking, SharedCorpusID: "t"},
			field: "members",
		},
		{
			name:  "unknown mode",
			cfg:   GroupConfig{Name: "x", Mode: "chaos", Members: []string{"a"}},
			field: "mode",
		},
		{
			name:  "mode in the wrong case",
			cfg:   GroupConfig{Name: "x", Mode: "Turn-Taking", Members: []string{"a"}, SharedCorpusID: "t"},
			field: "mode",
		},
		{
			name:  "name with surrounding whitespace",
			cfg:   GroupConfig{Name: " Market ", Mode: ModeTurnTaking, Members: []string{"a"}, SharedCorpusID: "t"},
			field: "name",
		},
		{
			name:  "turn-taking without corpus",
			cfg:   GroupConfig{Name: "x", Mode: ModeTurnTaking, Members: []string{"a"}},
			field: "shared_corpus_id",
		},
		{
			name:  "scripted without corpus",
			cfg:   GroupConfig{Name: "x", Mode: ModeScriptedCorpus, Members: []string{"a"}},
			field: "shared_corpus_id",
		},
		{
			name: "random with one table",
			cfg: GroupConfig{Name: "x", Mode: ModeRandom, Members: []string{"a", "b"},
				TablesByMember: map[string]string{"a": "t"}},
			field: "tables_by_member",
		},
		{
			name: "random table for non-member",
			cfg: GroupConfig{Name: "x", Mode: ModeRandom, Members: []string{"a", "b"},
				TablesByMember: map[string]string{"a": "t", "z": "t"}},
			field: "tables_by_member",
		},
		{
			name:  "empty script",
			cfg:   GroupConfig{Name: "x", Mode: ModeScriptedCustom, Members: []string{"a"}},
			field: "script",
		},
		{
			name: "script speaker outside group",
			cfg: GroupConfig{Name: "x", Mode: ModeScriptedCustom, Members: []string{"a"},
				Script: []ScriptLine{{SpeakerID: "b", Text: "hi"}}},
			field: "script",
		},
		{
			name: "foreign payload",
			cfg: GroupConfig{Name: "x", Mode: ModeTurnTaking, Members: []string{"a"}, SharedCorpusID: "t",
				Script: []ScriptLine{{SpeakerID: "a", Text: "hi"}}},
			field: "script",
		},
		{
			name:  "range too large",
			cfg:   GroupConfig{Name: "x", Mode: ModeTurnTaking, Members: []string{"a"}, SharedCorpusID: "t", Range: 500},
			field: "range",
		},
		{
			name:  "negative delay",
			cfg:   GroupConfig{Name: "x", Mode: ModeTurnTaking, Members: []string{"a"}, SharedCorpusID: "t", DelaySeconds: -1},
			field: "delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGroup("group-1", tt.cfg, testLimits, time.Now())
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConversationGroup_ConfigRoundTrip(t *testing.T) {
	cfg := GroupConfig{
		Name:           "Guards",
		Mode:           ModeTurnTaking,
		Members:        []string{"a", "b", "c"},
		Range:          45,
		DelaySeconds:   12,
		SharedCorpusID: "guards",
		Enabled:        boolPtr(false),
	}
	g, err := NewGroup("group-1", cfg, testLimits, time.Now())
	require.NoError(t, err)

	assert.Equal(t, cfg, g.Config())
}

func TestConversationGroup_JSONRoundTrip(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	g, err := NewGroup("group-42", GroupConfig{
		Name:    "Argument",
		Mode:    ModeScriptedCustom,
		Members: []string{"a", "b"},
		Script: []ScriptLine{
			{SpeakerID: "a", Text: "First."},
			{SpeakerID: "b", Text: "Second."},
		},
		DelaySeconds: 3,
	}, testLimits, created)
	require.NoError(t, err)

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded ConversationGroup
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, g.ID, decoded.ID)
	assert.Equal(t, g.Members, decoded.Members)
	assert.Equal(t, 3*time.Second, decoded.Delay)
	assert.True(t, decoded.CreatedAt.Equal(created))
	mode, ok := decoded.Mode.(ScriptedCustomMode)
	require.True(t, ok, "expected ScriptedCustomMode, got %T", decoded.Mode)
	assert.Len(t, mode.Script, 2)
}

func TestConversationGroup_CloneIsDeep(t *testing.T) {
	g, err := NewGroup("group-1", GroupConfig{
		Name:           "x",
		Mode:           ModeRandom,
		Members:        []string{"a", "b"},
		TablesByMember: map[string]string{"a": "t1", "b": "t2"},
	}, testLimits, time.Now())
	require.NoError(t, err)

	c := g.Clone()
	c.Members[0] = "changed"
	c.Mode.(RandomMode).TablesByMember["a"] = "changed"

	assert.Equal(t, "a", g.Members[0])
	assert.Equal(t, "t1", g.Mode.(RandomMode).TablesByMember["a"])
}

func TestValidateRange(t *testing.T) {
	assert.NoError(t, ValidateRange(30, 120))
	assert.NoError(t, ValidateRange(500, 0))
	assert.ErrorIs(t, ValidateRange(0, 120), ErrValidation)
	assert.ErrorIs(t, ValidateRange(-5, 120), ErrValidation)
	assert.ErrorIs(t, ValidateRange(121, 120), ErrValidation)
}

func TestParseGroupID(t *testing.T) {
	id := NewGroupID()
	got, err := ParseGroupID(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = ParseGroupID("group-6BA7B810-9DAD-11D1-80B4-00C04FD430C8")
	require.NoError(t, err)
	assert.Equal(t, "group-6ba7b810-9dad-11d1-80b4-00c04fd430c8", got)

	for _, bad := range []string{"", "group-", "group-1", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", "aura-6ba7b810-9dad-11d1-80b4-00c04fd430c8"} {
		_, err := ParseGroupID(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}
