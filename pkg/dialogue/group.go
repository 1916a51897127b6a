package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxDelay bounds the per-group cooldown override.
const MaxDelay = time.Hour

// ModeKind names a speaking mode on the wire.
type ModeKind string

const (
	ModeRandom         ModeKind = "random"
	ModeTurnTaking     ModeKind = "turn-taking"
	ModeScriptedCorpus ModeKind = "scripted"
	ModeScriptedCustom ModeKind = "scripted-custom"
)

// ModeKinds lists every supported mode in display order.
var ModeKinds = []ModeKind{ModeRandom, ModeTurnTaking, ModeScriptedCorpus, ModeScriptedCustom}

// Mode is the speaking-mode payload of a conversation group. The concrete
// variants are RandomMode, TurnTakingMode, ScriptedCorpusMode and
// ScriptedCustomMode; each carries exactly the data its resolver needs.
type Mode interface {
	Kind() ModeKind
	validate(members []string) error
	fill(cfg *GroupConfig)
	clone() Mode
}

// RandomMode picks a random member and draws from that member's corpus.
type RandomMode struct {
	TablesByMember map[string]string
}

// TurnTakingMode rotates through members in order, each drawing randomly
// from one shared corpus.
type TurnTakingMode struct {
	SharedCorpusID string
}

// ScriptedCorpusMode walks members and corpus entries with a single shared
// counter. No randomness is involved.
type ScriptedCorpusMode struct {
	SharedCorpusID string
}

// ScriptedCustomMode plays an authored script line by line.
type ScriptedCustomMode struct {
	Script []ScriptLine
}

// ScriptLine is one authored line of a scripted-custom conversation.
type ScriptLine struct {
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

func (RandomMode) Kind() ModeKind         { return ModeRandom }
func (TurnTakingMode) Kind() ModeKind     { return ModeTurnTaking }
func (ScriptedCorpusMode) Kind() ModeKind { return ModeScriptedCorpus }
func (ScriptedCustomMode) Kind() ModeKind { return ModeScriptedCustom }

func (m RandomMode) validate(members []string) error {
	if len(m.TablesByMember) < 2 {
		return invalid("tables_by_member", "random mode needs corpora assigned to at least two members")
	}
	var errs []error
	for member, corpusID := range m.TablesByMember {
		if !slices.Contains(members, member) {
			errs = append(errs, invalid("tables_by_member", "%q is not a member of the group", member))
		}
		if strings.TrimSpace(corpusID) == "" {
			errs = append(errs, invalid("tables_by_member", "member %q has no corpus", member))
		}
	}
	return errors.Join(errs...)
}

func (m TurnTakingMode) validate([]string) error {
	if strings.TrimSpace(m.SharedCorpusID) == "" {
		return invalid("shared_corpus_id", "turn-taking mode needs a shared corpus")
	}
	return nil
}

func (m ScriptedCorpusMode) validate([]string) error {
	if strings.TrimSpace(m.SharedCorpusID) == "" {
		return invalid("shared_corpus_id", "scripted mode needs a shared corpus")
	}
	return nil
}

func (m ScriptedCustomMode) validate(members []string) error {
	if len(m.Script) == 0 {
		return invalid("script", "scripted-custom mode needs at least one line")
	}
	var errs []error
	for i, line := range m.Script {
		if strings.TrimSpace(line.SpeakerID) == "" {
			errs = append(errs, invalid("script", "line %d has no speaker", i))
		} else if !slices.Contains(members, line.SpeakerID) {
			errs = append(errs, invalid("script", "line %d speaker %q is not a member of the group", i, line.SpeakerID))
		}
		if strings.TrimSpace(line.Text) == "" {
			errs = append(errs, invalid("script", "line %d has no text", i))
		}
	}
	return errors.Join(errs...)
}

func (m RandomMode) fill(cfg *GroupConfig) {
	cfg.TablesByMember = make(map[string]string, len(m.TablesByMember))
	for k, v := range m.TablesByMember {
		cfg.TablesByMember[k] = v
	}
}

func (m TurnTakingMode) fill(cfg *GroupConfig)     { cfg.SharedCorpusID = m.SharedCorpusID }
func (m ScriptedCorpusMode) fill(cfg *GroupConfig) { cfg.SharedCorpusID = m.SharedCorpusID }
func (m ScriptedCustomMode) fill(cfg *GroupConfig) { cfg.Script = slices.Clone(m.Script) }

func (m RandomMode) clone() Mode {
	tables := make(map[string]string, len(m.TablesByMember))
	for k, v := range m.TablesByMember {
		tables[k] = v
	}
	return RandomMode{TablesByMember: tables}
}

func (m TurnTakingMode) clone() Mode     { return m }
func (m ScriptedCorpusMode) clone() Mode { return m }
func (m ScriptedCustomMode) clone() Mode { return ScriptedCustomMode{Script: slices.Clone(m.Script)} }

// GroupConfig is the flat, authoring-side description of a conversation
// group. It is what callers submit and what ListGroups reports back.
type GroupConfig struct {
	Name           string            `json:"name"`
	Mode           ModeKind          `json:"mode"`
	Members        []string          `json:"members"` // speaking order
	Range          float64           `json:"range,omitempty"`
	DelaySeconds   int               `json:"delay,omitempty"` // 0 uses the global interval
	TablesByMember map[string]string `json:"tables_by_member,omitempty"`
	SharedCorpusID string            `json:"shared_corpus_id,omitempty"`
	Script         []ScriptLine      `json:"script,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

// Limits carries the operator bounds applied when a group is built.
type Limits struct {
	DefaultRange float64
	MaxRange     float64
}

// ConversationGroup is a validated, immutable group. Edits produce a new
// value; the registry never mutates one in place.
type ConversationGroup struct {
	ID        string
	Name      string
	Mode      Mode
	Members   []string
	Range     float64 // 0 follows the world default range
	Delay     time.Duration
	Enabled   bool
	CreatedAt time.Time
}

// GroupSummary is the listing view of a group: its identity plus the config
// it was created from.
type GroupSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	GroupConfig
}

// NewGroup validates cfg as a whole and builds the group. Every problem found
// is reported; on error nothing is returned.
func NewGroup(id string, cfg GroupConfig, limits Limits, createdAt time.Time) (*ConversationGroup, error) {
	var errs []error

	if strings.TrimSpace(id) == "" {
		errs = append(errs, invalid("id", "must not be empty"))
	}
	switch name := strings.TrimSpace(cfg.Name); {
	case name == "":
		errs = append(errs, invalid("name", "conversation group must have a name"))
	case name != cfg.Name:
		errs = append(errs, invalid("name", "must not begin or end with whitespace"))
	}
	if len(cfg.Members) == 0 {
		errs = append(errs, invalid("members", "conversation group must have at least one member"))
	}
	for i, m := range cfg.Members {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, invalid("members", "member %d is empty", i))
		}
	}

	// a zero range is stored as given and follows the world default
	rng := cfg.Range
	if rng == 0 {
		rng = limits.DefaultRange
	}
	if err := ValidateRange(rng, limits.MaxRange); err != nil {
		errs = append(errs, err)
	}

	delay := time.Duration(cfg.DelaySeconds) * time.Second
	if delay < 0 || delay > MaxDelay {
		errs = append(errs, invalid("delay", "must be between 0 and %d seconds", int(MaxDelay/time.Second)))
	}

	mode, err := modeFromConfig(cfg)
	if err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, foreignPayload(cfg, mode.Kind())...)
		if err := mode.validate(cfg.Members); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	return &ConversationGroup{
		ID:        id,
		Name:      cfg.Name,
		Mode:      mode,
		Members:   slices.Clone(cfg.Members),
		Range:     cfg.Range,
		Delay:     delay,
		Enabled:   enabled,
		CreatedAt: createdAt,
	}, nil
}

// GroupIDPrefix starts every conversation group ID.
const GroupIDPrefix = "group-"

// NewGroupID returns a fresh "group-<uuid>" ID.
func NewGroupID() string {
	return GroupIDPrefix + uuid.NewString()
}

// ParseGroupID checks that id is a "group-<uuid>" ID and returns it in
// canonical form.
func ParseGroupID(id string) (string, error) {
	raw, ok := strings.CutPrefix(id, GroupIDPrefix)
	if !ok {
		return "", invalid("id", "group ID must start with %q", GroupIDPrefix)
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", invalid("id", "invalid group ID %q", id)
	}
	return GroupIDPrefix + u.String(), nil
}

// ParseModeKind accepts the exact wire names of the four modes.
func ParseModeKind(s string) (ModeKind, error) {
	kind := ModeKind(s)
	if slices.Contains(ModeKinds, kind) {
		return kind, nil
	}
	return "", invalid("mode", "must be 'scripted', 'scripted-custom', 'random', or 'turn-taking', got %q", s)
}

func modeFromConfig(cfg GroupConfig) (Mode, error) {
	kind, err := ParseModeKind(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	switch kind {
	case ModeRandom:
		return RandomMode{TablesByMember: cfg.TablesByMember}.clone(), nil
	case ModeTurnTaking:
		return TurnTakingMode{SharedCorpusID: cfg.SharedCorpusID}, nil
	case ModeScriptedCorpus:
		return ScriptedCorpusMode{SharedCorpusID: cfg.SharedCorpusID}, nil
	case ModeScriptedCustom:
		return ScriptedCustomMode{Script: slices.Clone(cfg.Script)}, nil
	}
	return nil, invalid("mode", "unsupported mode %q", cfg.Mode)
}

// foreignPayload rejects payload fields that belong to a different mode.
func foreignPayload(cfg GroupConfig, kind ModeKind) []error {
	var errs []error
	if len(cfg.TablesByMember) > 0 && kind != ModeRandom {
		errs = append(errs, invalid("tables_by_member", "only allowed in random mode"))
	}
	if cfg.SharedCorpusID != "" && kind != ModeTurnTaking && kind != ModeScriptedCorpus {
		errs = append(errs, invalid("shared_corpus_id", "only allowed in turn-taking and scripted modes"))
	}
	if len(cfg.Script) > 0 && kind != ModeScriptedCustom {
		errs = append(errs, invalid("script", "only allowed in scripted-custom mode"))
	}
	return errs
}

// Config reports the group back in its authoring shape.
func (g *ConversationGroup) Config() GroupConfig {
	enabled := g.Enabled
	cfg := GroupConfig{
		Name:         g.Name,
		Mode:         g.Mode.Kind(),
		Members:      slices.Clone(g.Members),
		Range:        g.Range,
		DelaySeconds: int(g.Delay / time.Second),
		Enabled:      &enabled,
	}
	g.Mode.fill(&cfg)
	return cfg
}

// Summary returns the listing view of the group.
func (g *ConversationGroup) Summary() GroupSummary {
	return GroupSummary{ID: g.ID, CreatedAt: g.CreatedAt, GroupConfig: g.Config()}
}

// Clone returns a deep copy.
func (g *ConversationGroup) Clone() *ConversationGroup {
	c := *g
	c.Members = slices.Clone(g.Members)
	c.Mode = g.Mode.clone()
	return &c
}

// WithEnabled returns a copy of the group with Enabled set.
func (g *ConversationGroup) WithEnabled(enabled bool) *ConversationGroup {
	c := g.Clone()
	c.Enabled = enabled
	return c
}

// EffectiveRange is the trigger range given the current world default.
func (g *ConversationGroup) EffectiveRange(defaultRange float64) float64 {
	if g.Range == 0 {
		return defaultRange
	}
	return g.Range
}

// HasMember reports whether entityID takes part in the group.
func (g *ConversationGroup) HasMember(entityID string) bool {
	return slices.Contains(g.Members, entityID)
}

func (g *ConversationGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Summary())
}

// UnmarshalJSON restores a persisted group. Groups are validated when they
// are created, so only the mode is checked here.
func (g *ConversationGroup) UnmarshalJSON(data []byte) error {
	var s GroupSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := modeFromConfig(s.GroupConfig)
	if err != nil {
		return fmt.Errorf("group %s: %w", s.ID, err)
	}
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	*g = ConversationGroup{
		ID:        s.ID,
		Name:      s.Name,
		Mode:      mode,
		Members:   s.Members,
		Range:     s.Range,
		Delay:     time.Duration(s.DelaySeconds) * time.Second,
		Enabled:   enabled,
		CreatedAt: s.CreatedAt,
	}
	return nil
}
