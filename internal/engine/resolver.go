package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// resolution is what a speaking mode decided for one fire.
type resolution struct {
	speak   bool
	speaker scene.Entity
	text    string
	advance bool
	next    int
}

// resolve picks the speaker and line for a group that is firing. A member
// that has left the scene still consumes its turn so rotation never stalls.
func (e *Engine) resolve(ctx context.Context, log *slog.Logger, g *dialogue.ConversationGroup, cursor int) resolution {
	switch m := g.Mode.(type) {
	case dialogue.RandomMode:
		return e.resolveRandom(ctx, log, g, m)
	case dialogue.TurnTakingMode:
		return e.resolveTurnTaking(ctx, log, g, m, cursor)
	case dialogue.ScriptedCorpusMode:
		return e.resolveScriptedCorpus(ctx, log, g, m, cursor)
	case dialogue.ScriptedCustomMode:
		return e.resolveScriptedCustom(log, g, m, cursor)
	default:
		log.Error("Unsupported conversation mode", "mode", fmt.Sprintf("%T", g.Mode))
		return resolution{}
	}
}

func (e *Engine) resolveRandom(ctx context.Context, log *slog.Logger, g *dialogue.ConversationGroup, m dialogue.RandomMode) resolution {
	member := g.Members[e.intn(len(g.Members))]

	corpusID, ok := m.TablesByMember[member]
	if !ok {
		log.Warn("Random speaker has no corpus",
			"member_id", member,
			"error", fmt.Errorf("%w: no corpus for %s", dialogue.ErrReference, member),
		)
		return resolution{}
	}
	ent, ok := e.dir.Get(member)
	if !ok {
		log.Debug("Random speaker not in scene", "member_id", member)
		return resolution{}
	}
	c, err := e.corpora.Resolve(ctx, corpusID)
	if err != nil {
		log.Warn("Skipping group with unresolvable corpus",
			"corpus_id", corpusID,
			"error", fmt.Errorf("%w: %w", dialogue.ErrReference, err),
		)
		return resolution{}
	}
	text, err := c.DrawRandom(ctx)
	if err != nil {
		log.Warn("Failed to draw group line", "corpus_id", corpusID, "error", err)
		return resolution{}
	}
	return resolution{speak: true, speaker: ent, text: text}
}

func (e *Engine) resolveTurnTaking(ctx context.Context, log *slog.Logger, g *dialogue.ConversationGroup, m dialogue.TurnTakingMode, cursor int) resolution {
	c, err := e.corpora.Resolve(ctx, m.SharedCorpusID)
	if err != nil {
		log.Warn("Skipping group with unresolvable corpus",
			"corpus_id", m.SharedCorpusID,
			"error", fmt.Errorf("%w: %w", dialogue.ErrReference, err),
		)
		return resolution{}
	}

	if cursor < 0 || cursor >= len(g.Members) {
		cursor = 0
	}
	res := resolution{advance: true, next: (cursor + 1) % len(g.Members)}

	member := g.Members[cursor]
	ent, ok := e.dir.Get(member)
	if !ok {
		log.Debug("Turn skipped, member not in scene", "member_id", member)
		return res
	}
	text, err := c.DrawRandom(ctx)
	if err != nil {
		log.Warn("Failed to draw group line", "corpus_id", m.SharedCorpusID, "error", err)
		return res
	}
	res.speak, res.speaker, res.text = true, ent, text
	return res
}

// resolveScriptedCorpus walks members and corpus entries with one counter.
// Both moduli are taken at fire time, so a corpus that grows or shrinks
// changes the mapping without resetting the counter.
func (e *Engine) resolveScriptedCorpus(ctx context.Context, log *slog.Logger, g *dialogue.ConversationGroup, m dialogue.ScriptedCorpusMode, counter int) resolution {
	c, err := e.corpora.Resolve(ctx, m.SharedCorpusID)
	if err != nil {
		log.Warn("Skipping group with unresolvable corpus",
			"corpus_id", m.SharedCorpusID,
			"error", fmt.Errorf("%w: %w", dialogue.ErrReference, err),
		)
		return resolution{}
	}
	n := c.Len()
	if n == 0 {
		log.Warn("Skipping scripted group with empty corpus", "corpus_id", m.SharedCorpusID)
		return resolution{}
	}
	if counter < 0 {
		counter = 0
	}
	res := resolution{advance: true, next: counter + 1}

	member := g.Members[counter%len(g.Members)]
	ent, ok := e.dir.Get(member)
	if !ok {
		log.Debug("Line spent, member not in scene", "member_id", member)
		return res
	}
	text, ok := c.EntryAt(counter % n)
	if !ok {
		return res
	}
	res.speak, res.speaker, res.text = true, ent, text
	return res
}

func (e *Engine) resolveScriptedCustom(log *slog.Logger, g *dialogue.ConversationGroup, m dialogue.ScriptedCustomMode, cursor int) resolution {
	if len(m.Script) == 0 {
		log.Warn("Script exhausted, resetting")
		return resolution{advance: true, next: 0}
	}
	if cursor < 0 || cursor >= len(m.Script) {
		return resolution{advance: true, next: 0}
	}
	res := resolution{advance: true, next: (cursor + 1) % len(m.Script)}

	line := m.Script[cursor]
	ent, ok := e.dir.Get(line.SpeakerID)
	if !ok {
		log.Debug("Script line spent, speaker not in scene", "member_id", line.SpeakerID, "line", cursor)
		return res
	}
	res.speak, res.speaker, res.text = true, ent, line.Text
	return res
}
