package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/corpus"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingDispatcher keeps every utterance. Hook, when set, runs before the
// utterance is recorded.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatch.Utterance
	Hook  func(u dispatch.Utterance) error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, u dispatch.Utterance, display dispatch.Display) error {
	if d.Hook != nil {
		if err := d.Hook(u); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, u)
	return nil
}

func (d *recordingDispatcher) Calls() []dispatch.Utterance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Utterance(nil), d.calls...)
}

func (d *recordingDispatcher) Speakers() []string {
	var out []string
	for _, u := range d.Calls() {
		out = append(out, u.SpeakerID)
	}
	return out
}

func (d *recordingDispatcher) Texts() []string {
	var out []string
	for _, u := range d.Calls() {
		out = append(out, u.Text)
	}
	return out
}

type harness struct {
	eng   *Engine
	scene *scene.Scene
	lib   *corpus.Library
	store *storage.MockStorage
	disp  *recordingDispatcher
	clock *fakeClock
	opts  Options
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDefaults() settings.Snapshot {
	return settings.Snapshot{
		AurasEnabled:    true,
		DefaultRange:    30,
		DefaultInterval: 10 * time.Second,
		FloatingText:    true,
		ChatMessage:     true,
	}
}

// newHarness builds an engine over an in-memory scene with one observer,
// "pc", standing at the origin.
func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		scene: scene.New(scene.Entity{ID: "pc", Name: "Player", Observer: true}),
		lib:   corpus.NewLibrary(),
		store: storage.NewMockStorage(),
		disp:  &recordingDispatcher{},
		clock: newFakeClock(),
	}
	ids := 0
	h.opts = Options{
		Directory:  h.scene,
		Oracle:     scene.EuclideanOracle{},
		Corpora:    h.lib,
		Entities:   h.store,
		World:      h.store,
		Settings:   settings.New(h.store, testDefaults(), 120, testLogger()),
		Dispatcher: h.disp,
		Logger:     testLogger(),
		Now:        h.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("group-%d", ids)
		},
	}
	for _, m := range mutate {
		m(&h.opts)
	}
	eng, err := New(h.opts)
	require.NoError(t, err)
	h.eng = eng
	return h
}

// place puts an NPC at (x, 0).
func (h *harness) place(t *testing.T, id string, x float64) {
	t.Helper()
	require.NoError(t, h.scene.Upsert(scene.Entity{ID: id, Name: id, Position: scene.Position{X: x}}))
}

func (h *harness) addCorpus(id string, entries ...string) {
	h.lib.Put(corpus.NewTable(id, id, entries))
}

// fire advances the clock by d and runs one tick.
func (h *harness) fire(d time.Duration) {
	h.clock.Advance(d)
	h.eng.Tick(context.Background())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
	assert.Contains(t, err.Error(), "dispatcher")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PollInterval = 5 * time.Millisecond })
	h.place(t, "npc", 10)
	h.addCorpus("greetings", "hi")
	ctx := context.Background()
	_, err := h.eng.AssignAura(ctx, "npc", "greetings", 30)
	require.NoError(t, err)

	require.NoError(t, h.eng.Start(ctx))
	require.NoError(t, h.eng.Start(ctx), "start is idempotent")
	assert.True(t, h.eng.Running())

	require.Eventually(t, func() bool { return len(h.disp.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	h.eng.Stop()
	h.eng.Stop()
	h.eng.Wait()
	assert.False(t, h.eng.Running())

	status := h.eng.Status(ctx)
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.Auras)
	assert.GreaterOrEqual(t, status.Ticks, uint64(1))
	assert.Equal(t, uint64(1), status.Fires)

	// the fake clock never moves, so the aura stays cooling down
	assert.Len(t, h.disp.Calls(), 1)

	// registries survive a restart
	require.NoError(t, h.eng.Start(ctx))
	defer h.eng.Stop()
	_, ok := h.eng.Aura("npc")
	assert.True(t, ok)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) PublishMonitorState(ctx context.Context, running bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if running {
		n.events = append(n.events, "started")
	} else {
		n.events = append(n.events, "stopped")
	}
	return nil
}

func (n *recordingNotifier) PublishPauseChanged(ctx context.Context, paused bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if paused {
		n.events = append(n.events, "paused")
	} else {
		n.events = append(n.events, "resumed")
	}
	return nil
}

func TestNotifier(t *testing.T) {
	n := &recordingNotifier{}
	h := newHarness(t, func(o *Options) {
		o.Notifier = n
		o.PollInterval = time.Hour
	})
	ctx := context.Background()

	require.NoError(t, h.eng.Start(ctx))
	require.NoError(t, h.eng.SetGlobalPause(ctx, true))
	require.NoError(t, h.eng.SetGlobalPause(ctx, false))
	h.eng.Stop()

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{"started", "paused", "resumed", "stopped"}, n.events)
}
