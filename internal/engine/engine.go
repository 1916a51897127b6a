// Package engine is the proximity-triggered dialogue engine. One Engine owns
// the aura index, the conversation groups with their cursors and cooldowns,
// and the polling loop that decides who speaks, when, and what.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/settings"
	"github.com/jwebster45206/conversation-engine/internal/storage"
	"github.com/jwebster45206/conversation-engine/pkg/corpus"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

const DefaultPollInterval = time.Second

// Dispatcher delivers a resolved line.
type Dispatcher interface {
	Dispatch(ctx context.Context, u dispatch.Utterance, display dispatch.Display) error
}

// Notifier is told about lifecycle changes so observers can show them.
type Notifier interface {
	PublishMonitorState(ctx context.Context, running bool) error
	PublishPauseChanged(ctx context.Context, paused bool) error
}

// Options wires an Engine to its collaborators. Directory, Oracle, Corpora,
// Entities, World, Settings and Dispatcher are required.
type Options struct {
	Directory  scene.Directory
	Oracle     scene.Oracle
	Corpora    corpus.Provider
	Entities   storage.EntityStore
	World      storage.WorldStore
	Settings   *settings.Service
	Dispatcher Dispatcher
	Notifier   Notifier

	PollInterval time.Duration
	Logger       *slog.Logger

	// Test hooks. Defaults are wall-clock time, math/rand/v2 and
	// "group-<uuid>" IDs.
	Now   func() time.Time
	IntN  func(n int) int
	NewID func() string
}

// Engine is the single authoritative dialogue engine of a host session.
// CRUD calls and tick evaluation are serialized on mu.
type Engine struct {
	dir        scene.Directory
	oracle     scene.Oracle
	corpora    corpus.Provider
	entities   storage.EntityStore
	world      storage.WorldStore
	settings   *settings.Service
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger

	pollInterval time.Duration
	now          func() time.Time
	intn         func(n int) int
	newID        func() string

	mu       sync.Mutex
	auras    map[string]*dialogue.AuraBinding
	groups   map[string]*dialogue.ConversationGroup
	order    []string // group IDs in creation order
	cursors  map[string]int
	epochs   map[string]uint64 // bumped whenever a group's cursor is reset
	activity map[string]time.Time
	inflight map[string]bool

	// flagMu serializes aura flag writes; persistMu serializes group blob writes.
	flagMu    sync.Mutex
	persistMu sync.Mutex

	items sync.WaitGroup

	cancel       context.CancelFunc
	loopDone     chan struct{}
	running      bool
	groupsLoaded bool // the durable group collection has been read once
	ticks    uint64
	fires    uint64
	lastTick time.Time
}

// New builds an engine. It does not load state or start polling; call Start.
func New(opts Options) (*Engine, error) {
	var missing []string
	if opts.Directory == nil {
		missing = append(missing, "directory")
	}
	if opts.Oracle == nil {
		missing = append(missing, "oracle")
	}
	if opts.Corpora == nil {
		missing = append(missing, "corpora")
	}
	if opts.Entities == nil {
		missing = append(missing, "entity store")
	}
	if opts.World == nil {
		missing = append(missing, "world store")
	}
	if opts.Settings == nil {
		missing = append(missing, "settings")
	}
	if opts.Dispatcher == nil {
		missing = append(missing, "dispatcher")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("engine: missing %v", missing)
	}

	e := &Engine{
		dir:          opts.Directory,
		oracle:       opts.Oracle,
		corpora:      opts.Corpora,
		entities:     opts.Entities,
		world:        opts.World,
		settings:     opts.Settings,
		dispatcher:   opts.Dispatcher,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
		intn:         opts.IntN,
		newID:        opts.NewID,
		auras:        make(map[string]*dialogue.AuraBinding),
		groups:       make(map[string]*dialogue.ConversationGroup),
		cursors:      make(map[string]int),
		epochs:       make(map[string]uint64),
		activity:     make(map[string]time.Time),
		inflight:     make(map[string]bool),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "engine")
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.intn == nil {
		e.intn = rand.IntN
	}
	if e.newID == nil {
		e.newID = dialogue.NewGroupID
	}
	return e, nil
}

// Start re-syncs the aura index from the scene and begins polling. The group
// collection is read from durable storage until one read succeeds; after
// that the in-memory registry is authoritative across restarts. Starting a
// running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	needGroups := !e.groupsLoaded
	e.mu.Unlock()

	var errs []error
	if _, err := e.LoadFromScene(ctx); err != nil {
		errs = append(errs, err)
	}
	if needGroups {
		if err := e.loadGroups(ctx); err != nil {
			errs = append(errs, err)
		} else {
			e.mu.Lock()
			e.groupsLoaded = true
			e.mu.Unlock()
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("Engine started with incomplete state", "error", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	e.running = true
	done := e.loopDone
	auras, groups := len(e.auras), len(e.groups)
	e.mu.Unlock()

	go e.run(loopCtx, done)

	e.logger.Info("Dialogue monitor started",
		"poll_interval", e.pollInterval,
		"auras", auras,
		"groups", groups,
	)
	e.notify(func(n Notifier) error { return n.PublishMonitorState(ctx, true) })
	return nil
}

// Stop cancels future ticks. Items already evaluating are allowed to finish;
// use Wait to block on them. Registries, cursors and cooldowns are kept.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.loopDone
	e.cancel, e.loopDone = nil, nil
	e.mu.Unlock()

	cancel()
	<-done

	e.logger.Info("Dialogue monitor stopped")
	ctx := context.Background()
	e.notify(func(n Notifier) error { return n.PublishMonitorState(ctx, false) })
}

// Wait blocks until every in-flight aura and group evaluation returns.
func (e *Engine) Wait() {
	e.items.Wait()
}

// Running reports whether the polling loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetGlobalPause persists the pause flag. While paused no aura or group
// fires; cursors and cooldown stamps are left untouched.
func (e *Engine) SetGlobalPause(ctx context.Context, paused bool) error {
	if err := e.settings.SetGlobalPause(ctx, paused); err != nil {
		return err
	}
	e.logger.Info("Global pause changed", "paused", paused)
	e.notify(func(n Notifier) error { return n.PublishPauseChanged(ctx, paused) })
	return nil
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Running      bool          `json:"running"`
	Paused       bool          `json:"paused"`
	PollInterval time.Duration `json:"poll_interval"`
	Ticks        uint64        `json:"ticks"`
	Fires        uint64        `json:"fires"`
	LastTick     time.Time     `json:"last_tick,omitempty"`
	Auras        int           `json:"auras"`
	Groups       int           `json:"groups"`
	InFlight     int           `json:"in_flight"`
}

func (e *Engine) Status(ctx context.Context) Status {
	snap, err := e.settings.Load(ctx)
	if err != nil {
		e.logger.Warn("Failed to load settings for status", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:      e.running,
		Paused:       snap.GlobalPause,
		PollInterval: e.pollInterval,
		Ticks:        e.ticks,
		Fires:        e.fires,
		LastTick:     e.lastTick,
		Auras:        len(e.auras),
		Groups:       len(e.groups),
		InFlight:     len(e.inflight),
	}
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// items outlive a Stop so their dispatches can finish
	itemCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.evaluate(itemCtx)
		}
	}
}

func (e *Engine) notify(fn func(Notifier) error) {
	if e.notifier == nil {
		return
	}
	if err := fn(e.notifier); err != nil {
		e.logger.Warn("Failed to publish monitor event", "error", err)
	}
}
