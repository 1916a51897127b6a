package dispatch

import (
	"sort"
	"sync"
	"time"

	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// Presentation is a line currently floating above a speaker.
type Presentation struct {
	SpeakerID   string         `json:"speaker_id"`
	SpeakerName string         `json:"speaker_name"`
	Text        string         `json:"text"`
	Position    scene.Position `json:"position"`
	ShownAt     time.Time      `json:"shown_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Listener is told when a presentation appears (visible) or expires.
type Listener func(p Presentation, visible bool)

type staged struct {
	p     Presentation
	gen   uint64
	timer *time.Timer
}

// Stage holds transient presentations, at most one per speaker. Each one
// removes itself after the stage TTL; a newer line from the same speaker
// replaces the older one and restarts the clock.
type Stage struct {
	mu        sync.Mutex
	ttl       time.Duration
	gen       uint64
	active    map[string]*staged
	listeners []Listener
	now       func() time.Time
}

// DefaultTTL is used when a stage or dispatcher is given no TTL.
const DefaultTTL = 5 * time.Second

func NewStage(ttl time.Duration) *Stage {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Stage{
		ttl:    ttl,
		active: make(map[string]*staged),
		now:    time.Now,
	}
}

// TTL is how long a presentation stays visible.
func (s *Stage) TTL() time.Duration {
	return s.ttl
}

// OnChange registers a listener. Listeners run synchronously and must not
// call back into the stage.
func (s *Stage) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Show places p on the stage and schedules its expiry.
func (s *Stage) Show(p Presentation) Presentation {
	p, _ = s.show(p, s.ttl)
	return p
}

// ShowUntil places p on the stage until expiresAt. A presentation that has
// already expired is not shown and false is returned.
func (s *Stage) ShowUntil(p Presentation, expiresAt time.Time) (Presentation, bool) {
	return s.show(p, expiresAt.Sub(s.now()))
}

func (s *Stage) show(p Presentation, ttl time.Duration) (Presentation, bool) {
	if ttl <= 0 {
		return p, false
	}
	s.mu.Lock()
	p.ShownAt = s.now()
	p.ExpiresAt = p.ShownAt.Add(ttl)

	if prev, ok := s.active[p.SpeakerID]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	entry := &staged{p: p, gen: gen}
	entry.timer = time.AfterFunc(ttl, func() { s.expire(p.SpeakerID, gen) })
	s.active[p.SpeakerID] = entry
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(p, true)
	}
	return p, true
}

func (s *Stage) expire(speakerID string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.active[speakerID]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.active, speakerID)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(entry.p, false)
	}
}

// Active returns the visible presentations ordered by when they were shown.
func (s *Stage) Active() []Presentation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Presentation, 0, len(s.active))
	for _, e := range s.active {
		out = append(out, e.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShownAt.Before(out[j].ShownAt) })
	return out
}

// Clear removes every presentation without notifying listeners.
func (s *Stage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.active {
		e.timer.Stop()
		delete(s.active, id)
	}
}
