// Package scene holds the positioned entities of a shared scene and the
// distance rules used to decide who is near whom.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrEntityNotFound is returned when an entity ID is not in the scene.
var ErrEntityNotFound = errors.New("entity not found")

// Position is a point in scene units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Entity is a positioned actor in the scene. Observer entities represent
// external participants whose proximity triggers dialogue.
type Entity struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Observer bool     `json:"observer"`
}

// Directory looks up entities in the current scene.
type Directory interface {
	Get(id string) (Entity, bool)
	Entities() []Entity
	Observers() []Entity
}

// Scene is an in-memory, concurrency-safe Directory. The host mutates it as
// entities are placed, moved and removed.
type Scene struct {
	mu       sync.RWMutex
	entities map[string]Entity
}

var _ Directory = (*Scene)(nil)

func New(entities ...Entity) *Scene {
	s := &Scene{entities: make(map[string]Entity, len(entities))}
	for _, e := range entities {
		s.entities[e.ID] = e
	}
	return s
}

// Upsert places or replaces an entity.
func (s *Scene) Upsert(e Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
	return nil
}

// Move updates an entity's position.
func (s *Scene) Move(id string, pos Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	e.Position = pos
	s.entities[id] = e
	return nil
}

// Remove deletes an entity. It reports whether the entity existed.
func (s *Scene) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[id]
	delete(s.entities, id)
	return ok
}

func (s *Scene) Get(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	return e, ok
}

// Entities returns all entities sorted by ID.
func (s *Scene) Entities() []Entity {
	return s.filter(func(Entity) bool { return true })
}

// Observers returns the observer-controlled entities sorted by ID.
func (s *Scene) Observers() []Entity {
	return s.filter(func(e Entity) bool { return e.Observer })
}

func (s *Scene) filter(keep func(Entity) bool) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
