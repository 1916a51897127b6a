// Package corpus models dialogue corpora: named, ordered collections of lines
// that NPCs draw from.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when a corpus ID does not resolve.
	ErrNotFound = errors.New("corpus not found")

	// ErrEmpty is returned when drawing from a corpus with no entries.
	ErrEmpty = errors.New("corpus has no entries")
)

// Corpus is a named, ordered collection of dialogue lines.
type Corpus interface {
	ID() string
	Name() string
	Len() int
	EntryAt(i int) (string, bool)
	DrawRandom(ctx context.Context) (string, error)
}

// Provider resolves corpora by ID. Implementations may hit disk or the
// network, so callers pass a context.
type Provider interface {
	Resolve(ctx context.Context, id string) (Corpus, error)
}

// Summary is a listing entry for a corpus.
type Summary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// Table is an in-memory Corpus.
type Table struct {
	id      string
	name    string
	entries []string
	intn    func(n int) int
}

var _ Corpus = (*Table)(nil)

// NewTable builds a table. The entries slice is copied.
func NewTable(id, name string, entries []string) *Table {
	return &Table{
		id:      id,
		name:    name,
		entries: slices.Clone(entries),
		intn:    rand.IntN,
	}
}

// WithPicker replaces the uniform random source, for deterministic tests.
func (t *Table) WithPicker(intn func(n int) int) *Table {
	t.intn = intn
	return t
}

func (t *Table) ID() string   { return t.id }
func (t *Table) Name() string { return t.name }
func (t *Table) Len() int     { return len(t.entries) }

// Entries returns a copy of the table's lines.
func (t *Table) Entries() []string { return slices.Clone(t.entries) }

func (t *Table) EntryAt(i int) (string, bool) {
	if i < 0 || i >= len(t.entries) {
		return "", false
	}
	return t.entries[i], true
}

func (t *Table) DrawRandom(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(t.entries) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmpty, t.id)
	}
	return t.entries[t.intn(len(t.entries))], nil
}

// Library is a concurrency-safe in-memory Provider.
type Library struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

var _ Provider = (*Library)(nil)

func NewLibrary(tables ...*Table) *Library {
	l := &Library{tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		l.tables[t.ID()] = t
	}
	return l
}

// Put adds or replaces a table.
func (l *Library) Put(t *Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables[t.ID()] = t
}

// Remove deletes a table; unknown IDs are ignored.
func (l *Library) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tables, id)
}

func (l *Library) Resolve(ctx context.Context, id string) (Corpus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns summaries sorted by name.
func (l *Library) List() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Summary, 0, len(l.tables))
	for _, t := range l.tables {
		out = append(out, Summary{ID: t.ID(), Name: t.Name(), Entries: t.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
