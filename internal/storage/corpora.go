package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jwebster45206/conversation-engine/pkg/corpus"
)

// CorpusFile is the on-disk shape of data/corpora/<id>.json.
type CorpusFile struct {
	Name    string   `json:"name"`
	Entries []string `json:"entries"`
}

// FileCorpora resolves corpora from JSON files under dataDir/corpora. Files
// are read on every Resolve so edits on disk show up on the next draw.
type FileCorpora struct {
	dir    string
	logger *slog.Logger
}

var _ corpus.Provider = (*FileCorpora)(nil)

func NewFileCorpora(dataDir string, logger *slog.Logger) *FileCorpora {
	if dataDir == "" {
		dataDir = "./data"
	}
	return &FileCorpora{dir: filepath.Join(dataDir, "corpora"), logger: logger}
}

// ParseCorpusFile decodes and checks a corpus document. The ID comes from
// the filename.
func ParseCorpusFile(id string, data []byte) (*corpus.Table, error) {
	var f CorpusFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal corpus %s: %w", id, err)
	}
	if strings.TrimSpace(f.Name) == "" {
		f.Name = id
	}
	return corpus.NewTable(id, f.Name, f.Entries), nil
}

func (f *FileCorpora) Resolve(ctx context.Context, id string) (corpus.Corpus, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: %q", corpus.ErrNotFound, id)
	}
	path := filepath.Join(f.dir, id+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", corpus.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read corpus file %s: %w", path, err)
	}
	return ParseCorpusFile(id, data)
}

// List returns summaries of every readable corpus, sorted by name.
func (f *FileCorpora) List(ctx context.Context) ([]corpus.Summary, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []corpus.Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read corpora directory: %w", err)
	}

	out := make([]corpus.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		c, err := f.Resolve(ctx, id)
		if err != nil {
			f.logger.Warn("Failed to load corpus file", "corpus_id", id, "error", err)
			continue
		}
		out = append(out, corpus.Summary{ID: c.ID(), Name: c.Name(), Entries: c.Len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
