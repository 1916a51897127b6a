package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/pkg/corpus"
)

// CorpusCatalog lists and resolves corpora.
type CorpusCatalog interface {
	corpus.Provider
	List(ctx context.Context) ([]corpus.Summary, error)
}

type CorpusDetail struct {
	corpus.Summary
	Lines []string `json:"lines"`
}

type CorporaHandler struct {
	corpora CorpusCatalog
	logger  *slog.Logger
}

func NewCorporaHandler(corpora CorpusCatalog, logger *slog.Logger) *CorporaHandler {
	return &CorporaHandler{
		corpora: corpora,
		logger:  logger,
	}
}

// ServeHTTP handles corpus lookups
// Routes:
// GET /v1/corpora      - List corpora
// GET /v1/corpora/{id} - Read one corpus with its lines
func (h *CorporaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, r, http.MethodGet)
		return
	}
	id, ok := pathID(r.URL.Path, "/v1/corpora")
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/corpora/{id}")
		return
	}

	if id == "" {
		list, err := h.corpora.List(r.Context())
		if err != nil {
			h.logger.Error("Failed to list corpora", "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to list corpora")
			return
		}
		writeJSON(w, h.logger, http.StatusOK, list)
		return
	}

	c, err := h.corpora.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, corpus.ErrNotFound) {
			writeError(w, h.logger, http.StatusNotFound, "Corpus not found: "+id)
			return
		}
		h.logger.Error("Failed to load corpus", "corpus_id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load corpus")
		return
	}

	detail := CorpusDetail{
		Summary: corpus.Summary{ID: c.ID(), Name: c.Name(), Entries: c.Len()},
		Lines:   make([]string, 0, c.Len()),
	}
	for i := 0; i < c.Len(); i++ {
		if line, ok := c.EntryAt(i); ok {
			detail.Lines = append(detail.Lines, line)
		}
	}
	writeJSON(w, h.logger, http.StatusOK, detail)
}
