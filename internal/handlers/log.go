package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
)

// TextLog reads the durable chat log.
type TextLog interface {
	Recent(ctx context.Context, limit int) ([]chatlog.Entry, error)
	Clear(ctx context.Context) error
}

type LogHandler struct {
	log    TextLog
	logger *slog.Logger
}

func NewLogHandler(log TextLog, logger *slog.Logger) *LogHandler {
	return &LogHandler{
		log:    log,
		logger: logger,
	}
}

// ServeHTTP handles the scene text log
// Routes:
// GET /v1/log?limit=n - Newest n entries, oldest first (default 50)
// DELETE /v1/log      - Clear the log
func (h *LogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, h.logger, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		entries, err := h.log.Recent(r.Context(), limit)
		if err != nil {
			h.logger.Error("Failed to read chat log", "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to read chat log")
			return
		}
		writeJSON(w, h.logger, http.StatusOK, entries)

	case http.MethodDelete:
		if err := h.log.Clear(r.Context()); err != nil {
			h.logger.Error("Failed to clear chat log", "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Failed to clear chat log")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodDelete)
	}
}
