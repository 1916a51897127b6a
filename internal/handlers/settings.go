package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/internal/settings"
)

// SettingsStore reads and patches world settings.
type SettingsStore interface {
	Load(ctx context.Context) (settings.Snapshot, error)
	Update(ctx context.Context, p settings.Patch) (settings.Snapshot, error)
}

// Pauser toggles the global pause and tells observers about it.
type Pauser interface {
	SetGlobalPause(ctx context.Context, paused bool) error
}

type SettingsHandler struct {
	settings SettingsStore
	pauser   Pauser
	logger   *slog.Logger
}

func NewSettingsHandler(store SettingsStore, pauser Pauser, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: store,
		pauser:   pauser,
		logger:   logger,
	}
}

// ServeHTTP handles world settings
// Routes:
// GET /v1/settings       - Current settings
// PUT|PATCH /v1/settings - Partial update; absent fields are unchanged
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap, err := h.settings.Load(r.Context())
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, snap)

	case http.MethodPut, http.MethodPatch:
		var patch settings.Patch
		if err := decodeBody(r, &patch); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}

		// the pause goes through the engine so observers hear about it
		pause := patch.GlobalPause
		patch.GlobalPause = nil

		snap, err := h.settings.Update(r.Context(), patch)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		if pause != nil {
			if err := h.pauser.SetGlobalPause(r.Context(), *pause); err != nil {
				writeEngineError(w, h.logger, err)
				return
			}
			snap.GlobalPause = *pause
		}
		h.logger.Info("World settings updated")
		writeJSON(w, h.logger, http.StatusOK, snap)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPut, http.MethodPatch)
	}
}
