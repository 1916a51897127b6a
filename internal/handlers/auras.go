package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

// AuraRegistry is the aura surface of the engine.
type AuraRegistry interface {
	AssignAura(ctx context.Context, entityID, corpusID string, rng float64) (dialogue.AuraBinding, error)
	RemoveAura(ctx context.Context, entityID string) error
	UpdateAuraRange(ctx context.Context, entityID string, rng float64) (dialogue.AuraBinding, error)
	SetAuraEnabled(ctx context.Context, entityID string, enabled bool) (dialogue.AuraBinding, error)
	Aura(entityID string) (dialogue.AuraBinding, bool)
	Auras() []dialogue.AuraBinding
}

// AssignAuraRequest binds a corpus to an entity. A zero range takes the
// world default.
type AssignAuraRequest struct {
	CorpusID string  `json:"corpus_id"`
	Range    float64 `json:"range,omitempty"`
}

// UpdateAuraRequest changes an existing binding. Absent fields are kept.
type UpdateAuraRequest struct {
	Range   *float64 `json:"range,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

type AuraHandler struct {
	auras  AuraRegistry
	logger *slog.Logger
}

func NewAuraHandler(auras AuraRegistry, logger *slog.Logger) *AuraHandler {
	return &AuraHandler{
		auras:  auras,
		logger: logger,
	}
}

// ServeHTTP handles aura operations
// Routes:
// GET /v1/auras               - List auras
// GET /v1/auras/{entityID}    - Read one aura
// PUT /v1/auras/{entityID}    - Assign (or replace) an aura
// PATCH /v1/auras/{entityID}  - Change range or enabled
// DELETE /v1/auras/{entityID} - Remove an aura
func (h *AuraHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entityID, ok := pathID(r.URL.Path, "/v1/auras")
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/auras/{entityID}")
		return
	}

	if entityID == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, r, http.MethodGet)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, h.auras.Auras())
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, ok := h.auras.Aura(entityID)
		if !ok {
			writeError(w, h.logger, http.StatusNotFound, "No aura on entity "+entityID)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, b)

	case http.MethodPut:
		var req AssignAuraRequest
		if err := decodeBody(r, &req); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		if req.CorpusID == "" {
			writeError(w, h.logger, http.StatusBadRequest, "corpus_id field is required")
			return
		}
		b, err := h.auras.AssignAura(r.Context(), entityID, req.CorpusID, req.Range)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, b)

	case http.MethodPatch:
		var req UpdateAuraRequest
		if err := decodeBody(r, &req); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		if req.Range == nil && req.Enabled == nil {
			writeError(w, h.logger, http.StatusBadRequest, "range or enabled is required")
			return
		}
		b, ok := h.auras.Aura(entityID)
		if !ok {
			writeError(w, h.logger, http.StatusNotFound, "No aura on entity "+entityID)
			return
		}
		var err error
		if req.Range != nil {
			if b, err = h.auras.UpdateAuraRange(r.Context(), entityID, *req.Range); err != nil {
				writeEngineError(w, h.logger, err)
				return
			}
		}
		if req.Enabled != nil {
			if b, err = h.auras.SetAuraEnabled(r.Context(), entityID, *req.Enabled); err != nil {
				writeEngineError(w, h.logger, err)
				return
			}
		}
		writeJSON(w, h.logger, http.StatusOK, b)

	case http.MethodDelete:
		if err := h.auras.RemoveAura(r.Context(), entityID); err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
