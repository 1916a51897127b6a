package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

// SceneDirectory is the mutable entity directory.
type SceneDirectory interface {
	scene.Directory
	Upsert(e scene.Entity) error
	Move(id string, pos scene.Position) error
	Remove(id string) bool
}

// EntityForgetter drops per-entity engine state once an entity is removed.
type EntityForgetter interface {
	ForgetEntity(ctx context.Context, entityID string) error
}

type SceneHandler struct {
	scene  SceneDirectory
	engine EntityForgetter
	logger *slog.Logger
}

func NewSceneHandler(dir SceneDirectory, engine EntityForgetter, logger *slog.Logger) *SceneHandler {
	return &SceneHandler{
		scene:  dir,
		engine: engine,
		logger: logger,
	}
}

// ServeHTTP handles scene entities
// Routes:
// GET /v1/scene/entities[?observers=true] - List entities
// GET /v1/scene/entities/{id}             - Read one entity
// PUT /v1/scene/entities/{id}             - Place or replace an entity
// PATCH /v1/scene/entities/{id}           - Move an entity, body is a position
// DELETE /v1/scene/entities/{id}          - Remove an entity
func (h *SceneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r.URL.Path, "/v1/scene/entities")
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/scene/entities/{id}")
		return
	}

	if id == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, r, http.MethodGet)
			return
		}
		entities := h.scene.Entities()
		if r.URL.Query().Get("observers") == "true" {
			entities = h.scene.Observers()
		}
		if entities == nil {
			entities = []scene.Entity{}
		}
		writeJSON(w, h.logger, http.StatusOK, entities)
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, ok := h.scene.Get(id)
		if !ok {
			writeError(w, h.logger, http.StatusNotFound, "Entity not found: "+id)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, e)

	case http.MethodPut:
		var e scene.Entity
		if err := decodeBody(r, &e); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		e.ID = id
		if err := h.scene.Upsert(e); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, err.Error())
			return
		}
		e, _ = h.scene.Get(id)
		h.logger.Debug("Entity placed", "entity_id", id, "observer", e.Observer)
		writeJSON(w, h.logger, http.StatusOK, e)

	case http.MethodPatch:
		var pos scene.Position
		if err := decodeBody(r, &pos); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		if err := h.scene.Move(id, pos); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, scene.ErrEntityNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, h.logger, status, err.Error())
			return
		}
		e, _ := h.scene.Get(id)
		writeJSON(w, h.logger, http.StatusOK, e)

	case http.MethodDelete:
		if !h.scene.Remove(id) {
			writeError(w, h.logger, http.StatusNotFound, "Entity not found: "+id)
			return
		}
		if err := h.engine.ForgetEntity(r.Context(), id); err != nil {
			// the next tick retries for enabled auras
			h.logger.Error("Failed to clear aura of removed entity", "entity_id", id, "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "Entity removed but its aura was not cleared")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
