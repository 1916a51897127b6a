package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

// GroupRegistry is the conversation group surface of the engine.
type GroupRegistry interface {
	CreateGroup(ctx context.Context, cfg dialogue.GroupConfig) (string, error)
	DeleteGroup(ctx context.Context, id string) error
	ReplaceGroup(ctx context.Context, id string, cfg dialogue.GroupConfig) (dialogue.GroupSummary, error)
	SetGroupEnabled(ctx context.Context, id string, enabled bool) (dialogue.GroupSummary, error)
	ListGroups() []dialogue.GroupSummary
	Group(id string) (dialogue.GroupSummary, bool)
	GroupsForMember(entityID string) []dialogue.GroupSummary
	Stats() engine.GroupStats
}

// CreateGroupResponse carries the new ID. Error is set when the group was
// registered but could not be persisted.
type CreateGroupResponse struct {
	ID    string                 `json:"id"`
	Group *dialogue.GroupSummary `json:"group,omitempty"`
	Error string                 `json:"error,omitempty"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type GroupHandler struct {
	groups GroupRegistry
	logger *slog.Logger
}

func NewGroupHandler(groups GroupRegistry, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		groups: groups,
		logger: logger,
	}
}

// ServeHTTP handles conversation group operations
// Routes:
// GET /v1/groups[?member=id] - List groups, optionally those containing a member
// POST /v1/groups            - Create a group
// GET /v1/groups/stats       - Group counts by state and mode
// GET /v1/groups/{id}        - Read one group
// PUT /v1/groups/{id}        - Replace a group's configuration
// PATCH /v1/groups/{id}      - Enable or disable
// DELETE /v1/groups/{id}     - Delete a group
func (h *GroupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r.URL.Path, "/v1/groups")
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/groups/{id}")
		return
	}

	switch {
	case id == "":
		h.handleCollection(w, r)
	case id == "stats" && r.Method == http.MethodGet:
		writeJSON(w, h.logger, http.StatusOK, h.groups.Stats())
	default:
		h.handleItem(w, r, id)
	}
}

func (h *GroupHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var groups []dialogue.GroupSummary
		if member := r.URL.Query().Get("member"); member != "" {
			groups = h.groups.GroupsForMember(member)
		} else {
			groups = h.groups.ListGroups()
		}
		if groups == nil {
			groups = []dialogue.GroupSummary{}
		}
		writeJSON(w, h.logger, http.StatusOK, groups)

	case http.MethodPost:
		var cfg dialogue.GroupConfig
		if err := decodeBody(r, &cfg); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		id, err := h.groups.CreateGroup(r.Context(), cfg)
		if err != nil && id == "" {
			writeEngineError(w, h.logger, err)
			return
		}
		resp := CreateGroupResponse{ID: id}
		if g, ok := h.groups.Group(id); ok {
			resp.Group = &g
		}
		if err != nil {
			h.logger.Error("Group created but not persisted", "group_id", id, "error", err)
			resp.Error = err.Error()
			writeJSON(w, h.logger, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, h.logger, http.StatusCreated, resp)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPost)
	}
}

func (h *GroupHandler) handleItem(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := dialogue.ParseGroupID(rawID)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		g, ok := h.groups.Group(id)
		if !ok {
			writeError(w, h.logger, http.StatusNotFound, "Conversation group not found: "+id)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, g)

	case http.MethodPut:
		var cfg dialogue.GroupConfig
		if err := decodeBody(r, &cfg); err != nil {
			h.logger.Warn("Invalid JSON in request body", "error", err)
			writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
		g, err := h.groups.ReplaceGroup(r.Context(), id, cfg)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, g)

	case http.MethodPatch:
		var req SetEnabledRequest
		if err := decodeBody(r, &req); err != nil || req.Enabled == nil {
			writeError(w, h.logger, http.StatusBadRequest, "enabled field is required")
			return
		}
		g, err := h.groups.SetGroupEnabled(r.Context(), id, *req.Enabled)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, g)

	case http.MethodDelete:
		if err := h.groups.DeleteGroup(r.Context(), id); err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, h.logger, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}
