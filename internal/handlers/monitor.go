package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/internal/engine"
)

// Monitor is the lifecycle surface of the engine.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Status(ctx context.Context) engine.Status
	SetGlobalPause(ctx context.Context, paused bool) error
	LoadFromScene(ctx context.Context) (int, error)
}

type MonitorHandler struct {
	monitor Monitor
	logger  *slog.Logger
}

func NewMonitorHandler(monitor Monitor, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		logger:  logger,
	}
}

type ReloadResponse struct {
	Auras int `json:"auras"`
}

// ServeHTTP handles the dialogue monitor
// Routes:
// GET /v1/monitor          - Status
// POST /v1/monitor/start   - Start polling
// POST /v1/monitor/stop    - Stop polling
// POST /v1/monitor/pause   - Set global pause
// POST /v1/monitor/resume  - Clear global pause
// POST /v1/monitor/reload  - Rebuild the aura index from the scene
func (h *MonitorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action, ok := pathID(r.URL.Path, "/v1/monitor")
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "Invalid path. Expected /v1/monitor/{action}")
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, h.logger, r, http.MethodGet)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, h.monitor.Status(r.Context()))
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, h.logger, r, http.MethodPost)
		return
	}

	ctx := r.Context()
	switch action {
	case "start":
		if err := h.monitor.Start(ctx); err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
	case "stop":
		h.monitor.Stop()
	case "pause", "resume":
		if err := h.monitor.SetGlobalPause(ctx, action == "pause"); err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
	case "reload":
		n, err := h.monitor.LoadFromScene(ctx)
		if err != nil {
			writeEngineError(w, h.logger, err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, ReloadResponse{Auras: n})
		return
	default:
		writeError(w, h.logger, http.StatusNotFound, "Unknown monitor action: "+action)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.monitor.Status(ctx))
}
