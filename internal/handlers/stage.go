package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
)

// ActivePresentations lists the floating text currently on screen.
type ActivePresentations interface {
	Active() []dispatch.Presentation
}

type StageHandler struct {
	stage  ActivePresentations
	logger *slog.Logger
}

func NewStageHandler(stage ActivePresentations, logger *slog.Logger) *StageHandler {
	return &StageHandler{
		stage:  stage,
		logger: logger,
	}
}

// ServeHTTP handles GET /v1/stage
func (h *StageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, r, http.MethodGet)
		return
	}
	active := h.stage.Active()
	if active == nil {
		active = []dispatch.Presentation{}
	}
	writeJSON(w, h.logger, http.StatusOK, active)
}
