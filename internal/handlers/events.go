package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/conversation-engine/internal/services/events"
)

// Subscriber streams scene events, starting with the mirrored utterance.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(events.Event)) error
}

// EventsHandler handles Server-Sent Events (SSE) for observers
type EventsHandler struct {
	subscriber Subscriber
	sceneID    string
	keepalive  time.Duration
	logger     *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(subscriber Subscriber, sceneID string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		subscriber: subscriber,
		sceneID:    sceneID,
		keepalive:  30 * time.Second,
		logger:     logger,
	}
}

// ServeHTTP handles SSE requests for scene events
// GET /v1/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, h.logger, r, http.MethodGet)
		return
	}

	h.logger.Info("SSE connection established",
		"scene_id", h.sceneID,
		"remote_addr", r.RemoteAddr)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgChan := make(chan events.Event, 16)
	subErr := make(chan error, 1)
	go func() {
		subErr <- h.subscriber.Subscribe(ctx, func(e events.Event) {
			select {
			case msgChan <- e:
			case <-ctx.Done():
			}
		})
	}()

	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, "connected", map[string]interface{}{
		"scene_id": h.sceneID,
		"message":  "Connected to event stream",
	})

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", "scene_id", h.sceneID)
			return

		case err := <-subErr:
			if err != nil {
				h.logger.Error("Event subscription failed", "error", err)
				h.sendSSE(w, "error", map[string]interface{}{"message": err.Error()})
			}
			return

		case event := <-msgChan:
			h.sendSSE(w, string(event.Type), event)

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

// sendSSE sends a Server-Sent Event to the client
func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		h.logger.Error("Failed to write event type", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", string(dataJSON)); err != nil {
		h.logger.Error("Failed to write event data", "error", err)
		return
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
