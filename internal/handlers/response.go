package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/conversation-engine/pkg/dialogue"
)

type ErrorResponse struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError is one rejected configuration field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg string) {
	writeJSON(w, logger, status, ErrorResponse{Error: msg})
}

// writeEngineError maps the dialogue error categories onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Debug("Request rejected", "status", status, "error", err)
	}
	writeJSON(w, logger, status, ErrorResponse{Error: err.Error(), Fields: validationFields(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dialogue.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, dialogue.ErrNotFound), errors.Is(err, dialogue.ErrReference):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// validationFields flattens every ValidationError in a joined error tree.
func validationFields(err error) []FieldError {
	var out []FieldError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if v, ok := e.(*dialogue.ValidationError); ok {
			out = append(out, FieldError{Field: v.Field, Reason: v.Reason})
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathID returns the single path segment after prefix, or "" for the
// collection itself. ok is false for deeper paths.
func pathID(path, prefix string) (id string, ok bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", true
	}
	if strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func methodNotAllowed(w http.ResponseWriter, logger *slog.Logger, r *http.Request, allowed ...string) {
	logger.Warn("Method not allowed", "method", r.Method, "path", r.URL.Path)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, logger, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: "+strings.Join(allowed, ", "))
}
