package dialogue

import (
	"errors"
	"fmt"
)

// Error categories. Callers wrap these with fmt.Errorf("...: %w") and test
// with errors.Is.
var (
	// ErrValidation marks malformed aura or group configuration. It is
	// returned synchronously and nothing is stored.
	ErrValidation = errors.New("validation error")

	// ErrReference marks an entity or corpus that no longer exists at
	// evaluation time.
	ErrReference = errors.New("reference error")

	// ErrPersistence marks a failed durable write. In-memory state is not
	// rolled back.
	ErrPersistence = errors.New("persistence error")

	// ErrDispatch marks a failed presentation, log append or broadcast.
	ErrDispatch = errors.New("dispatch error")

	// ErrNotFound is returned by CRUD operations on unknown auras or groups.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
