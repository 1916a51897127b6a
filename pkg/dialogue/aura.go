package dialogue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// AuraFlagKey is the per-entity durable flag an aura binding is stored under.
const AuraFlagKey = "dialogue-aura"

// AuraBinding attaches a dialogue corpus to a single entity. The entity speaks
// a random line from the corpus whenever an observer comes within Range.
type AuraBinding struct {
	EntityID        string    `json:"entity_id"`
	CorpusID        string    `json:"corpus_id"`
	CorpusName      string    `json:"corpus_name"` // denormalized for display
	Range           float64   `json:"range"`       // scene distance units
	Enabled         bool      `json:"enabled"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
}

// ValidateRange checks that r is a usable trigger range no larger than max.
// A max of zero disables the upper bound.
func ValidateRange(r, max float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return invalid("range", "must be a finite number")
	}
	if r <= 0 {
		return invalid("range", "must be positive, got %g", r)
	}
	if max > 0 && r > max {
		return invalid("range", "must be at most %g, got %g", max, r)
	}
	return nil
}

// MarshalFlag encodes the binding for durable per-entity storage.
func (b AuraBinding) MarshalFlag() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aura binding: %w", err)
	}
	return data, nil
}

// UnmarshalAuraFlag decodes a binding written by MarshalFlag. The entity ID is
// taken from the storage key rather than the payload.
func UnmarshalAuraFlag(entityID string, data []byte) (AuraBinding, error) {
	var b AuraBinding
	if err := json.Unmarshal(data, &b); err != nil {
		return AuraBinding{}, fmt.Errorf("failed to unmarshal aura binding for %s: %w", entityID, err)
	}
	b.EntityID = entityID
	return b, nil
}
