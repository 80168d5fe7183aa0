package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the singleton row describing the running competition.
type Event struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	Started          bool        `json:"started"`
	Ended            bool        `json:"ended"`
	CurrentPhase     int         `json:"current_phase"`
	PhaseStartedAt   []time.Time `json:"phase_started_at"` // ordered by phase number; zero time if not started
	EvaluationEndsAt *time.Time  `json:"evaluation_ends_at,omitempty"`
	EndsAt           *time.Time  `json:"ends_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Running reports whether the event has started and not yet ended.
func (e *Event) Running() bool {
	return e.Started && !e.Ended
}
