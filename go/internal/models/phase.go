package models

import (
	"time"

	"github.com/google/uuid"
)

// PhaseStatus defines the lifecycle state of a phase.
type PhaseStatus string

const (
	PhaseStatusScheduled  PhaseStatus = "SCHEDULED"
	PhaseStatusInProgress PhaseStatus = "IN_PROGRESS"
	PhaseStatusCompleted  PhaseStatus = "COMPLETED"
)

// Phase is one ordered stage of the event. Phase numbers start at 1;
// phase 0 is the preparation pseudo-phase and never has a row.
type Phase struct {
	ID          uuid.UUID   `json:"id"`
	EventID     uuid.UUID   `json:"event_id"`
	Number      int         `json:"number"`
	Name        string      `json:"name"`
	TotalMins   int         `json:"total_mins"`
	Status      PhaseStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
