package models

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus defines the evaluation state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusPending   SubmissionStatus = "PENDING"
	SubmissionStatusEvaluated SubmissionStatus = "EVALUATED"
)

// Submission is a team's deliverable for a quest. At most one submission
// exists per (team, quest) pair, enforced by a unique constraint in the
// store rather than client logic.
type Submission struct {
	ID                 uuid.UUID        `json:"id"`
	TeamID             uuid.UUID        `json:"team_id"`
	QuestID            uuid.UUID        `json:"quest_id"`
	Kind               DeliverableKind  `json:"kind"`
	PayloadRef         string           `json:"payload_ref"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	Status             SubmissionStatus `json:"status"`
	IsLate             bool             `json:"is_late"`
	LatePenaltyApplied int              `json:"late_penalty_applied"`
	FinalPoints        *int             `json:"final_points,omitempty"` // nil until first evaluation lands
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Evaluation is a single evaluator's score for a submission. One evaluation
// per (submission, evaluator); resubmission updates in place.
type Evaluation struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	EvaluatorID  uuid.UUID `json:"evaluator_id"`
	BasePoints   int       `json:"base_points"`
	Multiplier   float64   `json:"multiplier"`
	Points       int       `json:"points"` // computed, see scoring
	Comments     string    `json:"comments"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
