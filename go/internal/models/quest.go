package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestStatus defines the lifecycle state of a quest.
type QuestStatus string

const (
	QuestStatusScheduled QuestStatus = "SCHEDULED"
	QuestStatusActive    QuestStatus = "ACTIVE"
	QuestStatusClosed    QuestStatus = "CLOSED"
	QuestStatusCompleted QuestStatus = "COMPLETED"
)

// Quest is a timed deliverable assignment within a phase. At most one quest
// per phase is ACTIVE at any instant; activation requires the phase to be
// IN_PROGRESS.
type Quest struct {
	ID             uuid.UUID         `json:"id"`
	PhaseID        uuid.UUID         `json:"phase_id"`
	OrderIdx       int               `json:"order_idx"`
	Name           string            `json:"name"`
	Kinds          []DeliverableKind `json:"kinds"`
	MaxPoints      int               `json:"max_points"`
	DeadlineMins   *int              `json:"deadline_mins,omitempty"` // nil = untimed
	LateWindowMins int               `json:"late_window_mins"`
	LatePenaltyPts int               `json:"late_penalty_pts"`
	Boss           bool              `json:"boss"` // live-presentation variant, scored without multiplier
	Status         QuestStatus       `json:"status"`
	StartedAt      *time.Time        `json:"started_at,omitempty"` // nil until activated
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TotalWindowMins is the quest's full time budget: planned deadline plus the
// late-submission grace window. Zero for untimed quests.
func (q *Quest) TotalWindowMins() int {
	if q.DeadlineMins == nil {
		return 0
	}
	return *q.DeadlineMins + q.LateWindowMins
}
