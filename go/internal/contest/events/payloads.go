package events

import (
	"time"
)

// Event payload types that are shared between the contest, outbox and
// gateway packages

// Event type names as they appear in outbox rows and bus subjects.
const (
	TypePhaseStarted       = "PhaseStarted"
	TypePhaseCompleted     = "PhaseCompleted"
	TypeQuestActivated     = "QuestActivated"
	TypeQuestClosed        = "QuestClosed"
	TypeSubmissionReceived = "SubmissionReceived"
	TypeEvaluationRecorded = "EvaluationRecorded"
	TypePenaltyAssigned    = "PenaltyAssigned"
	TypeEventEnded         = "EventEnded"
)

// PhaseStartedPayload is the payload for a PhaseStarted event
type PhaseStartedPayload struct {
	PhaseID     string    `json:"phase_id"`
	PhaseNumber int       `json:"phase_number"`
	PhaseName   string    `json:"phase_name"`
	StartedAt   time.Time `json:"started_at"`
	TotalMins   int       `json:"total_mins"`
}

// PhaseCompletedPayload is the payload for a PhaseCompleted event
type PhaseCompletedPayload struct {
	PhaseID     string    `json:"phase_id"`
	PhaseNumber int       `json:"phase_number"`
	CompletedAt time.Time `json:"completed_at"`
}

// QuestActivatedPayload is the payload for a QuestActivated event
type QuestActivatedPayload struct {
	QuestID        string    `json:"quest_id"`
	PhaseID        string    `json:"phase_id"`
	QuestName      string    `json:"quest_name"`
	OrderIdx       int       `json:"order_idx"`
	StartedAt      time.Time `json:"started_at"`
	DeadlineAt     *time.Time `json:"deadline_at,omitempty"`
	FinalDeadlineAt *time.Time `json:"final_deadline_at,omitempty"`
}

// QuestClosedPayload is the payload for a QuestClosed event
type QuestClosedPayload struct {
	QuestID  string    `json:"quest_id"`
	PhaseID  string    `json:"phase_id"`
	ClosedAt time.Time `json:"closed_at"`
	Forced   bool      `json:"forced"` // defensive clamp fired
}

// SubmissionReceivedPayload is the payload for a SubmissionReceived event
type SubmissionReceivedPayload struct {
	SubmissionID string    `json:"submission_id"`
	TeamID       string    `json:"team_id"`
	QuestID      string    `json:"quest_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	IsLate       bool      `json:"is_late"`
}

// EvaluationRecordedPayload is the payload for an EvaluationRecorded event
type EvaluationRecordedPayload struct {
	SubmissionID string `json:"submission_id"`
	EvaluatorID  string `json:"evaluator_id"`
	Points       int    `json:"points"`
	FinalPoints  int    `json:"final_points"`
}

// PenaltyAssignedPayload is the payload for a PenaltyAssigned event
type PenaltyAssignedPayload struct {
	PenaltyID string `json:"penalty_id"`
	TeamID    string `json:"team_id"`
	Type      string `json:"type"`
	Points    int    `json:"points"`
	Reason    string `json:"reason"`
}

// EventEndedPayload is the payload for an EventEnded event
type EventEndedPayload struct {
	EventID          string    `json:"event_id"`
	EndedAt          time.Time `json:"ended_at"`
	EvaluationEndsAt time.Time `json:"evaluation_ends_at"`
	EndsAt           time.Time `json:"ends_at"`
}
