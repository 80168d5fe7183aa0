package models

import (
	"time"

	"github.com/google/uuid"
)

// PenaltyType classifies why points were deducted (or granted, for coin
// adjustments carrying a negative deduction).
type PenaltyType string

const (
	PenaltyTypeLateSubmission PenaltyType = "LATE_SUBMISSION"
	PenaltyTypeRuleViolation  PenaltyType = "RULE_VIOLATION"
	PenaltyTypeCoinAdjustment PenaltyType = "COIN_ADJUSTMENT"
)

// Penalty is an additive, immutable deduction against a team's running
// total. Rows are only ever appended.
type Penalty struct {
	ID        uuid.UUID   `json:"id"`
	TeamID    uuid.UUID   `json:"team_id"`
	Type      PenaltyType `json:"type"`
	Points    int         `json:"points"` // deducted from the running total; negative = bonus
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

// TeamStanding is a derived ranking row. Running totals are computed on
// read from evaluated submissions and penalties, never maintained as a
// counter.
type TeamStanding struct {
	TeamID      uuid.UUID `json:"team_id"`
	TeamName    string    `json:"team_name"`
	TotalPoints int       `json:"total_points"`
	Rank        int       `json:"rank"`
}
