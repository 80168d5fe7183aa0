package models

import (
	"time"

	"github.com/google/uuid"
)

// Team represents a competing team.
type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Evaluator represents a judge who scores submissions.
type Evaluator struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
