// Package outbox implements the transactional outbox feeding the change
// bus: commands insert event rows in the same transaction as their writes,
// and the listener relays unsent rows to NATS. Push delivery comes from
// Postgres LISTEN/NOTIFY; a fallback poll sweeps anything a notification
// missed, so delivery is eventually guaranteed even across listener
// restarts.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one pending or delivered domain event row.
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	EntityID  uuid.UUID       `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// EventPublisher delivers an outbox event to the change bus.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// Envelope is the wire format published to the bus and consumed by the
// gateway.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	EntityID  string          `json:"entityId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
