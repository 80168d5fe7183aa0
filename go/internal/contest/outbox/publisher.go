package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// SubjectPrefix is the bus namespace for domain events. Full subjects are
// "<prefix>.<EventType>", e.g. "gauntlet.events.QuestActivated".
const SubjectPrefix = "gauntlet.events"

// StreamName is the JetStream stream that carries all domain events.
const StreamName = "GAUNTLET_EVENTS"

// NATSPublisher publishes outbox events to a JetStream stream.
type NATSPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewNATSPublisher(nc *nats.Conn) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &NATSPublisher{nc: nc, js: js}, nil
}

// EnsureStream creates the event stream if it does not exist yet.
func (p *NATSPublisher) EnsureStream(ctx context.Context, name string) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{SubjectPrefix + ".>"},
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	subject := fmt.Sprintf("%s.%s", SubjectPrefix, event.EventType)

	envelope := Envelope{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		EntityID:  event.EntityID.String(),
		Timestamp: event.CreatedAt,
		Payload:   event.Payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// MockPublisher logs events instead of delivering them, for development
// and tests.
type MockPublisher struct{}

func (MockPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("entity_id", event.EntityID.String()).
		Msg("publishing event")
	return nil
}
