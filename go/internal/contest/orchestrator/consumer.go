package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/contest/outbox"
)

const (
	consumerName          = "gauntlet-orchestrator"
	consumerMaxDeliver    = 5
	consumerAckWait       = 30 * time.Second
	consumerMaxAckPending = 100
	natsMaxReconnects     = -1 // Infinite reconnects
	natsReconnectWait     = 2 * time.Second
)

// EventConsumer subscribes the orchestrator to the domain event stream.
type EventConsumer struct {
	nc           *nats.Conn
	js           jetstream.JetStream
	consumer     jetstream.Consumer
	orchestrator *Orchestrator
}

// NewEventConsumer connects to NATS and binds a durable JetStream consumer
// for the orchestrator.
func NewEventConsumer(ctx context.Context, natsURL string, orch *Orchestrator) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	ec := &EventConsumer{
		nc:           nc,
		js:           js,
		orchestrator: orch,
	}
	if err := ec.ensureConsumer(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return ec, nil
}

// ensureConsumer creates or gets the durable JetStream consumer
func (ec *EventConsumer) ensureConsumer(ctx context.Context) error {
	stream, err := ec.js.Stream(ctx, outbox.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		Description:   "Auto-advance orchestrator event consumer",
		FilterSubject: outbox.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    consumerMaxDeliver,
		AckWait:       consumerAckWait,
		MaxAckPending: consumerMaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	// Try to get existing consumer
	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().Msg("created JetStream consumer for orchestrator")
	} else {
		log.Info().Msg("using existing JetStream consumer for orchestrator")
	}

	ec.consumer = consumer
	return nil
}

// Start consumes bus events until the context is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	consumeCtx, err := ec.consumer.Consume(func(msg jetstream.Msg) {
		if err := ec.processEvent(ctx, msg); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

// processEvent unwraps one bus envelope and hands it to the orchestrator
func (ec *EventConsumer) processEvent(ctx context.Context, msg jetstream.Msg) error {
	var envelope outbox.Envelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	entityID, err := uuid.Parse(envelope.EntityID)
	if err != nil {
		return fmt.Errorf("parse entity ID: %w", err)
	}

	log.Debug().
		Str("subject", msg.Subject()).
		Str("event_type", envelope.EventType).
		Str("entity_id", envelope.EntityID).
		Msg("processing orchestrator event")

	return ec.orchestrator.HandleDomainEvent(ctx, envelope.EventType, entityID, envelope.Payload)
}

// Close tears down the NATS connection.
func (ec *EventConsumer) Close() error {
	if ec.nc != nil {
		ec.nc.Close()
	}
	return nil
}
