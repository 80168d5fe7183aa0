package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to sweep for missed events
	PingInterval     time.Duration
	BatchSize        int32 // Max events to fetch per batch
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Listener relays committed outbox rows to the bus. LISTEN/NOTIFY is the
// fast path; the fallback ticker guarantees rows committed while the
// listener was down still go out.
type Listener struct {
	db        *sql.DB
	repo      *Repository
	listener  *pq.Listener
	publisher EventPublisher
	metrics   MetricsCollector
	cfg       ListenerConfig
}

func NewListener(dbConn *sql.DB, publisher EventPublisher, metrics MetricsCollector, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Listener{
		db:        dbConn,
		repo:      NewRepository(dbConn),
		listener:  l,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Sweep whatever accumulated while we were down.
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means channel connection was lost so reconnect
				continue
			}
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// processUnsent publishes every undelivered row and stamps the successes.
// Publish failures leave the row unsent; the next notification or sweep
// retries it.
func (l *Listener) processUnsent(ctx context.Context) error {
	start := time.Now()
	events, err := l.repo.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var sent []uuid.UUID
	for _, ev := range events {
		pubStart := time.Now()
		err := l.publisher.Publish(ctx, ev)
		l.metrics.RecordEventProcessed(ev.EventType, err == nil, time.Since(pubStart))
		if err != nil {
			log.Error().
				Err(err).
				Str("event_id", ev.ID.String()).
				Str("event_type", ev.EventType).
				Msg("failed to publish outbox event")
			continue
		}
		sent = append(sent, ev.ID)
	}

	if err := l.repo.MarkSent(ctx, sent, time.Now().UTC()); err != nil {
		return err
	}
	l.metrics.RecordBatchProcessed(len(sent), time.Since(start))

	if pending, err := l.repo.CountPending(ctx); err == nil {
		l.metrics.RecordOutboxLag(pending)
	}
	return nil
}
