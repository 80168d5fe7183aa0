package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/rvera/gauntlet/go/internal/sqlutil"
)

// NotifyChannel is the Postgres channel the listener subscribes to.
const NotifyChannel = "gauntlet_outbox_events"

type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// Insert appends an outbox row and notifies the listener in the same
// transaction, so the notification fires only if the surrounding command
// commits.
func (r *Repository) Insert(ctx context.Context, eventType string, entityID uuid.UUID, payload []byte) error {
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, event_type, entity_id, payload)
		VALUES ($1, $2, $3, $4)`,
		id, eventType, entityID, payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	if _, err := r.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, id.String()); err != nil {
		return fmt.Errorf("failed to notify outbox channel: %w", err)
	}
	return nil
}

// FetchUnsent returns up to limit undelivered rows, oldest first.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, entity_id, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var payload pqtype.NullRawMessage
		var sentAt pq.NullTime
		if err := rows.Scan(&e.ID, &e.EventType, &e.EntityID, &payload, &e.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if payload.Valid {
			e.Payload = payload.RawMessage
		}
		if sentAt.Valid {
			t := sentAt.Time.UTC()
			e.SentAt = &t
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSent stamps delivered rows.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET sent_at = $2 WHERE id = ANY($1)`,
		pq.Array(strIDs), sentAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}

// CountPending returns the undelivered backlog size.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE sent_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return count, nil
}
