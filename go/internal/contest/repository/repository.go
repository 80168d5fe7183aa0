// Package repository is the store client for the progression entities:
// the event singleton, its phases, and their quests. Queries are written
// against Postgres; uniqueness and idempotence are enforced here, in the
// store layer, not in client logic.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/progression"
	"github.com/rvera/gauntlet/go/internal/sqlutil"
)

type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, name, started, ended, current_phase, evaluation_ends_at, ends_at, created_at, updated_at`

// GetEvent returns the singleton event row.
func (r *Repository) GetEvent(ctx context.Context) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events LIMIT 1`)
	return scanEvent(row)
}

// SetCurrentPhase moves the event pointer to the given phase and flags the
// event started.
func (r *Repository) SetCurrentPhase(ctx context.Context, eventID uuid.UUID, phaseNumber int) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE events
		SET current_phase = $2, started = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING `+eventColumns,
		eventID, phaseNumber)
	return scanEvent(row)
}

// EndEvent marks the event ended and stamps the evaluation-period and
// global end timestamps. Idempotent: ending an ended event changes nothing.
func (r *Repository) EndEvent(ctx context.Context, eventID uuid.UUID, evaluationEndsAt, endsAt time.Time) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE events
		SET ended = TRUE,
		    current_phase = 0,
		    evaluation_ends_at = COALESCE(evaluation_ends_at, $2),
		    ends_at = COALESCE(ends_at, $3),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+eventColumns,
		eventID, evaluationEndsAt.UTC(), endsAt.UTC())
	return scanEvent(row)
}

const phaseColumns = `id, event_id, number, name, total_mins, status, started_at, completed_at, created_at, updated_at`

// GetPhase returns a phase by id.
func (r *Repository) GetPhase(ctx context.Context, id uuid.UUID) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id = $1`, id)
	return scanPhase(row)
}

// GetPhaseByNumber returns the phase with the given ordinal.
func (r *Repository) GetPhaseByNumber(ctx context.Context, eventID uuid.UUID, number int) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE event_id = $1 AND number = $2`,
		eventID, number)
	return scanPhase(row)
}

// ListPhases returns all phases ordered by number.
func (r *Repository) ListPhases(ctx context.Context, eventID uuid.UUID) ([]models.Phase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE event_id = $1 ORDER BY number`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}
	defer rows.Close()

	var phases []models.Phase
	for rows.Next() {
		p, err := scanPhaseRows(rows)
		if err != nil {
			return nil, err
		}
		phases = append(phases, *p)
	}
	return phases, rows.Err()
}

// StartPhase flips a scheduled phase to IN_PROGRESS. The started_at stamp is
// written exactly once; re-running the statement against a started phase is
// a no-op that still returns the row.
func (r *Repository) StartPhase(ctx context.Context, phaseID uuid.UUID, startedAt time.Time) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE phases
		SET status = 'IN_PROGRESS',
		    started_at = COALESCE(started_at, $2),
		    updated_at = now()
		WHERE id = $1 AND status IN ('SCHEDULED', 'IN_PROGRESS')
		RETURNING `+phaseColumns,
		phaseID, startedAt.UTC())
	return scanPhase(row)
}

// CompletePhase flips a running phase to COMPLETED. Idempotent by the same
// conditional-update rule as StartPhase.
func (r *Repository) CompletePhase(ctx context.Context, phaseID uuid.UUID, completedAt time.Time) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE phases
		SET status = 'COMPLETED',
		    completed_at = COALESCE(completed_at, $2),
		    updated_at = now()
		WHERE id = $1 AND status IN ('IN_PROGRESS', 'COMPLETED')
		RETURNING `+phaseColumns,
		phaseID, completedAt.UTC())
	return scanPhase(row)
}

const questColumns = `id, phase_id, order_idx, name, kinds, max_points, deadline_mins, late_window_mins, late_penalty_pts, boss, status, started_at, closed_at, created_at, updated_at`

// GetQuest returns a quest by id.
func (r *Repository) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id = $1`, id)
	return scanQuest(row)
}

// ListQuestsByPhase returns the phase's quests ordered by their index.
func (r *Repository) ListQuestsByPhase(ctx context.Context, phaseID uuid.UUID) ([]models.Quest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+questColumns+` FROM quests WHERE phase_id = $1 ORDER BY order_idx`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quests: %w", err)
	}
	defer rows.Close()

	var quests []models.Quest
	for rows.Next() {
		q, err := scanQuestRows(rows)
		if err != nil {
			return nil, err
		}
		quests = append(quests, *q)
	}
	return quests, rows.Err()
}

// ActivateQuest flips a scheduled quest to ACTIVE. The WHERE clause only
// matches SCHEDULED rows and started_at is written through COALESCE, so a
// racing activation from another process sets the start stamp exactly once;
// the loser sees ErrNotFound and treats it as already done.
func (r *Repository) ActivateQuest(ctx context.Context, id uuid.UUID, startedAt time.Time) (*models.Quest, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE quests
		SET status = 'ACTIVE',
		    started_at = COALESCE(started_at, $2),
		    updated_at = now()
		WHERE id = $1 AND status = 'SCHEDULED'
		RETURNING `+questColumns,
		id, startedAt.UTC())
	return scanQuest(row)
}

// CloseQuest closes an active quest. Advancing an already-closed quest
// matches no rows and is reported as ErrNotFound, which callers treat as the
// idempotent no-op the progression rules require.
func (r *Repository) CloseQuest(ctx context.Context, id uuid.UUID, closedAt time.Time) (*models.Quest, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE quests
		SET status = 'CLOSED',
		    closed_at = COALESCE(closed_at, $2),
		    updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+questColumns,
		id, closedAt.UTC())
	return scanQuest(row)
}

// CompleteQuestsForPhase marks every closed quest of a completing phase as
// COMPLETED.
func (r *Repository) CompleteQuestsForPhase(ctx context.Context, phaseID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE quests
		SET status = 'COMPLETED', updated_at = now()
		WHERE phase_id = $1 AND status = 'CLOSED'`,
		phaseID)
	if err != nil {
		return fmt.Errorf("failed to complete quests for phase: %w", err)
	}
	return nil
}

// ActiveQuestForPhase returns the phase's single active quest, or
// ErrNotFound when none is active.
func (r *Repository) ActiveQuestForPhase(ctx context.Context, phaseID uuid.UUID) (*models.Quest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+questColumns+` FROM quests WHERE phase_id = $1 AND status = 'ACTIVE'`, phaseID)
	return scanQuest(row)
}

// NextDeadline is the soonest instant at which the scheduler must act.
type NextDeadline struct {
	QuestID  *uuid.UUID // set when an active quest owns the deadline
	PhaseID  *uuid.UUID // set when a phase budget owns it
	Deadline *time.Time
}

// FetchNextDeadline computes the scheduler's next wake-up: the final
// deadline of the active quest if one exists, otherwise the running phase's
// total budget end. Nil deadline means nothing is due and the scheduler
// idles.
func (r *Repository) FetchNextDeadline(ctx context.Context) (*NextDeadline, error) {
	event, err := r.GetEvent(ctx)
	if err != nil {
		return nil, err
	}
	if !event.Running() || event.CurrentPhase < 1 {
		return &NextDeadline{}, nil
	}

	phase, err := r.GetPhaseByNumber(ctx, event.ID, event.CurrentPhase)
	if err != nil {
		return nil, err
	}

	active, err := r.ActiveQuestForPhase(ctx, phase.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if active != nil {
		if active.StartedAt == nil || active.DeadlineMins == nil {
			// Active but untimed or unstamped: nothing to schedule.
			return &NextDeadline{QuestID: &active.ID}, nil
		}
		final := active.StartedAt.UTC().Add(time.Duration(active.TotalWindowMins()) * time.Minute)
		return &NextDeadline{QuestID: &active.ID, Deadline: &final}, nil
	}

	// No active quest: the phase budget, summed from its quests' windows,
	// decides when to advance the phase.
	quests, err := r.ListQuestsByPhase(ctx, phase.ID)
	if err != nil {
		return nil, err
	}
	if end := progression.PhaseBudgetEnd(phase, quests); end != nil {
		return &NextDeadline{PhaseID: &phase.ID, Deadline: end}, nil
	}
	return &NextDeadline{PhaseID: &phase.ID}, nil
}

func scanEvent(row *sql.Row) (*models.Event, error) {
	var e models.Event
	var evalEnds, endsAt sql.NullTime
	err := row.Scan(&e.ID, &e.Name, &e.Started, &e.Ended, &e.CurrentPhase,
		&evalEnds, &endsAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.EvaluationEndsAt = sqlutil.FromSqlTime(evalEnds)
	e.EndsAt = sqlutil.FromSqlTime(endsAt)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPhaseFrom(s rowScanner) (*models.Phase, error) {
	var p models.Phase
	var startedAt, completedAt sql.NullTime
	err := s.Scan(&p.ID, &p.EventID, &p.Number, &p.Name, &p.TotalMins, &p.Status,
		&startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan phase: %w", err)
	}
	p.StartedAt = sqlutil.FromSqlTime(startedAt)
	p.CompletedAt = sqlutil.FromSqlTime(completedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func scanPhase(row *sql.Row) (*models.Phase, error) { return scanPhaseFrom(row) }
func scanPhaseRows(rows *sql.Rows) (*models.Phase, error) { return scanPhaseFrom(rows) }

func scanQuestFrom(s rowScanner) (*models.Quest, error) {
	var q models.Quest
	var kinds pq.StringArray
	var deadlineMins sql.NullInt32
	var startedAt, closedAt sql.NullTime
	err := s.Scan(&q.ID, &q.PhaseID, &q.OrderIdx, &q.Name, &kinds, &q.MaxPoints,
		&deadlineMins, &q.LateWindowMins, &q.LatePenaltyPts, &q.Boss, &q.Status,
		&startedAt, &closedAt, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan quest: %w", err)
	}
	q.Kinds = make([]models.DeliverableKind, len(kinds))
	for i, k := range kinds {
		q.Kinds[i] = models.DeliverableKind(k)
	}
	q.DeadlineMins = sqlutil.FromSqlInt32(deadlineMins)
	q.StartedAt = sqlutil.FromSqlTime(startedAt)
	q.ClosedAt = sqlutil.FromSqlTime(closedAt)
	q.CreatedAt = q.CreatedAt.UTC()
	q.UpdatedAt = q.UpdatedAt.UTC()
	return &q, nil
}

func scanQuest(row *sql.Row) (*models.Quest, error) { return scanQuestFrom(row) }
func scanQuestRows(rows *sql.Rows) (*models.Quest, error) { return scanQuestFrom(rows) }
