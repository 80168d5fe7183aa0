// Package submissions owns the scoring side of the store: submissions,
// evaluations, penalties, and the derived standings. The per-pair
// uniqueness invariants (one submission per team/quest, one evaluation per
// submission/evaluator) live in the database schema; this layer translates
// the resulting conflicts into the domain error taxonomy.
package submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/sqlutil"
)

type Repository struct {
	db sqlutil.DBTX
}

func NewRepository(db sqlutil.DBTX) *Repository {
	return &Repository{db: db}
}

// CreateSubmissionRequest carries everything needed to persist a deliverable.
type CreateSubmissionRequest struct {
	TeamID             uuid.UUID
	QuestID            uuid.UUID
	Kind               models.DeliverableKind
	PayloadRef         string
	SubmittedAt        time.Time
	IsLate             bool
	LatePenaltyApplied int
}

const submissionColumns = `id, team_id, quest_id, kind, payload_ref, submitted_at, status, is_late, late_penalty_applied, final_points, created_at, updated_at`

// CreateSubmission inserts a submission row. A second submission for the
// same (team, quest) hits the unique constraint and surfaces as
// ErrConflict.
func (r *Repository) CreateSubmission(ctx context.Context, req CreateSubmissionRequest) (*models.Submission, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO submissions (id, team_id, quest_id, kind, payload_ref, submitted_at, status, is_late, late_penalty_applied)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7, $8)
		RETURNING `+submissionColumns,
		uuid.New(), req.TeamID, req.QuestID, string(req.Kind), req.PayloadRef,
		req.SubmittedAt.UTC(), req.IsLate, req.LatePenaltyApplied)

	sub, err := scanSubmission(row)
	if err != nil {
		if common.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: team already submitted for this quest", common.ErrConflict)
		}
		return nil, err
	}
	return sub, nil
}

// GetSubmission returns a submission by id.
func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

// UpdateSubmissionScore stamps the aggregated final points and flips the
// submission to EVALUATED.
func (r *Repository) UpdateSubmissionScore(ctx context.Context, id uuid.UUID, finalPoints int) (*models.Submission, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE submissions
		SET final_points = $2, status = 'EVALUATED', updated_at = now()
		WHERE id = $1
		RETURNING `+submissionColumns,
		id, finalPoints)
	return scanSubmission(row)
}

const evaluationColumns = `id, submission_id, evaluator_id, base_points, multiplier, points, comments, created_at, updated_at`

// UpsertEvaluation inserts or updates the evaluator's row for a
// submission. The (submission, evaluator) pair is unique; resubmission
// updates in place.
func (r *Repository) UpsertEvaluation(ctx context.Context, eval models.Evaluation) (*models.Evaluation, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO evaluations (id, submission_id, evaluator_id, base_points, multiplier, points, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (submission_id, evaluator_id)
		DO UPDATE SET base_points = EXCLUDED.base_points,
		              multiplier = EXCLUDED.multiplier,
		              points = EXCLUDED.points,
		              comments = EXCLUDED.comments,
		              updated_at = now()
		RETURNING `+evaluationColumns,
		uuid.New(), eval.SubmissionID, eval.EvaluatorID, eval.BasePoints,
		eval.Multiplier, eval.Points, eval.Comments)
	return scanEvaluation(row)
}

// ListEvaluationsBySubmission returns every evaluator's row for a submission.
func (r *Repository) ListEvaluationsBySubmission(ctx context.Context, submissionID uuid.UUID) ([]models.Evaluation, error) {
	return r.listEvaluations(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE submission_id = $1 ORDER BY created_at`,
		submissionID)
}

// ListEvaluationsByEvaluator returns an evaluator's full history, newest first.
func (r *Repository) ListEvaluationsByEvaluator(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error) {
	return r.listEvaluations(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE evaluator_id = $1 ORDER BY updated_at DESC`,
		evaluatorID)
}

func (r *Repository) listEvaluations(ctx context.Context, query string, arg interface{}) ([]models.Evaluation, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var evals []models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.EvaluatorID, &e.BasePoints,
			&e.Multiplier, &e.Points, &e.Comments, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		e.UpdatedAt = e.UpdatedAt.UTC()
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// InsertPenalty appends a penalty row; rows are immutable once created.
func (r *Repository) InsertPenalty(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string) (*models.Penalty, error) {
	var p models.Penalty
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO penalties (id, team_id, type, points, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, team_id, type, points, reason, created_at`,
		uuid.New(), teamID, string(ptype), points, reason).
		Scan(&p.ID, &p.TeamID, &p.Type, &p.Points, &p.Reason, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert penalty: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// ListPenaltiesByTeam returns a team's penalty rows.
func (r *Repository) ListPenaltiesByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Penalty, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, team_id, type, points, reason, created_at FROM penalties WHERE team_id = $1 ORDER BY created_at`,
		teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []models.Penalty
	for rows.Next() {
		var p models.Penalty
		if err := rows.Scan(&p.ID, &p.TeamID, &p.Type, &p.Points, &p.Reason, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

// ListFinalPointsByTeam returns the final points of a team's evaluated
// submissions.
func (r *Repository) ListFinalPointsByTeam(ctx context.Context, teamID uuid.UUID) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT final_points FROM submissions WHERE team_id = $1 AND status = 'EVALUATED'`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list final points: %w", err)
	}
	defer rows.Close()

	var points []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan final points: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Standings computes the live ranking. Running totals are aggregated on
// every read from the underlying rows rather than maintained as counters,
// so a missed change event can never leave a stale total behind.
// LATE_SUBMISSION penalty rows are excluded: that deduction is already
// baked into final_points and the row only documents it.
func (r *Repository) Standings(ctx context.Context) ([]models.TeamStanding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id,
		       t.name,
		       COALESCE(s.pts, 0) - COALESCE(p.pts, 0) AS total
		FROM teams t
		LEFT JOIN (
			SELECT team_id, SUM(final_points) AS pts
			FROM submissions WHERE status = 'EVALUATED'
			GROUP BY team_id
		) s ON s.team_id = t.id
		LEFT JOIN (
			SELECT team_id, SUM(points) AS pts
			FROM penalties
			WHERE type != 'LATE_SUBMISSION'
			GROUP BY team_id
		) p ON p.team_id = t.id
		ORDER BY total DESC, t.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query standings: %w", err)
	}
	defer rows.Close()

	var standings []models.TeamStanding
	rank := 0
	for rows.Next() {
		var s models.TeamStanding
		if err := rows.Scan(&s.TeamID, &s.TeamName, &s.TotalPoints); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		rank++
		s.Rank = rank
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

func scanSubmission(row *sql.Row) (*models.Submission, error) {
	var s models.Submission
	var finalPoints sql.NullInt32
	err := row.Scan(&s.ID, &s.TeamID, &s.QuestID, &s.Kind, &s.PayloadRef,
		&s.SubmittedAt, &s.Status, &s.IsLate, &s.LatePenaltyApplied,
		&finalPoints, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}
	s.FinalPoints = sqlutil.FromSqlInt32(finalPoints)
	s.SubmittedAt = s.SubmittedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func scanEvaluation(row *sql.Row) (*models.Evaluation, error) {
	var e models.Evaluation
	err := row.Scan(&e.ID, &e.SubmissionID, &e.EvaluatorID, &e.BasePoints,
		&e.Multiplier, &e.Points, &e.Comments, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan evaluation: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
