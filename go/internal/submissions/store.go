package submissions

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/rvera/gauntlet/go/internal/contest/outbox"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/sqlutil"
)

// txRepos binds the submission and outbox repositories to one transaction,
// so a command's rows and its change event commit or roll back together.
type txRepos struct {
	subs   *Repository
	outbox *outbox.Repository
}

func newTxRepos(db sqlutil.DBTX) *txRepos {
	return &txRepos{
		subs:   NewRepository(db),
		outbox: outbox.NewRepository(db),
	}
}

// Store runs the multi-row submission commands transactionally. Reads go
// through the plain Repository.
type Store struct {
	db *sql.DB
	*Repository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:         db,
		Repository: NewRepository(db),
	}
}

// CreateSubmissionWithPenalty persists a deliverable and, when it was late,
// the matching penalty row and outbox event in a single transaction.
func (s *Store) CreateSubmissionWithPenalty(ctx context.Context, req CreateSubmissionRequest, eventType string, payloadFn func(*models.Submission) []byte) (*models.Submission, error) {
	var created *models.Submission
	err := sqlutil.Run(ctx, s.db, newTxRepos, func(r *txRepos) error {
		sub, err := r.subs.CreateSubmission(ctx, req)
		if err != nil {
			return err
		}
		if req.IsLate && req.LatePenaltyApplied != 0 {
			_, err := r.subs.InsertPenalty(ctx, req.TeamID, models.PenaltyTypeLateSubmission,
				req.LatePenaltyApplied, "late submission for quest "+req.QuestID.String())
			if err != nil {
				return err
			}
		}
		if err := r.outbox.Insert(ctx, eventType, sub.ID, payloadFn(sub)); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordEvaluationTx upserts the evaluation, restamps the submission's
// aggregated score, and emits the change event atomically.
func (s *Store) RecordEvaluationTx(ctx context.Context, eval models.Evaluation, finalPoints int, eventType string, payloadFn func(*models.Evaluation, *models.Submission) []byte) (*models.Evaluation, *models.Submission, error) {
	var (
		savedEval *models.Evaluation
		savedSub  *models.Submission
	)
	err := sqlutil.Run(ctx, s.db, newTxRepos, func(r *txRepos) error {
		e, err := r.subs.UpsertEvaluation(ctx, eval)
		if err != nil {
			return err
		}
		sub, err := r.subs.UpdateSubmissionScore(ctx, eval.SubmissionID, finalPoints)
		if err != nil {
			return err
		}
		if err := r.outbox.Insert(ctx, eventType, e.ID, payloadFn(e, sub)); err != nil {
			return err
		}
		savedEval, savedSub = e, sub
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return savedEval, savedSub, nil
}

// AssignPenaltyTx appends the penalty row together with its change event.
func (s *Store) AssignPenaltyTx(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string, eventType string, payloadFn func(*models.Penalty) []byte) (*models.Penalty, error) {
	var created *models.Penalty
	err := sqlutil.Run(ctx, s.db, newTxRepos, func(r *txRepos) error {
		p, err := r.subs.InsertPenalty(ctx, teamID, ptype, points, reason)
		if err != nil {
			return err
		}
		if err := r.outbox.Insert(ctx, eventType, p.ID, payloadFn(p)); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
