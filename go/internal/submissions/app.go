package submissions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/contest/events"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/progression"
	"github.com/rvera/gauntlet/go/internal/scoring"
)

// SubmissionStore defines what the app layer needs from the store
type SubmissionStore interface {
	CreateSubmissionWithPenalty(ctx context.Context, req CreateSubmissionRequest, eventType string, payloadFn func(*models.Submission) []byte) (*models.Submission, error)
	RecordEvaluationTx(ctx context.Context, eval models.Evaluation, finalPoints int, eventType string, payloadFn func(*models.Evaluation, *models.Submission) []byte) (*models.Evaluation, *models.Submission, error)
	AssignPenaltyTx(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string, eventType string, payloadFn func(*models.Penalty) []byte) (*models.Penalty, error)
	GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	ListEvaluationsBySubmission(ctx context.Context, submissionID uuid.UUID) ([]models.Evaluation, error)
	ListEvaluationsByEvaluator(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error)
	ListPenaltiesByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Penalty, error)
	ListFinalPointsByTeam(ctx context.Context, teamID uuid.UUID) ([]int, error)
	Standings(ctx context.Context) ([]models.TeamStanding, error)
}

// QuestReader resolves quests for validation; implemented by the contest
// repository.
type QuestReader interface {
	GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error)
}

// App handles submission, evaluation and penalty business logic.
type App struct {
	store  SubmissionStore
	quests QuestReader
	clock  clockwork.Clock
}

// NewApp creates a new submissions App
func NewApp(store SubmissionStore, quests QuestReader, clock clockwork.Clock) *App {
	return &App{
		store:  store,
		quests: quests,
		clock:  clock,
	}
}

// SubmitDeliverable validates and persists a team's deliverable for a
// quest. Duplicates and out-of-sequence submissions are rejected; lateness
// is computed against the quest's deadline and, inside the late window,
// accepted with the quest's penalty.
func (a *App) SubmitDeliverable(ctx context.Context, teamID, questID uuid.UUID, kind models.DeliverableKind, payloadRef string) (*models.Submission, error) {
	quest, err := a.quests.GetQuest(ctx, questID)
	if err != nil {
		return nil, fmt.Errorf("quest %s: %w", questID, err)
	}
	if quest.Status != models.QuestStatusActive {
		return nil, fmt.Errorf("%w: quest %q is %s", common.ErrOutOfSequence, quest.Name, quest.Status)
	}
	if !quest.AcceptsKind(kind) {
		return nil, fmt.Errorf("%w: quest %q does not accept %s deliverables", common.ErrValidation, quest.Name, kind)
	}
	if err := kind.Validate(payloadRef); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}

	now := a.clock.Now().UTC()
	deadline := progression.ComputeDeadline(quest.StartedAt, quest.DeadlineMins, quest.LateWindowMins, now)
	if deadline.State == progression.DeadlineExpired {
		return nil, fmt.Errorf("%w: submission window for %q has closed", common.ErrOutOfSequence, quest.Name)
	}

	req := CreateSubmissionRequest{
		TeamID:      teamID,
		QuestID:     questID,
		Kind:        kind,
		PayloadRef:  payloadRef,
		SubmittedAt: now,
		IsLate:      deadline.State == progression.DeadlineLate,
	}
	if req.IsLate {
		req.LatePenaltyApplied = quest.LatePenaltyPts
	}

	sub, err := a.store.CreateSubmissionWithPenalty(ctx, req, events.TypeSubmissionReceived, func(s *models.Submission) []byte {
		return mustMarshal(events.SubmissionReceivedPayload{
			SubmissionID: s.ID.String(),
			TeamID:       s.TeamID.String(),
			QuestID:      s.QuestID.String(),
			SubmittedAt:  s.SubmittedAt,
			IsLate:       s.IsLate,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("submission_id", sub.ID.String()).
		Str("team_id", teamID.String()).
		Str("quest", quest.Name).
		Bool("late", sub.IsLate).
		Msg("deliverable submitted")
	return sub, nil
}

// RecordEvaluation validates and upserts one evaluator's score, then
// recomputes the submission's final points across all evaluators.
func (a *App) RecordEvaluation(ctx context.Context, submissionID, evaluatorID uuid.UUID, basePoints int, multiplier float64, comments string) (*models.Evaluation, error) {
	sub, err := a.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, err)
	}
	quest, err := a.quests.GetQuest(ctx, sub.QuestID)
	if err != nil {
		return nil, fmt.Errorf("quest %s: %w", sub.QuestID, err)
	}

	if err := scoring.ValidateEvaluation(basePoints, quest.MaxPoints, multiplier); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	points := scoring.ComputeSubmissionScore(basePoints, multiplier, quest.Boss)

	// Recompute the aggregate as it will look after this upsert lands.
	existing, err := a.store.ListEvaluationsBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	merged := existing[:0:0]
	replaced := false
	for _, e := range existing {
		if e.EvaluatorID == evaluatorID {
			e.Points = points
			replaced = true
		}
		merged = append(merged, e)
	}
	if !replaced {
		merged = append(merged, models.Evaluation{EvaluatorID: evaluatorID, Points: points})
	}
	agg, _ := scoring.AggregateEvaluations(merged)
	final := scoring.ApplyLatePenalty(agg, sub.LatePenaltyApplied)

	eval := models.Evaluation{
		SubmissionID: submissionID,
		EvaluatorID:  evaluatorID,
		BasePoints:   basePoints,
		Multiplier:   multiplier,
		Points:       points,
		Comments:     comments,
	}
	saved, _, err := a.store.RecordEvaluationTx(ctx, eval, final, events.TypeEvaluationRecorded, func(e *models.Evaluation, s *models.Submission) []byte {
		fp := 0
		if s.FinalPoints != nil {
			fp = *s.FinalPoints
		}
		return mustMarshal(events.EvaluationRecordedPayload{
			SubmissionID: e.SubmissionID.String(),
			EvaluatorID:  e.EvaluatorID.String(),
			Points:       e.Points,
			FinalPoints:  fp,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("submission_id", submissionID.String()).
		Str("evaluator_id", evaluatorID.String()).
		Int("points", points).
		Int("final_points", final).
		Msg("evaluation recorded")
	return saved, nil
}

// AssignPenalty appends a penalty (or, with negative points, a coin bonus)
// to a team.
func (a *App) AssignPenalty(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string) (*models.Penalty, error) {
	switch ptype {
	case models.PenaltyTypeLateSubmission, models.PenaltyTypeRuleViolation, models.PenaltyTypeCoinAdjustment:
	default:
		return nil, fmt.Errorf("%w: unknown penalty type %q", common.ErrValidation, ptype)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: penalty requires a reason", common.ErrValidation)
	}

	p, err := a.store.AssignPenaltyTx(ctx, teamID, ptype, points, reason, events.TypePenaltyAssigned, func(p *models.Penalty) []byte {
		return mustMarshal(events.PenaltyAssignedPayload{
			PenaltyID: p.ID.String(),
			TeamID:    p.TeamID.String(),
			Type:      string(p.Type),
			Points:    p.Points,
			Reason:    p.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("team_id", teamID.String()).
		Str("type", string(ptype)).
		Int("points", points).
		Msg("penalty assigned")
	return p, nil
}

// GetStandings returns the live ranking, best team first.
func (a *App) GetStandings(ctx context.Context) ([]models.TeamStanding, error) {
	return a.store.Standings(ctx)
}

// GetEvaluatorHistory returns an evaluator's evaluations, newest first.
func (a *App) GetEvaluatorHistory(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error) {
	return a.store.ListEvaluationsByEvaluator(ctx, evaluatorID)
}

// GetTeamTotal computes a single team's running total on read.
func (a *App) GetTeamTotal(ctx context.Context, teamID uuid.UUID) (int, error) {
	points, err := a.store.ListFinalPointsByTeam(ctx, teamID)
	if err != nil {
		return 0, err
	}
	penalties, err := a.store.ListPenaltiesByTeam(ctx, teamID)
	if err != nil {
		return 0, err
	}
	return scoring.RunningTotal(points, penalties), nil
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Payloads are plain structs; this cannot fail at runtime.
		log.Error().Err(err).Msg("failed to marshal event payload")
		return []byte("{}")
	}
	return data
}
