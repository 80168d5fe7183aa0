package submissions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/models"
)

type fakeStore struct {
	submissions map[uuid.UUID]*models.Submission
	byTeamQuest map[string]uuid.UUID
	evaluations map[uuid.UUID][]models.Evaluation
	penalties   map[uuid.UUID][]models.Penalty
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		submissions: make(map[uuid.UUID]*models.Submission),
		byTeamQuest: make(map[string]uuid.UUID),
		evaluations: make(map[uuid.UUID][]models.Evaluation),
		penalties:   make(map[uuid.UUID][]models.Penalty),
	}
}

func (f *fakeStore) CreateSubmissionWithPenalty(ctx context.Context, req CreateSubmissionRequest, eventType string, payloadFn func(*models.Submission) []byte) (*models.Submission, error) {
	key := req.TeamID.String() + "/" + req.QuestID.String()
	if _, dup := f.byTeamQuest[key]; dup {
		return nil, fmt.Errorf("%w: team already submitted for this quest", common.ErrConflict)
	}
	sub := &models.Submission{
		ID:                 uuid.New(),
		TeamID:             req.TeamID,
		QuestID:            req.QuestID,
		Kind:               req.Kind,
		PayloadRef:         req.PayloadRef,
		SubmittedAt:        req.SubmittedAt,
		Status:             models.SubmissionStatusPending,
		IsLate:             req.IsLate,
		LatePenaltyApplied: req.LatePenaltyApplied,
	}
	f.submissions[sub.ID] = sub
	f.byTeamQuest[key] = sub.ID
	if req.IsLate {
		f.penalties[req.TeamID] = append(f.penalties[req.TeamID], models.Penalty{
			TeamID: req.TeamID,
			Type:   models.PenaltyTypeLateSubmission,
			Points: req.LatePenaltyApplied,
		})
	}
	payloadFn(sub)
	return sub, nil
}

func (f *fakeStore) RecordEvaluationTx(ctx context.Context, eval models.Evaluation, finalPoints int, eventType string, payloadFn func(*models.Evaluation, *models.Submission) []byte) (*models.Evaluation, *models.Submission, error) {
	sub, ok := f.submissions[eval.SubmissionID]
	if !ok {
		return nil, nil, common.ErrNotFound
	}
	evals := f.evaluations[eval.SubmissionID]
	replaced := false
	for i, e := range evals {
		if e.EvaluatorID == eval.EvaluatorID {
			eval.ID = e.ID
			evals[i] = eval
			replaced = true
			break
		}
	}
	if !replaced {
		eval.ID = uuid.New()
		evals = append(evals, eval)
	}
	f.evaluations[eval.SubmissionID] = evals
	sub.FinalPoints = &finalPoints
	sub.Status = models.SubmissionStatusEvaluated
	payloadFn(&eval, sub)
	return &eval, sub, nil
}

func (f *fakeStore) AssignPenaltyTx(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string, eventType string, payloadFn func(*models.Penalty) []byte) (*models.Penalty, error) {
	p := &models.Penalty{
		ID:     uuid.New(),
		TeamID: teamID,
		Type:   ptype,
		Points: points,
		Reason: reason,
	}
	f.penalties[teamID] = append(f.penalties[teamID], *p)
	payloadFn(p)
	return p, nil
}

func (f *fakeStore) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	sub, ok := f.submissions[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return sub, nil
}

func (f *fakeStore) ListEvaluationsBySubmission(ctx context.Context, submissionID uuid.UUID) ([]models.Evaluation, error) {
	return f.evaluations[submissionID], nil
}

func (f *fakeStore) ListEvaluationsByEvaluator(ctx context.Context, evaluatorID uuid.UUID) ([]models.Evaluation, error) {
	var out []models.Evaluation
	for _, evals := range f.evaluations {
		for _, e := range evals {
			if e.EvaluatorID == evaluatorID {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListPenaltiesByTeam(ctx context.Context, teamID uuid.UUID) ([]models.Penalty, error) {
	return f.penalties[teamID], nil
}

func (f *fakeStore) ListFinalPointsByTeam(ctx context.Context, teamID uuid.UUID) ([]int, error) {
	var out []int
	for _, sub := range f.submissions {
		if sub.TeamID == teamID && sub.FinalPoints != nil {
			out = append(out, *sub.FinalPoints)
		}
	}
	return out, nil
}

func (f *fakeStore) Standings(ctx context.Context) ([]models.TeamStanding, error) {
	return nil, nil
}

type fakeQuests struct {
	quests map[uuid.UUID]*models.Quest
}

func (f *fakeQuests) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	q, ok := f.quests[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return q, nil
}

func activeQuest(startedAt time.Time) *models.Quest {
	deadline := 30
	return &models.Quest{
		ID:             uuid.New(),
		Name:           "cipher-relay",
		Status:         models.QuestStatusActive,
		MaxPoints:      100,
		DeadlineMins:   &deadline,
		LateWindowMins: 15,
		LatePenaltyPts: 10,
		Kinds:          []models.DeliverableKind{models.DeliverableKindText},
		StartedAt:      &startedAt,
	}
}

func TestSubmitDeliverable(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	Convey("Given an active quest with a 30 minute deadline", t, func() {
		quest := activeQuest(start)
		store := newFakeStore()
		clock := clockwork.NewFakeClockAt(start.Add(10 * time.Minute))
		app := NewApp(store, &fakeQuests{quests: map[uuid.UUID]*models.Quest{quest.ID: quest}}, clock)
		teamID := uuid.New()

		Convey("An on-time submission is accepted without penalty", func() {
			sub, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer: 42")
			So(err, ShouldBeNil)
			So(sub.IsLate, ShouldBeFalse)
			So(sub.LatePenaltyApplied, ShouldEqual, 0)
			So(store.penalties[teamID], ShouldBeEmpty)
		})

		Convey("A submission inside the late window is accepted with the penalty", func() {
			clock.Advance(25 * time.Minute) // now T+35, inside 30+15
			sub, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer: 42")
			So(err, ShouldBeNil)
			So(sub.IsLate, ShouldBeTrue)
			So(sub.LatePenaltyApplied, ShouldEqual, 10)
			So(store.penalties[teamID], ShouldHaveLength, 1)
		})

		Convey("A submission in the last second of the late window is accepted", func() {
			clock.Advance(35*time.Minute + 59*time.Second) // now T+45m59s
			sub, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer: 42")
			So(err, ShouldBeNil)
			So(sub.IsLate, ShouldBeTrue)
		})

		Convey("A submission after the late window is rejected", func() {
			clock.Advance(36 * time.Minute) // now T+46, past 30+15
			_, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer: 42")
			So(errors.Is(err, common.ErrOutOfSequence), ShouldBeTrue)
		})

		Convey("A second submission for the same quest conflicts", func() {
			_, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "first")
			So(err, ShouldBeNil)
			_, err = app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "second")
			So(errors.Is(err, common.ErrConflict), ShouldBeTrue)
		})

		Convey("A mismatched deliverable kind is rejected", func() {
			_, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindURL, "https://example.com")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})

		Convey("An empty payload reference is rejected", func() {
			_, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})

		Convey("Submitting to a quest that is not active is out of sequence", func() {
			quest.Status = models.QuestStatusClosed
			_, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "late to the party")
			So(errors.Is(err, common.ErrOutOfSequence), ShouldBeTrue)
		})
	})
}

func TestRecordEvaluation(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	Convey("Given a pending submission", t, func() {
		quest := activeQuest(start)
		store := newFakeStore()
		clock := clockwork.NewFakeClockAt(start.Add(5 * time.Minute))
		app := NewApp(store, &fakeQuests{quests: map[uuid.UUID]*models.Quest{quest.ID: quest}}, clock)
		teamID := uuid.New()
		sub, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer")
		So(err, ShouldBeNil)

		evaluator := uuid.New()

		Convey("A single evaluation stamps the final score", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 80, 1.5, "solid")
			So(err, ShouldBeNil)
			So(*store.submissions[sub.ID].FinalPoints, ShouldEqual, 120)
			So(store.submissions[sub.ID].Status, ShouldEqual, models.SubmissionStatusEvaluated)
		})

		Convey("A second evaluator's score is averaged in", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 80, 1.0, "")
			So(err, ShouldBeNil)
			_, err = app.RecordEvaluation(context.Background(), sub.ID, uuid.New(), 100, 1.0, "")
			So(err, ShouldBeNil)
			So(*store.submissions[sub.ID].FinalPoints, ShouldEqual, 90)
		})

		Convey("Re-evaluating updates in place rather than appending", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 60, 1.0, "")
			So(err, ShouldBeNil)
			_, err = app.RecordEvaluation(context.Background(), sub.ID, evaluator, 90, 1.0, "on reflection")
			So(err, ShouldBeNil)
			So(store.evaluations[sub.ID], ShouldHaveLength, 1)
			So(*store.submissions[sub.ID].FinalPoints, ShouldEqual, 90)
		})

		Convey("An out-of-range multiplier is rejected", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 80, 2.5, "")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})

		Convey("Base points above the quest maximum are rejected", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 150, 1.0, "")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})

		Convey("Evaluating an unknown submission is not found", func() {
			_, err := app.RecordEvaluation(context.Background(), uuid.New(), evaluator, 80, 1.0, "")
			So(errors.Is(err, common.ErrNotFound), ShouldBeTrue)
		})

		Convey("A boss quest ignores the multiplier", func() {
			quest.Boss = true
			_, err := app.RecordEvaluation(context.Background(), sub.ID, evaluator, 80, 2.0, "")
			So(err, ShouldBeNil)
			So(*store.submissions[sub.ID].FinalPoints, ShouldEqual, 80)
		})
	})

	Convey("Given a late submission with a 10 point penalty", t, func() {
		quest := activeQuest(start)
		store := newFakeStore()
		clock := clockwork.NewFakeClockAt(start.Add(35 * time.Minute))
		app := NewApp(store, &fakeQuests{quests: map[uuid.UUID]*models.Quest{quest.ID: quest}}, clock)
		sub, err := app.SubmitDeliverable(context.Background(), uuid.New(), quest.ID, models.DeliverableKindText, "late answer")
		So(err, ShouldBeNil)
		So(sub.IsLate, ShouldBeTrue)

		Convey("The penalty is deducted from the averaged score", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, uuid.New(), 100, 1.0, "")
			So(err, ShouldBeNil)
			So(*store.submissions[sub.ID].FinalPoints, ShouldEqual, 90)
		})

		Convey("The running total deducts the late penalty exactly once", func() {
			_, err := app.RecordEvaluation(context.Background(), sub.ID, uuid.New(), 100, 1.0, "")
			So(err, ShouldBeNil)
			So(store.penalties[sub.TeamID], ShouldHaveLength, 1)
			total, err := app.GetTeamTotal(context.Background(), sub.TeamID)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 90)
		})
	})
}

func TestAssignPenalty(t *testing.T) {
	Convey("Given a team", t, func() {
		store := newFakeStore()
		app := NewApp(store, &fakeQuests{quests: map[uuid.UUID]*models.Quest{}}, clockwork.NewFakeClock())
		teamID := uuid.New()

		Convey("A rule violation penalty is recorded", func() {
			p, err := app.AssignPenalty(context.Background(), teamID, models.PenaltyTypeRuleViolation, 25, "unauthorized tooling")
			So(err, ShouldBeNil)
			So(p.Points, ShouldEqual, 25)
		})

		Convey("A negative coin adjustment acts as a bonus", func() {
			_, err := app.AssignPenalty(context.Background(), teamID, models.PenaltyTypeCoinAdjustment, -15, "side challenge winner")
			So(err, ShouldBeNil)
			total, err := app.GetTeamTotal(context.Background(), teamID)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 15)
		})

		Convey("An unknown penalty type is rejected", func() {
			_, err := app.AssignPenalty(context.Background(), teamID, models.PenaltyType("BAD_VIBES"), 5, "nope")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})

		Convey("A penalty without a reason is rejected", func() {
			_, err := app.AssignPenalty(context.Background(), teamID, models.PenaltyTypeRuleViolation, 5, "")
			So(errors.Is(err, common.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestGetTeamTotal(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	Convey("Given evaluated submissions and penalties for a team", t, func() {
		quest := activeQuest(start)
		store := newFakeStore()
		clock := clockwork.NewFakeClockAt(start.Add(5 * time.Minute))
		app := NewApp(store, &fakeQuests{quests: map[uuid.UUID]*models.Quest{quest.ID: quest}}, clock)
		teamID := uuid.New()

		sub, err := app.SubmitDeliverable(context.Background(), teamID, quest.ID, models.DeliverableKindText, "answer")
		So(err, ShouldBeNil)
		_, err = app.RecordEvaluation(context.Background(), sub.ID, uuid.New(), 80, 1.0, "")
		So(err, ShouldBeNil)
		_, err = app.AssignPenalty(context.Background(), teamID, models.PenaltyTypeRuleViolation, 30, "late to briefing")
		So(err, ShouldBeNil)

		Convey("The running total nets final points against penalties", func() {
			total, err := app.GetTeamTotal(context.Background(), teamID)
			So(err, ShouldBeNil)
			So(total, ShouldEqual, 50)
		})
	})
}
