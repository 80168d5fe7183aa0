package contest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/contest/events"
	"github.com/rvera/gauntlet/go/internal/contest/repository"
	"github.com/rvera/gauntlet/go/internal/models"
)

// fakeContestRepo keeps the event tree in memory and mirrors the store's
// conditional-update semantics: transitions from the wrong status report
// ErrNotFound the way a zero-row UPDATE does.
type fakeContestRepo struct {
	event  *models.Event
	phases []*models.Phase
	quests []*models.Quest
}

func (f *fakeContestRepo) GetEvent(ctx context.Context) (*models.Event, error) {
	return f.event, nil
}

func (f *fakeContestRepo) SetCurrentPhase(ctx context.Context, eventID uuid.UUID, phaseNumber int) (*models.Event, error) {
	f.event.CurrentPhase = phaseNumber
	f.event.Started = true
	return f.event, nil
}

func (f *fakeContestRepo) EndEvent(ctx context.Context, eventID uuid.UUID, evaluationEndsAt, endsAt time.Time) (*models.Event, error) {
	f.event.Ended = true
	if f.event.EvaluationEndsAt == nil {
		f.event.EvaluationEndsAt = &evaluationEndsAt
		f.event.EndsAt = &endsAt
	}
	return f.event, nil
}

func (f *fakeContestRepo) GetPhase(ctx context.Context, id uuid.UUID) (*models.Phase, error) {
	for _, p := range f.phases {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeContestRepo) GetPhaseByNumber(ctx context.Context, eventID uuid.UUID, number int) (*models.Phase, error) {
	for _, p := range f.phases {
		if p.Number == number {
			return p, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeContestRepo) ListPhases(ctx context.Context, eventID uuid.UUID) ([]models.Phase, error) {
	out := make([]models.Phase, len(f.phases))
	for i, p := range f.phases {
		out[i] = *p
	}
	return out, nil
}

func (f *fakeContestRepo) StartPhase(ctx context.Context, phaseID uuid.UUID, startedAt time.Time) (*models.Phase, error) {
	p, err := f.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.PhaseStatusScheduled:
		p.Status = models.PhaseStatusInProgress
		p.StartedAt = &startedAt
	case models.PhaseStatusInProgress:
	default:
		return nil, common.ErrNotFound
	}
	return p, nil
}

func (f *fakeContestRepo) CompletePhase(ctx context.Context, phaseID uuid.UUID, completedAt time.Time) (*models.Phase, error) {
	p, err := f.GetPhase(ctx, phaseID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case models.PhaseStatusInProgress:
		p.Status = models.PhaseStatusCompleted
		p.CompletedAt = &completedAt
	case models.PhaseStatusCompleted:
	default:
		return nil, common.ErrNotFound
	}
	return p, nil
}

func (f *fakeContestRepo) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	for _, q := range f.quests {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeContestRepo) ListQuestsByPhase(ctx context.Context, phaseID uuid.UUID) ([]models.Quest, error) {
	var out []models.Quest
	for _, q := range f.quests {
		if q.PhaseID == phaseID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (f *fakeContestRepo) ActivateQuest(ctx context.Context, id uuid.UUID, startedAt time.Time) (*models.Quest, error) {
	q, err := f.GetQuest(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuestStatusScheduled {
		return nil, common.ErrNotFound
	}
	q.Status = models.QuestStatusActive
	q.StartedAt = &startedAt
	return q, nil
}

func (f *fakeContestRepo) CloseQuest(ctx context.Context, id uuid.UUID, closedAt time.Time) (*models.Quest, error) {
	q, err := f.GetQuest(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Status != models.QuestStatusActive {
		return nil, common.ErrNotFound
	}
	q.Status = models.QuestStatusClosed
	q.ClosedAt = &closedAt
	return q, nil
}

func (f *fakeContestRepo) CompleteQuestsForPhase(ctx context.Context, phaseID uuid.UUID) error {
	for _, q := range f.quests {
		if q.PhaseID == phaseID && q.Status == models.QuestStatusClosed {
			q.Status = models.QuestStatusCompleted
		}
	}
	return nil
}

func (f *fakeContestRepo) FetchNextDeadline(ctx context.Context) (*repository.NextDeadline, error) {
	return &repository.NextDeadline{}, nil
}

type fakeOutbox struct {
	types []string
}

func (f *fakeOutbox) Insert(ctx context.Context, eventType string, entityID uuid.UUID, payload []byte) error {
	f.types = append(f.types, eventType)
	return nil
}

func minsPtr(m int) *int { return &m }

func newFixture(t *testing.T) (*App, *fakeContestRepo, *fakeOutbox, *clockwork.FakeClock) {
	t.Helper()
	repo := &fakeContestRepo{
		event: &models.Event{ID: uuid.New(), Name: "test gauntlet"},
	}
	ob := &fakeOutbox{}
	clock := clockwork.NewFakeClock()
	app := NewApp(repo, ob, clock, Config{EvaluationPeriodMins: 60, FinalCountdownMins: 30})
	return app, repo, ob, clock
}

func addPhase(repo *fakeContestRepo, number int, questCount int) *models.Phase {
	phase := &models.Phase{
		ID:      uuid.New(),
		EventID: repo.event.ID,
		Number:  number,
		Name:    "phase",
		Status:  models.PhaseStatusScheduled,
	}
	repo.phases = append(repo.phases, phase)
	for i := 0; i < questCount; i++ {
		repo.quests = append(repo.quests, &models.Quest{
			ID:           uuid.New(),
			PhaseID:      phase.ID,
			OrderIdx:     i,
			Name:         "quest",
			Kinds:        []models.DeliverableKind{models.DeliverableKindText},
			MaxPoints:    100,
			DeadlineMins: minsPtr(45),
			Status:       models.QuestStatusScheduled,
		})
	}
	return phase
}

func questsOf(repo *fakeContestRepo, phaseID uuid.UUID) []*models.Quest {
	var out []*models.Quest
	for _, q := range repo.quests {
		if q.PhaseID == phaseID {
			out = append(out, q)
		}
	}
	return out
}

func TestStartPhaseActivatesFirstQuest(t *testing.T) {
	app, repo, ob, _ := newFixture(t)
	phase := addPhase(repo, 1, 2)

	event, err := app.StartPhase(context.Background(), 1)
	if err != nil {
		t.Fatalf("StartPhase: %v", err)
	}
	if event.CurrentPhase != 1 || !event.Started {
		t.Errorf("event = current_phase %d started %v", event.CurrentPhase, event.Started)
	}
	if phase.Status != models.PhaseStatusInProgress || phase.StartedAt == nil {
		t.Errorf("phase = %s started_at %v", phase.Status, phase.StartedAt)
	}

	quests := questsOf(repo, phase.ID)
	if quests[0].Status != models.QuestStatusActive {
		t.Errorf("first quest = %s, want ACTIVE", quests[0].Status)
	}
	if quests[1].Status != models.QuestStatusScheduled {
		t.Errorf("second quest = %s, want SCHEDULED", quests[1].Status)
	}
	want := []string{events.TypePhaseStarted, events.TypeQuestActivated}
	if len(ob.types) != len(want) || ob.types[0] != want[0] || ob.types[1] != want[1] {
		t.Errorf("emitted %v, want %v", ob.types, want)
	}
}

func TestStartPhaseZeroEndsEvent(t *testing.T) {
	app, repo, ob, clock := newFixture(t)
	repo.event.Started = true

	event, err := app.StartPhase(context.Background(), 0)
	if err != nil {
		t.Fatalf("StartPhase(0): %v", err)
	}
	if !event.Ended {
		t.Fatal("event not ended")
	}
	now := clock.Now().UTC()
	if !event.EvaluationEndsAt.Equal(now.Add(60 * time.Minute)) {
		t.Errorf("evaluation_ends_at = %v", event.EvaluationEndsAt)
	}
	if !event.EndsAt.Equal(now.Add(90 * time.Minute)) {
		t.Errorf("ends_at = %v", event.EndsAt)
	}
	if len(ob.types) != 1 || ob.types[0] != events.TypeEventEnded {
		t.Errorf("emitted %v", ob.types)
	}
}

func TestStartPhaseOnEndedEvent(t *testing.T) {
	app, repo, _, _ := newFixture(t)
	addPhase(repo, 1, 1)
	repo.event.Ended = true

	_, err := app.StartPhase(context.Background(), 1)
	if !errors.Is(err, common.ErrEventNotActive) {
		t.Errorf("err = %v, want ErrEventNotActive", err)
	}
}

func TestAdvanceQuestActivatesNext(t *testing.T) {
	app, repo, ob, _ := newFixture(t)
	phase := addPhase(repo, 1, 2)
	if _, err := app.StartPhase(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ob.types = nil

	quests := questsOf(repo, phase.ID)
	if err := app.AdvanceQuest(context.Background(), quests[0].ID); err != nil {
		t.Fatalf("AdvanceQuest: %v", err)
	}
	if quests[0].Status != models.QuestStatusClosed {
		t.Errorf("first quest = %s, want CLOSED", quests[0].Status)
	}
	if quests[1].Status != models.QuestStatusActive {
		t.Errorf("second quest = %s, want ACTIVE", quests[1].Status)
	}
	want := []string{events.TypeQuestClosed, events.TypeQuestActivated}
	if len(ob.types) != len(want) || ob.types[0] != want[0] || ob.types[1] != want[1] {
		t.Errorf("emitted %v, want %v", ob.types, want)
	}
}

func TestAdvanceTerminalQuestIsNoOp(t *testing.T) {
	app, repo, ob, _ := newFixture(t)
	phase := addPhase(repo, 1, 1)
	quest := questsOf(repo, phase.ID)[0]
	quest.Status = models.QuestStatusClosed

	if err := app.AdvanceQuest(context.Background(), quest.ID); err != nil {
		t.Fatalf("AdvanceQuest: %v", err)
	}
	if len(ob.types) != 0 {
		t.Errorf("emitted %v for a terminal quest", ob.types)
	}
}

func TestAdvanceScheduledQuestConflicts(t *testing.T) {
	app, repo, _, _ := newFixture(t)
	phase := addPhase(repo, 1, 1)
	quest := questsOf(repo, phase.ID)[0]

	err := app.AdvanceQuest(context.Background(), quest.ID)
	if !errors.Is(err, common.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestLastQuestAdvanceRollsIntoNextPhase(t *testing.T) {
	app, repo, _, _ := newFixture(t)
	first := addPhase(repo, 1, 1)
	second := addPhase(repo, 2, 1)
	if _, err := app.StartPhase(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	quest := questsOf(repo, first.ID)[0]
	if err := app.AdvanceQuest(context.Background(), quest.ID); err != nil {
		t.Fatalf("AdvanceQuest: %v", err)
	}
	if first.Status != models.PhaseStatusCompleted {
		t.Errorf("first phase = %s, want COMPLETED", first.Status)
	}
	if quest.Status != models.QuestStatusCompleted {
		t.Errorf("closed quest = %s, want COMPLETED after phase completion", quest.Status)
	}
	if second.Status != models.PhaseStatusInProgress {
		t.Errorf("second phase = %s, want IN_PROGRESS", second.Status)
	}
	if next := questsOf(repo, second.ID)[0]; next.Status != models.QuestStatusActive {
		t.Errorf("next phase quest = %s, want ACTIVE", next.Status)
	}
	if repo.event.CurrentPhase != 2 {
		t.Errorf("current_phase = %d, want 2", repo.event.CurrentPhase)
	}
}

func TestFinalPhaseCompletionEndsEvent(t *testing.T) {
	app, repo, _, clock := newFixture(t)
	phase := addPhase(repo, 1, 1)
	if _, err := app.StartPhase(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	quest := questsOf(repo, phase.ID)[0]
	if err := app.AdvanceQuest(context.Background(), quest.ID); err != nil {
		t.Fatalf("AdvanceQuest: %v", err)
	}
	if !repo.event.Ended {
		t.Fatal("event not ended after final phase")
	}
	if !repo.event.EvaluationEndsAt.Equal(clock.Now().UTC().Add(60 * time.Minute)) {
		t.Errorf("evaluation_ends_at = %v", repo.event.EvaluationEndsAt)
	}
}

func TestEndEventIsIdempotent(t *testing.T) {
	app, repo, ob, clock := newFixture(t)

	first, err := app.EndEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	stamp := *first.EvaluationEndsAt

	clock.Advance(10 * time.Minute)
	second, err := app.EndEvent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !second.EvaluationEndsAt.Equal(stamp) {
		t.Errorf("re-end moved evaluation_ends_at from %v to %v", stamp, second.EvaluationEndsAt)
	}
	if len(ob.types) != 1 {
		t.Errorf("emitted %v, want a single EventEnded", ob.types)
	}

	if repo.event.Ended != true {
		t.Error("event not ended")
	}
}

func TestSnapshotCarriesActiveDeadline(t *testing.T) {
	app, repo, _, _ := newFixture(t)
	phase := addPhase(repo, 1, 2)
	if _, err := app.StartPhase(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	snap, err := app.GetSnapshot(context.Background())
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	active := questsOf(repo, phase.ID)[0]
	if snap.ActiveQuestID == nil || *snap.ActiveQuestID != active.ID {
		t.Fatalf("active quest = %v, want %s", snap.ActiveQuestID, active.ID)
	}
	if snap.Deadline == nil || snap.Deadline.At == nil {
		t.Fatal("snapshot missing deadline")
	}
	want := active.StartedAt.Add(45 * time.Minute)
	if !snap.Deadline.At.Equal(want) {
		t.Errorf("deadline = %v, want %v", snap.Deadline.At, want)
	}
}
