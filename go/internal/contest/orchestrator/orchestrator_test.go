package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/contest/events"
	"github.com/rvera/gauntlet/go/internal/contest/repository"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/progression"
)

// fakeContestApp mimics the store's idempotence: the first advance for an
// entity wins, repeats return ErrConflict.
type fakeContestApp struct {
	mu       sync.Mutex
	quest    *models.Quest
	phaseID  uuid.UUID
	deadline *repository.NextDeadline
	fetchErr int // remaining FetchNextDeadline calls that fail

	advanced      map[uuid.UUID]int
	forceAdvanced map[uuid.UUID]int
	phaseAdvanced map[uuid.UUID]int
}

func newFakeContestApp() *fakeContestApp {
	return &fakeContestApp{
		advanced:      make(map[uuid.UUID]int),
		forceAdvanced: make(map[uuid.UUID]int),
		phaseAdvanced: make(map[uuid.UUID]int),
	}
}

func (f *fakeContestApp) FetchNextDeadline(ctx context.Context) (*repository.NextDeadline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr > 0 {
		f.fetchErr--
		return nil, errors.New("store temporarily unavailable")
	}
	if f.deadline == nil {
		return &repository.NextDeadline{}, nil
	}
	return f.deadline, nil
}

func (f *fakeContestApp) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quest == nil || f.quest.ID != id {
		return nil, common.ErrNotFound
	}
	q := *f.quest
	return &q, nil
}

func (f *fakeContestApp) AdvanceQuest(ctx context.Context, questID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced[questID]++
	if f.advanced[questID] > 1 {
		return common.ErrConflict
	}
	f.deadline = nil // quest closed, nothing timed remains
	return nil
}

func (f *fakeContestApp) ForceAdvanceQuest(ctx context.Context, questID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceAdvanced[questID]++
	if f.forceAdvanced[questID] > 1 {
		return common.ErrConflict
	}
	f.deadline = nil
	return nil
}

func (f *fakeContestApp) AdvancePhase(ctx context.Context, phaseID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phaseAdvanced[phaseID]++
	if f.phaseAdvanced[phaseID] > 1 {
		return common.ErrConflict
	}
	f.deadline = nil
	return nil
}

func (f *fakeContestApp) advanceCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advanced[id]
}

func (f *fakeContestApp) forceCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceAdvanced[id]
}

func (f *fakeContestApp) phaseCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phaseAdvanced[id]
}

func timedQuest(startedAt time.Time, deadlineMins int) *models.Quest {
	return &models.Quest{
		ID:             uuid.New(),
		Name:           "bridge-defense",
		Status:         models.QuestStatusActive,
		DeadlineMins:   &deadlineMins,
		LateWindowMins: 15,
		StartedAt:      &startedAt,
	}
}

func TestHandleDueAdvancesQuest(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	app := newFakeContestApp()
	app.quest = timedQuest(start, 30)
	clock := clockwork.NewFakeClockAt(start.Add(46 * time.Minute))
	o := NewOrchestrator(app, clock)

	if err := o.handleDue(context.Background(), dueItem{ID: app.quest.ID}); err != nil {
		t.Fatalf("handleDue: %v", err)
	}
	if got := app.advanceCount(app.quest.ID); got != 1 {
		t.Errorf("AdvanceQuest calls = %d, want 1", got)
	}
	if got := app.forceCount(app.quest.ID); got != 0 {
		t.Errorf("ForceAdvanceQuest calls = %d, want 0", got)
	}
}

func TestHandleDueForcesStalledQuest(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	app := newFakeContestApp()
	app.quest = timedQuest(start, 30)
	// Past final deadline plus the stall clamp.
	clock := clockwork.NewFakeClockAt(start.Add(45*time.Minute + progression.StallClamp + time.Minute))
	o := NewOrchestrator(app, clock)

	if err := o.handleDue(context.Background(), dueItem{ID: app.quest.ID}); err != nil {
		t.Fatalf("handleDue: %v", err)
	}
	if got := app.forceCount(app.quest.ID); got != 1 {
		t.Errorf("ForceAdvanceQuest calls = %d, want 1", got)
	}
	if got := app.advanceCount(app.quest.ID); got != 0 {
		t.Errorf("AdvanceQuest calls = %d, want 0", got)
	}
}

func TestHandleDueAdvancesPhaseBudget(t *testing.T) {
	app := newFakeContestApp()
	app.phaseID = uuid.New()
	o := NewOrchestrator(app, clockwork.NewFakeClock())

	if err := o.handleDue(context.Background(), dueItem{ID: app.phaseID, PhaseBudget: true}); err != nil {
		t.Fatalf("handleDue: %v", err)
	}
	if got := app.phaseCount(app.phaseID); got != 1 {
		t.Errorf("AdvancePhase calls = %d, want 1", got)
	}
}

func TestHandleDueSwallowsRacedTransitions(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	app := newFakeContestApp()
	app.quest = timedQuest(start, 30)
	clock := clockwork.NewFakeClockAt(start.Add(50 * time.Minute))
	o := NewOrchestrator(app, clock)

	item := dueItem{ID: app.quest.ID}
	if err := o.handleDue(context.Background(), item); err != nil {
		t.Fatalf("first handleDue: %v", err)
	}
	// Second fire races: the app reports conflict, the handler stays quiet.
	if err := o.handleDue(context.Background(), item); err != nil {
		t.Fatalf("raced handleDue returned error: %v", err)
	}
	if got := app.advanceCount(app.quest.ID); got != 2 {
		t.Errorf("AdvanceQuest calls = %d, want 2 (second is a no-op)", got)
	}
}

func TestHandleDomainEventWakesOnTimingEvents(t *testing.T) {
	o := NewOrchestrator(newFakeContestApp(), clockwork.NewFakeClock())

	wakes := []string{
		events.TypePhaseStarted,
		events.TypePhaseCompleted,
		events.TypeQuestActivated,
		events.TypeQuestClosed,
		events.TypeEventEnded,
	}
	for _, et := range wakes {
		drain(o.wakeCh)
		if err := o.HandleDomainEvent(context.Background(), et, uuid.New(), nil); err != nil {
			t.Fatalf("HandleDomainEvent(%s): %v", et, err)
		}
		select {
		case <-o.wakeCh:
		default:
			t.Errorf("%s did not wake the scheduler", et)
		}
	}

	quiet := []string{
		events.TypeSubmissionReceived,
		events.TypeEvaluationRecorded,
		events.TypePenaltyAssigned,
		"SomethingElse",
	}
	for _, et := range quiet {
		drain(o.wakeCh)
		if err := o.HandleDomainEvent(context.Background(), et, uuid.New(), nil); err != nil {
			t.Fatalf("HandleDomainEvent(%s): %v", et, err)
		}
		select {
		case <-o.wakeCh:
			t.Errorf("%s woke the scheduler", et)
		default:
		}
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func TestSchedulerFiresAtDeadline(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	app := newFakeContestApp()
	app.quest = timedQuest(start, 30)
	final := start.Add(45 * time.Minute)
	app.deadline = &repository.NextDeadline{QuestID: &app.quest.ID, Deadline: &final}

	clock := clockwork.NewFakeClockAt(start)
	o := NewOrchestrator(app, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunScheduler(ctx) }()

	// Wait for the scheduler to arm its timer, then jump past the deadline.
	clock.BlockUntil(1)
	clock.Advance(46 * time.Minute)

	deadlineOK := waitFor(func() bool { return app.advanceCount(app.quest.ID) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunScheduler: %v", err)
	}
	if !deadlineOK {
		t.Fatalf("AdvanceQuest calls = %d, want 1", app.advanceCount(app.quest.ID))
	}
}

func TestSchedulerSurvivesStoreOutage(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	app := newFakeContestApp()
	app.quest = timedQuest(start, 30)
	due := start.Add(-time.Minute)
	app.deadline = &repository.NextDeadline{QuestID: &app.quest.ID, Deadline: &due}
	// Outlast the short-backoff budget so the idle-interval fallback runs too.
	app.fetchErr = 5

	clock := clockwork.NewFakeClockAt(start)
	o := NewOrchestrator(app, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunScheduler(ctx) }()

	// Walk the scheduler through every failed fetch's backoff sleep.
	for i := 0; i < 6; i++ {
		clock.BlockUntil(1)
		clock.Advance(6 * time.Second)
	}

	advanced := waitFor(func() bool { return app.advanceCount(app.quest.ID) == 1 })

	select {
	case err := <-done:
		t.Fatalf("RunScheduler exited during a transient store outage: %v", err)
	default:
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunScheduler: %v", err)
	}
	if !advanced {
		t.Fatalf("AdvanceQuest calls = %d, want 1 after the store recovered", app.advanceCount(app.quest.ID))
	}
}

// waitFor polls a condition in real time; the scheduler's workers run on
// goroutines the fake clock cannot see.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
