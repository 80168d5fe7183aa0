// Package contest implements the progression command layer: starting
// phases, advancing quests, and the event-end sequence. Commands validate
// synchronously and never leave partial state behind that idempotent
// re-issue cannot repair; the store's conditional updates are the final
// arbiter when independent processes race.
package contest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/contest/events"
	"github.com/rvera/gauntlet/go/internal/contest/repository"
	"github.com/rvera/gauntlet/go/internal/models"
	"github.com/rvera/gauntlet/go/internal/progression"
)

// ContestRepository defines what the app layer needs from the repository
type ContestRepository interface {
	GetEvent(ctx context.Context) (*models.Event, error)
	SetCurrentPhase(ctx context.Context, eventID uuid.UUID, phaseNumber int) (*models.Event, error)
	EndEvent(ctx context.Context, eventID uuid.UUID, evaluationEndsAt, endsAt time.Time) (*models.Event, error)
	GetPhase(ctx context.Context, id uuid.UUID) (*models.Phase, error)
	GetPhaseByNumber(ctx context.Context, eventID uuid.UUID, number int) (*models.Phase, error)
	ListPhases(ctx context.Context, eventID uuid.UUID) ([]models.Phase, error)
	StartPhase(ctx context.Context, phaseID uuid.UUID, startedAt time.Time) (*models.Phase, error)
	CompletePhase(ctx context.Context, phaseID uuid.UUID, completedAt time.Time) (*models.Phase, error)
	GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error)
	ListQuestsByPhase(ctx context.Context, phaseID uuid.UUID) ([]models.Quest, error)
	ActivateQuest(ctx context.Context, id uuid.UUID, startedAt time.Time) (*models.Quest, error)
	CloseQuest(ctx context.Context, id uuid.UUID, closedAt time.Time) (*models.Quest, error)
	CompleteQuestsForPhase(ctx context.Context, phaseID uuid.UUID) error
	FetchNextDeadline(ctx context.Context) (*repository.NextDeadline, error)
}

// OutboxApp defines what the app layer needs from the outbox
type OutboxApp interface {
	Insert(ctx context.Context, eventType string, entityID uuid.UUID, payload []byte) error
}

// Config holds the progression settings not derivable from the store.
type Config struct {
	EvaluationPeriodMins int // countdown for evaluators after the last phase
	FinalCountdownMins   int // countdown from evaluation end to hard event end
}

// App handles progression business logic. It owns no global state: every
// instance is created and torn down with its controlling process.
type App struct {
	repo   ContestRepository
	outbox OutboxApp
	clock  clockwork.Clock
	cfg    Config
}

// NewApp creates a new contest App
func NewApp(repo ContestRepository, outbox OutboxApp, clock clockwork.Clock, cfg Config) *App {
	return &App{
		repo:   repo,
		outbox: outbox,
		clock:  clock,
		cfg:    cfg,
	}
}

// StartPhase sets the event's current phase, stamps the phase start, and
// auto-activates the phase's first quest. Phase 0 is the preparation
// pseudo-phase; reactivating it while the event runs ends the event. That
// is intentional behavior carried over from the admin console, and easy to
// trigger accidentally, so it is logged loudly.
func (a *App) StartPhase(ctx context.Context, phaseNumber int) (*models.Event, error) {
	event, err := a.repo.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if phaseNumber == 0 {
		log.Warn().Msg("phase 0 requested while event is running: ending the event")
		return a.EndEvent(ctx)
	}

	if event.Ended {
		return nil, fmt.Errorf("%w: event already ended", common.ErrEventNotActive)
	}

	phase, err := a.repo.GetPhaseByNumber(ctx, event.ID, phaseNumber)
	if err != nil {
		return nil, fmt.Errorf("phase %d: %w", phaseNumber, err)
	}
	if !progression.PhaseTransitionAllowed(phase.Status, models.PhaseStatusInProgress) {
		return nil, fmt.Errorf("%w: phase %d is %s", common.ErrConflict, phaseNumber, phase.Status)
	}

	now := a.clock.Now().UTC()
	phase, err = a.repo.StartPhase(ctx, phase.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to start phase: %w", err)
	}
	event, err = a.repo.SetCurrentPhase(ctx, event.ID, phaseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to set current phase: %w", err)
	}

	a.emitPhaseStarted(ctx, phase)

	// Auto-activate the phase's first scheduled quest.
	quests, err := a.repo.ListQuestsByPhase(ctx, phase.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quests: %w", err)
	}
	if progression.ActiveQuest(quests) == nil {
		if first := progression.NextQuest(quests); first != nil {
			if err := a.activateQuest(ctx, first, phase, now); err != nil {
				return nil, err
			}
		}
	}

	log.Info().
		Int("phase", phaseNumber).
		Str("phase_name", phase.Name).
		Msg("phase started")
	return event, nil
}

// AdvanceQuest idempotently closes a quest and activates the next one, or
// completes the phase when it was the last. Advancing an already-closed
// quest is a no-op; two racing advance commands converge on the same state.
func (a *App) AdvanceQuest(ctx context.Context, questID uuid.UUID) error {
	return a.advanceQuest(ctx, questID, false)
}

// ForceAdvanceQuest is AdvanceQuest with the clamp flag, used by the
// controller when a quest has overrun every plausible deadline.
func (a *App) ForceAdvanceQuest(ctx context.Context, questID uuid.UUID) error {
	return a.advanceQuest(ctx, questID, true)
}

func (a *App) advanceQuest(ctx context.Context, questID uuid.UUID, forced bool) error {
	quest, err := a.repo.GetQuest(ctx, questID)
	if err != nil {
		return fmt.Errorf("quest %s: %w", questID, err)
	}
	if progression.QuestTerminal(quest.Status) {
		return nil // already advanced, nothing to do
	}
	if quest.Status == models.QuestStatusScheduled {
		return fmt.Errorf("%w: quest %s has not been activated", common.ErrConflict, questID)
	}

	now := a.clock.Now().UTC()
	closed, err := a.repo.CloseQuest(ctx, questID, now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// A concurrent advance got here first; the store arbitrated.
			log.Debug().Str("quest_id", questID.String()).Msg("quest already closed by a racing advance")
		} else {
			return fmt.Errorf("failed to close quest: %w", err)
		}
	} else {
		a.emitQuestClosed(ctx, closed, forced)
	}

	phase, err := a.repo.GetPhase(ctx, quest.PhaseID)
	if err != nil {
		return fmt.Errorf("phase for quest %s: %w", questID, err)
	}
	quests, err := a.repo.ListQuestsByPhase(ctx, phase.ID)
	if err != nil {
		return fmt.Errorf("failed to list quests: %w", err)
	}

	if next := progression.NextQuest(quests); next != nil {
		return a.activateQuest(ctx, next, phase, now)
	}
	return a.completePhase(ctx, phase, now)
}

// AdvancePhase completes a phase whose whole time budget has elapsed with
// no quest left active, then starts the next phase or triggers event end.
// Used by the controller; admins go through StartPhase.
func (a *App) AdvancePhase(ctx context.Context, phaseID uuid.UUID) error {
	phase, err := a.repo.GetPhase(ctx, phaseID)
	if err != nil {
		return fmt.Errorf("phase %s: %w", phaseID, err)
	}
	if phase.Status == models.PhaseStatusCompleted {
		return nil
	}
	return a.completePhase(ctx, phase, a.clock.Now().UTC())
}

func (a *App) activateQuest(ctx context.Context, quest *models.Quest, phase *models.Phase, now time.Time) error {
	if !progression.CanActivateQuest(quest, phase) {
		return fmt.Errorf("%w: quest %s cannot activate in phase status %s", common.ErrConflict, quest.ID, phase.Status)
	}
	activated, err := a.repo.ActivateQuest(ctx, quest.ID, now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// Another process activated it; started_at was stamped once either way.
			return nil
		}
		return fmt.Errorf("failed to activate quest: %w", err)
	}

	// A start stamp in the future, or a deadline already blown at
	// activation, means a skewed or corrupted clock somewhere. The
	// controller's clamp deals with the fallout; here it is only logged.
	if d := progression.ComputeDeadline(activated.StartedAt, activated.DeadlineMins, activated.LateWindowMins, now); d.State == progression.DeadlineExpired {
		log.Warn().
			Str("quest_id", activated.ID.String()).
			Time("started_at", *activated.StartedAt).
			Msg("quest expired at activation: clock skew suspected")
	}

	a.emitQuestActivated(ctx, activated, now)
	log.Info().
		Str("quest_id", activated.ID.String()).
		Str("quest_name", activated.Name).
		Int("order_idx", activated.OrderIdx).
		Msg("quest activated")
	return nil
}

func (a *App) completePhase(ctx context.Context, phase *models.Phase, now time.Time) error {
	completed, err := a.repo.CompletePhase(ctx, phase.ID, now)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil // racing completion already landed
		}
		return fmt.Errorf("failed to complete phase: %w", err)
	}
	if err := a.repo.CompleteQuestsForPhase(ctx, phase.ID); err != nil {
		return err
	}
	a.emitPhaseCompleted(ctx, completed)
	log.Info().Int("phase", completed.Number).Msg("phase completed")

	event, err := a.repo.GetEvent(ctx)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", err)
	}
	phases, err := a.repo.ListPhases(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to list phases: %w", err)
	}
	if completed.Number == len(phases) {
		// Terminal phase: run the event-end sequence.
		if _, err := a.EndEvent(ctx); err != nil {
			return err
		}
		return nil
	}

	_, err = a.StartPhase(ctx, completed.Number+1)
	return err
}

// EndEvent marks the event ended and arms the evaluation-period and final
// countdowns. Idempotent: the stamps are written once.
func (a *App) EndEvent(ctx context.Context) (*models.Event, error) {
	event, err := a.repo.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	now := a.clock.Now().UTC()
	evalEnds := now.Add(time.Duration(a.cfg.EvaluationPeriodMins) * time.Minute)
	endsAt := evalEnds.Add(time.Duration(a.cfg.FinalCountdownMins) * time.Minute)

	alreadyEnded := event.Ended
	event, err = a.repo.EndEvent(ctx, event.ID, evalEnds, endsAt)
	if err != nil {
		return nil, fmt.Errorf("failed to end event: %w", err)
	}
	if !alreadyEnded {
		a.emitEventEnded(ctx, event, now)
		log.Info().
			Time("evaluation_ends_at", *event.EvaluationEndsAt).
			Time("ends_at", *event.EndsAt).
			Msg("event ended, evaluation period running")
	}
	return event, nil
}

// Snapshot is the read model for dashboards: the event, every phase with
// its quests, and the active quest's computed deadline.
type Snapshot struct {
	Event         *models.Event         `json:"event"`
	Phases        []PhaseSnapshot       `json:"phases"`
	ActiveQuestID *uuid.UUID            `json:"active_quest_id,omitempty"`
	Deadline      *progression.Deadline `json:"deadline,omitempty"`
}

// PhaseSnapshot pairs a phase with its quests.
type PhaseSnapshot struct {
	Phase  models.Phase   `json:"phase"`
	Quests []models.Quest `json:"quests"`
}

// GetSnapshot assembles the current event/phase/quest view.
func (a *App) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	event, err := a.repo.GetEvent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	phases, err := a.repo.ListPhases(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phases: %w", err)
	}

	snap := &Snapshot{Event: event}
	event.PhaseStartedAt = make([]time.Time, len(phases))
	now := a.clock.Now().UTC()

	for i, phase := range phases {
		quests, err := a.repo.ListQuestsByPhase(ctx, phase.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list quests: %w", err)
		}
		snap.Phases = append(snap.Phases, PhaseSnapshot{Phase: phase, Quests: quests})
		if phase.StartedAt != nil {
			event.PhaseStartedAt[i] = *phase.StartedAt
		}
		if active := progression.ActiveQuest(quests); active != nil {
			d := progression.ComputeDeadline(active.StartedAt, active.DeadlineMins, active.LateWindowMins, now)
			snap.ActiveQuestID = &active.ID
			snap.Deadline = &d
		}
	}
	return snap, nil
}

// FetchNextDeadline exposes the scheduler's wake-up computation.
func (a *App) FetchNextDeadline(ctx context.Context) (*repository.NextDeadline, error) {
	return a.repo.FetchNextDeadline(ctx)
}

// GetQuest exposes a single quest read.
func (a *App) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	return a.repo.GetQuest(ctx, id)
}

func (a *App) emitPhaseStarted(ctx context.Context, phase *models.Phase) {
	payload := events.PhaseStartedPayload{
		PhaseID:     phase.ID.String(),
		PhaseNumber: phase.Number,
		PhaseName:   phase.Name,
		StartedAt:   *phase.StartedAt,
		TotalMins:   phase.TotalMins,
	}
	a.emit(ctx, events.TypePhaseStarted, phase.ID, payload)
}

func (a *App) emitPhaseCompleted(ctx context.Context, phase *models.Phase) {
	payload := events.PhaseCompletedPayload{
		PhaseID:     phase.ID.String(),
		PhaseNumber: phase.Number,
		CompletedAt: *phase.CompletedAt,
	}
	a.emit(ctx, events.TypePhaseCompleted, phase.ID, payload)
}

func (a *App) emitQuestActivated(ctx context.Context, quest *models.Quest, now time.Time) {
	payload := events.QuestActivatedPayload{
		QuestID:   quest.ID.String(),
		PhaseID:   quest.PhaseID.String(),
		QuestName: quest.Name,
		OrderIdx:  quest.OrderIdx,
		StartedAt: *quest.StartedAt,
	}
	if d := progression.ComputeDeadline(quest.StartedAt, quest.DeadlineMins, quest.LateWindowMins, now); d.At != nil {
		payload.DeadlineAt = d.At
		final := quest.StartedAt.UTC().Add(time.Duration(quest.TotalWindowMins()) * time.Minute)
		payload.FinalDeadlineAt = &final
	}
	a.emit(ctx, events.TypeQuestActivated, quest.ID, payload)
}

func (a *App) emitQuestClosed(ctx context.Context, quest *models.Quest, forced bool) {
	payload := events.QuestClosedPayload{
		QuestID:  quest.ID.String(),
		PhaseID:  quest.PhaseID.String(),
		ClosedAt: *quest.ClosedAt,
		Forced:   forced,
	}
	a.emit(ctx, events.TypeQuestClosed, quest.ID, payload)
}

func (a *App) emitEventEnded(ctx context.Context, event *models.Event, endedAt time.Time) {
	payload := events.EventEndedPayload{
		EventID:          event.ID.String(),
		EndedAt:          endedAt,
		EvaluationEndsAt: *event.EvaluationEndsAt,
		EndsAt:           *event.EndsAt,
	}
	a.emit(ctx, events.TypeEventEnded, event.ID, payload)
}

// emit inserts an outbox row. Failures are logged, not raised: viewers
// catch up through the sync channel's poll fallback, and the command itself
// already succeeded.
func (a *App) emit(ctx context.Context, eventType string, entityID uuid.UUID, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		return
	}
	if err := a.outbox.Insert(ctx, eventType, entityID, data); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert outbox event")
	}
}
