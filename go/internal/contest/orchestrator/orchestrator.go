package orchestrator

import (
	"context"
	"errors"
	"sync"
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

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// ContestApp defines what the orchestrator needs from the contest command
// layer. Every advance call is idempotent: the store rejects transitions
// that already happened, so two orchestrator instances firing on the same
// deadline resolve to one effective transition.
type ContestApp interface {
	FetchNextDeadline(ctx context.Context) (*repository.NextDeadline, error)
	GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error)
	AdvanceQuest(ctx context.Context, questID uuid.UUID) error
	ForceAdvanceQuest(ctx context.Context, questID uuid.UUID) error
	AdvancePhase(ctx context.Context, phaseID uuid.UUID) error
}

// dueItem is one unit of work for the pool: a quest whose window elapsed,
// or a phase whose budget ran out.
type dueItem struct {
	ID          uuid.UUID
	PhaseBudget bool
}

type Orchestrator struct {
	app        ContestApp
	clock      Clock
	wakeCh     chan struct{}
	instanceID string // unique ID for this scheduler instance

	// Worker pool configuration
	numWorkers int
	workCh     chan dueItem

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewOrchestrator creates an auto-advance orchestrator with a small worker
// pool.
func NewOrchestrator(app ContestApp, clock Clock) *Orchestrator {
	numWorkers := 4
	return &Orchestrator{
		app:        app,
		clock:      clock,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8], // short ID for logging

		numWorkers: numWorkers,
		workCh:     make(chan dueItem, numWorkers*2), // Buffer to prevent blocking
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler to re-read the next deadline, used when a
// command just changed the timing landscape.
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// HandleDomainEvent routes incoming bus events. Anything that shifts the
// deadline landscape wakes the scheduler; everything else is ignored.
func (o *Orchestrator) HandleDomainEvent(ctx context.Context, eventType string, entityID uuid.UUID, payload []byte) error {
	log.Debug().
		Str("event_type", eventType).
		Str("entity_id", entityID.String()).
		Str("instance", o.instanceID).
		Msg("handling domain event")

	switch eventType {
	case events.TypePhaseStarted, events.TypePhaseCompleted,
		events.TypeQuestActivated, events.TypeQuestClosed:
		o.Wake()
		return nil

	case events.TypeEventEnded:
		log.Info().
			Str("instance", o.instanceID).
			Msg("event ended - scheduler will idle")
		o.Wake()
		return nil

	case events.TypeSubmissionReceived, events.TypeEvaluationRecorded, events.TypePenaltyAssigned:
		// Scoring traffic never moves a deadline.
		return nil

	default:
		log.Warn().
			Str("event_type", eventType).
			Str("instance", o.instanceID).
			Msg("unknown event type - ignoring")
		return nil
	}
}

// RunScheduler loops forever, sleeping until the next deadline and firing
// auto-advances.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.numWorkers).Msg("scheduler started")

	// Start worker pool
	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < o.numWorkers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	// Ensure workers are cleaned up
	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		cancelWorkers()
		close(o.workCh)
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	timer := o.clock.NewTimer(0)
	defer timer.Stop()

	const idlePollDuration = 5 * time.Second
	retryCount := 0
	const maxRetries = 3

	for {
		select {
		case <-o.wakeCh:
			log.Debug().Str("instance", o.instanceID).Msg("drained wake channel")
		default:
		}

		nd, err := o.app.FetchNextDeadline(ctx)
		if err != nil {
			// Store errors are never fatal: back off, then fall back to the
			// idle interval until the store comes back.
			retryCount++
			backoff := time.Second * time.Duration(retryCount)
			if retryCount > maxRetries {
				backoff = idlePollDuration
			}
			log.Error().
				Err(err).
				Int("retry", retryCount).
				Str("instance", o.instanceID).
				Msg("error fetching next deadline, retrying")
			timer.Reset(backoff)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			case <-o.wakeCh:
				continue
			}
		}
		retryCount = 0 // Reset on success

		if nd.Deadline == nil {
			// Nothing timed is running - idle with timer reuse
			log.Debug().Str("instance", o.instanceID).Msg("no deadline pending; polling again in 5s")
			timer.Reset(idlePollDuration)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				log.Info().Str("instance", o.instanceID).Msg("shutdown during idle")
				return nil
			case <-o.wakeCh:
				log.Debug().Str("instance", o.instanceID).Msg("woken up from idle")
				continue
			}
		}

		wait := nd.Deadline.Sub(o.clock.Now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
				log.Info().Str("instance", o.instanceID).Msg("timer fired - dispatching due work")
			case <-ctx.Done():
				log.Info().Str("instance", o.instanceID).Msg("shutdown during wait")
				return nil
			case <-o.wakeCh:
				log.Debug().Str("instance", o.instanceID).Msg("woken up early - new sooner deadline")
				continue
			}
		}

		item := dueItem{}
		switch {
		case nd.QuestID != nil:
			item.ID = *nd.QuestID
		case nd.PhaseID != nil:
			item.ID = *nd.PhaseID
			item.PhaseBudget = true
		default:
			continue
		}

		o.inFlightMu.Lock()
		if o.inFlight[item.ID] {
			o.inFlightMu.Unlock()
			log.Debug().Str("id", item.ID.String()).Str("instance", o.instanceID).Msg("skipping item already in flight")
			// Another worker owns this deadline; back off until it resolves.
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			case <-o.wakeCh:
				continue
			}
		}
		o.inFlight[item.ID] = true
		o.inFlightMu.Unlock()

		select {
		case <-ctx.Done():
			o.inFlightMu.Lock()
			delete(o.inFlight, item.ID)
			o.inFlightMu.Unlock()
			log.Info().Str("instance", o.instanceID).Msg("shutdown while queueing due work")
			return nil
		case o.workCh <- item:
			log.Debug().Str("id", item.ID.String()).Str("instance", o.instanceID).Msg("queued due item for worker")
		}
	}
}

// handleDue fires the right advance command for a due item. Errors that
// mean "someone else already did it" are swallowed; real failures are
// returned and retried on the next scheduler tick.
func (o *Orchestrator) handleDue(ctx context.Context, item dueItem) error {
	if item.PhaseBudget {
		log.Info().Str("phase_id", item.ID.String()).Msg("phase budget elapsed - advancing phase")
		err := o.app.AdvancePhase(ctx, item.ID)
		return ignoreRaced(err)
	}

	quest, err := o.app.GetQuest(ctx, item.ID)
	if err != nil {
		return ignoreRaced(err)
	}

	if progression.Stalled(quest, o.clock.Now()) {
		log.Warn().
			Str("quest_id", quest.ID.String()).
			Str("quest", quest.Name).
			Msg("quest overran the stall clamp - force advancing")
		return ignoreRaced(o.app.ForceAdvanceQuest(ctx, item.ID))
	}

	log.Info().
		Str("quest_id", quest.ID.String()).
		Str("quest", quest.Name).
		Msg("quest window elapsed - advancing")
	return ignoreRaced(o.app.AdvanceQuest(ctx, item.ID))
}

// ignoreRaced drops errors that signal a concurrent instance already
// applied the transition.
func ignoreRaced(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrConflict) {
		log.Debug().Err(err).Msg("transition already applied elsewhere")
		return nil
	}
	return err
}

// worker processes due items from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Info().
		Str("instance", o.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case item, ok := <-o.workCh:
			if !ok {
				log.Info().
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("work channel closed, worker shutting down")
				return
			}

			if err := o.handleDue(ctx, item); err != nil {
				log.Error().
					Err(err).
					Str("id", item.ID.String()).
					Str("instance", o.instanceID).
					Int("worker_id", workerID).
					Msg("worker advance failed")
			}

			// Clean up in-flight tracking regardless of success/failure
			o.inFlightMu.Lock()
			delete(o.inFlight, item.ID)
			o.inFlightMu.Unlock()

			// The landscape changed; have the scheduler re-read it.
			o.Wake()
		}
	}
}
