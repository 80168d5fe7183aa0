package progression

import (
	"time"

	"github.com/rvera/gauntlet/go/internal/models"
)

// questTransitions is the quest state machine: scheduled → active → closed →
// completed. Self-transitions are allowed so that racing advance commands
// stay idempotent.
var questTransitions = map[models.QuestStatus][]models.QuestStatus{
	models.QuestStatusScheduled: {models.QuestStatusActive},
	models.QuestStatusActive:    {models.QuestStatusClosed, models.QuestStatusCompleted},
	models.QuestStatusClosed:    {models.QuestStatusCompleted},
}

// phaseTransitions is the phase state machine: scheduled → in_progress →
// completed.
var phaseTransitions = map[models.PhaseStatus][]models.PhaseStatus{
	models.PhaseStatusScheduled:  {models.PhaseStatusInProgress},
	models.PhaseStatusInProgress: {models.PhaseStatusCompleted},
}

// QuestTransitionAllowed reports whether a quest may move from one status to
// another. The same status is always allowed: re-issuing a transition an
// independent client already applied is a no-op, not an error.
func QuestTransitionAllowed(from, to models.QuestStatus) bool {
	if from == to {
		return true
	}
	for _, next := range questTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PhaseTransitionAllowed reports whether a phase may move between statuses,
// with the same idempotence rule as quests.
func PhaseTransitionAllowed(from, to models.PhaseStatus) bool {
	if from == to {
		return true
	}
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanActivateQuest reports whether the quest may become ACTIVE: it must be
// SCHEDULED and its phase must already be IN_PROGRESS. Enforces the
// one-active-quest rule together with the caller closing the previous quest
// first.
func CanActivateQuest(quest *models.Quest, phase *models.Phase) bool {
	return quest.Status == models.QuestStatusScheduled &&
		phase.Status == models.PhaseStatusInProgress
}

// QuestTerminal reports whether the quest can no longer change.
func QuestTerminal(status models.QuestStatus) bool {
	return status == models.QuestStatusClosed || status == models.QuestStatusCompleted
}

// PhaseBudgetEnd is the instant the phase's whole time budget (the sum of
// its quests' planned plus late-window minutes) runs out. Nil for phases
// that never started or carry no timed quests; phases.total_mins is display
// metadata and takes no part in this.
func PhaseBudgetEnd(phase *models.Phase, quests []models.Quest) *time.Time {
	if phase.StartedAt == nil {
		return nil
	}
	total := 0
	for i := range quests {
		total += quests[i].TotalWindowMins()
	}
	if total == 0 {
		return nil
	}
	end := phase.StartedAt.UTC().Add(time.Duration(total) * time.Minute)
	return &end
}

// PhaseElapsed reports whether the phase's time budget has passed.
func PhaseElapsed(phase *models.Phase, quests []models.Quest, now time.Time) bool {
	end := PhaseBudgetEnd(phase, quests)
	return end != nil && now.UTC().After(*end)
}

// NextQuest returns the quest with the lowest order index that is still
// SCHEDULED, or nil when the phase has none left.
func NextQuest(quests []models.Quest) *models.Quest {
	var next *models.Quest
	for i := range quests {
		q := &quests[i]
		if q.Status != models.QuestStatusScheduled {
			continue
		}
		if next == nil || q.OrderIdx < next.OrderIdx {
			next = q
		}
	}
	return next
}

// ActiveQuest returns the phase's single active quest, or nil.
func ActiveQuest(quests []models.Quest) *models.Quest {
	for i := range quests {
		if quests[i].Status == models.QuestStatusActive {
			return &quests[i]
		}
	}
	return nil
}

// StallClamp is how long past its final deadline an active quest may run
// before the controller force-advances it. Corrupted or test-mode start
// timestamps would otherwise stall the event forever.
const StallClamp = 60 * time.Minute

// Stalled reports whether an active quest has overrun every plausible
// deadline. Untimed quests never stall.
func Stalled(quest *models.Quest, now time.Time) bool {
	if quest.StartedAt == nil || quest.DeadlineMins == nil {
		return false
	}
	final := quest.StartedAt.UTC().Add(time.Duration(quest.TotalWindowMins()) * time.Minute)
	return now.UTC().Sub(final) > StallClamp
}
