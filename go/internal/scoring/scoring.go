// Package scoring converts evaluator inputs into final score deltas. All
// functions are pure; persistence and uniqueness constraints live in the
// submissions store layer.
package scoring

import (
	"fmt"
	"math"

	"github.com/rvera/gauntlet/go/internal/models"
)

const (
	// MultiplierMin and MultiplierMax bound the evaluator-assigned quality
	// factor for non-boss quests.
	MultiplierMin = 1.0
	MultiplierMax = 2.0
)

// ValidateEvaluation checks the evaluator's raw inputs against the quest's
// bounds before any score is computed.
func ValidateEvaluation(basePoints, maxPoints int, multiplier float64) error {
	if basePoints < 0 || basePoints > maxPoints {
		return fmt.Errorf("base points %d outside [0, %d]", basePoints, maxPoints)
	}
	if multiplier < MultiplierMin || multiplier > MultiplierMax {
		return fmt.Errorf("multiplier %.2f outside [%.1f, %.1f]", multiplier, MultiplierMin, MultiplierMax)
	}
	return nil
}

// ComputeSubmissionScore computes a single evaluation's points. Boss quests
// are presented live and scored on base points alone; the multiplier is
// intentionally ignored for them.
func ComputeSubmissionScore(basePoints int, multiplier float64, boss bool) int {
	if boss {
		return basePoints
	}
	return int(math.Round(float64(basePoints) * multiplier))
}

// AggregateEvaluations returns the submission's final score: the rounded
// mean of points across every evaluator who scored it. ok is false when no
// evaluations exist yet, in which case the submission stays pending.
func AggregateEvaluations(evals []models.Evaluation) (score int, ok bool) {
	if len(evals) == 0 {
		return 0, false
	}
	sum := 0
	for _, e := range evals {
		sum += e.Points
	}
	return int(math.Round(float64(sum) / float64(len(evals)))), true
}

// ApplyLatePenalty deducts the late penalty from the aggregated score. No
// floor: heavy penalties can push a submission negative.
func ApplyLatePenalty(avgPoints, latePenalty int) int {
	return avgPoints - latePenalty
}

// RunningTotal computes a team's current score from its evaluated
// submissions and penalty rows. Computed on every read rather than kept as
// a counter, so missed change events can never cause drift. Late-submission
// rows are an audit trail only: their deduction already sits inside the
// submission's final points.
func RunningTotal(finalPoints []int, penalties []models.Penalty) int {
	total := 0
	for _, p := range finalPoints {
		total += p
	}
	for _, p := range penalties {
		if p.Type == models.PenaltyTypeLateSubmission {
			continue
		}
		total -= p.Points
	}
	return total
}
