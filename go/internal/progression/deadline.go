// Package progression holds the pure timing and state-transition rules for
// the competition: deadline arithmetic and the quest/phase state machine.
// Nothing in here touches the store or the clock; callers pass "now" in.
package progression

import (
	"time"
)

// DeadlineState classifies where a quest sits relative to its deadline.
type DeadlineState string

const (
	// DeadlineNotStarted means the quest has no start timestamp yet. A quest
	// that never started is never late and never expired.
	DeadlineNotStarted DeadlineState = "NOT_STARTED"
	// DeadlineOnTime means now is within the planned window.
	DeadlineOnTime DeadlineState = "ON_TIME"
	// DeadlineLate means the planned deadline passed but the late-submission
	// window is still open. Submissions are accepted with a penalty.
	DeadlineLate DeadlineState = "LATE"
	// DeadlineExpired means the late window has also closed.
	DeadlineExpired DeadlineState = "EXPIRED"
)

// Deadline is the computed deadline status of a quest at a given instant.
type Deadline struct {
	State DeadlineState
	// MinutesRemaining is the whole minutes until the deadline that applies
	// to the current state: the regular deadline while ON_TIME, the final
	// (late) deadline while LATE, zero otherwise.
	MinutesRemaining int
	// At is the deadline MinutesRemaining counts down to, when one applies.
	At *time.Time
}

// ComputeDeadline evaluates a quest's deadline state.
//
// startedAt nil means the quest was never activated; deadlineMins nil means
// the quest is untimed and always ON_TIME. Both startedAt and now are
// normalized to UTC before any arithmetic: a start timestamp read as local
// time produces multi-hour apparent drift, which is the dominant failure
// mode this guards against.
func ComputeDeadline(startedAt *time.Time, deadlineMins *int, lateWindowMins int, now time.Time) Deadline {
	if startedAt == nil {
		return Deadline{State: DeadlineNotStarted}
	}
	if deadlineMins == nil {
		return Deadline{State: DeadlineOnTime}
	}

	start := startedAt.UTC()
	now = now.UTC()

	regular := start.Add(time.Duration(*deadlineMins) * time.Minute)
	final := regular.Add(time.Duration(lateWindowMins) * time.Minute)

	// States flip at whole-minute resolution: the elapsed seconds within the
	// current minute never count against the team, so EXPIRED begins a full
	// minute past the final deadline.
	elapsed := int(now.Sub(start) / time.Minute)

	switch {
	case elapsed <= *deadlineMins:
		return Deadline{
			State:            DeadlineOnTime,
			MinutesRemaining: *deadlineMins - elapsed,
			At:               &regular,
		}
	case elapsed <= *deadlineMins+lateWindowMins:
		return Deadline{
			State:            DeadlineLate,
			MinutesRemaining: *deadlineMins + lateWindowMins - elapsed,
			At:               &final,
		}
	default:
		return Deadline{State: DeadlineExpired}
	}
}
