package gateway

import (
	"time"

	"github.com/rvera/gauntlet/go/internal/contest/events"
)

// Collection names viewers can watch. A viewer never sees domain payloads,
// only which collection went stale; it re-fetches the whole collection
// through the state endpoints.
const (
	CollectionEvent       = "event"
	CollectionPhases      = "phases"
	CollectionQuests      = "quests"
	CollectionSubmissions = "submissions"
	CollectionEvaluations = "evaluations"
	CollectionStandings   = "standings"
)

// ViewerEvent is the only message shape pushed over WebSocket.
type ViewerEvent struct {
	Type       string    `json:"type"` // always "CollectionChanged"
	Collection string    `json:"collection"`
	Timestamp  time.Time `json:"timestamp"`
}

const ViewerEventTypeCollectionChanged = "CollectionChanged"

// NewCollectionChanged builds a viewer event for a stale collection.
func NewCollectionChanged(collection string, at time.Time) *ViewerEvent {
	return &ViewerEvent{
		Type:       ViewerEventTypeCollectionChanged,
		Collection: collection,
		Timestamp:  at,
	}
}

// CollectionsFor maps a domain event type to the collections it staled.
func CollectionsFor(eventType string) []string {
	switch eventType {
	case events.TypePhaseStarted, events.TypePhaseCompleted:
		return []string{CollectionEvent, CollectionPhases, CollectionQuests}
	case events.TypeQuestActivated, events.TypeQuestClosed:
		return []string{CollectionQuests}
	case events.TypeSubmissionReceived:
		return []string{CollectionSubmissions, CollectionStandings}
	case events.TypeEvaluationRecorded:
		return []string{CollectionEvaluations, CollectionSubmissions, CollectionStandings}
	case events.TypePenaltyAssigned:
		return []string{CollectionStandings}
	case events.TypeEventEnded:
		return []string{CollectionEvent, CollectionPhases, CollectionQuests}
	default:
		return nil
	}
}
