package contest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/models"
)

// ProgressionApp defines what the service layer needs from the contest
// application
type ProgressionApp interface {
	StartPhase(ctx context.Context, phaseNumber int) (*models.Event, error)
	AdvanceQuest(ctx context.Context, questID uuid.UUID) error
	ForceAdvanceQuest(ctx context.Context, questID uuid.UUID) error
	EndEvent(ctx context.Context) (*models.Event, error)
	GetSnapshot(ctx context.Context) (*Snapshot, error)
}

// Waker lets commands nudge the auto-advance scheduler after a write.
type Waker interface {
	Wake()
}

// Service exposes the progression commands over HTTP JSON.
type Service struct {
	app   ProgressionApp
	waker Waker
}

// NewService creates the contest command service. waker may be nil when no
// in-process scheduler runs.
func NewService(app ProgressionApp, waker Waker) *Service {
	return &Service{
		app:   app,
		waker: waker,
	}
}

type startPhaseRequest struct {
	PhaseNumber int `json:"phase_number"`
}

type advanceQuestRequest struct {
	QuestID string `json:"quest_id"`
	Force   bool   `json:"force,omitempty"`
}

// HandleStartPhase handles POST /api/phases/start. Phase number zero stops
// the event.
func (s *Service) HandleStartPhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startPhaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	event, err := s.app.StartPhase(r.Context(), req.PhaseNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	s.wake()
	writeJSON(w, event)
}

// HandleAdvanceQuest handles POST /api/quests/advance
func (s *Service) HandleAdvanceQuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req advanceQuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	questID, err := uuid.Parse(req.QuestID)
	if err != nil {
		http.Error(w, "invalid quest_id format", http.StatusBadRequest)
		return
	}

	if req.Force {
		err = s.app.ForceAdvanceQuest(r.Context(), questID)
	} else {
		err = s.app.AdvanceQuest(r.Context(), questID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.wake()

	snapshot, err := s.app.GetSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, snapshot)
}

// HandleEndEvent handles POST /api/event/end
func (s *Service) HandleEndEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	event, err := s.app.EndEvent(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.wake()
	writeJSON(w, event)
}

// RegisterRoutes registers the progression command routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/phases/start", s.HandleStartPhase)
	mux.HandleFunc("/api/quests/advance", s.HandleAdvanceQuest)
	mux.HandleFunc("/api/event/end", s.HandleEndEvent)
}

func (s *Service) wake() {
	if s.waker != nil {
		s.waker.Wake()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := common.HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("command failed")
	}
	http.Error(w, err.Error(), status)
}
