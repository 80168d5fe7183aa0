package submissions

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/common"
	"github.com/rvera/gauntlet/go/internal/models"
)

// ScoringApp defines what the service layer needs from the submissions
// application
type ScoringApp interface {
	SubmitDeliverable(ctx context.Context, teamID, questID uuid.UUID, kind models.DeliverableKind, payloadRef string) (*models.Submission, error)
	RecordEvaluation(ctx context.Context, submissionID, evaluatorID uuid.UUID, basePoints int, multiplier float64, comments string) (*models.Evaluation, error)
	AssignPenalty(ctx context.Context, teamID uuid.UUID, ptype models.PenaltyType, points int, reason string) (*models.Penalty, error)
	GetTeamTotal(ctx context.Context, teamID uuid.UUID) (int, error)
}

// Service exposes submissions, evaluations and penalties over HTTP JSON.
type Service struct {
	app ScoringApp
}

func NewService(app ScoringApp) *Service {
	return &Service{app: app}
}

type submitRequest struct {
	TeamID     string `json:"team_id"`
	QuestID    string `json:"quest_id"`
	Kind       string `json:"kind"`
	PayloadRef string `json:"payload_ref"`
}

type evaluationRequest struct {
	SubmissionID string  `json:"submission_id"`
	EvaluatorID  string  `json:"evaluator_id"`
	BasePoints   int     `json:"base_points"`
	Multiplier   float64 `json:"multiplier"`
	Comments     string  `json:"comments"`
}

type penaltyRequest struct {
	TeamID string `json:"team_id"`
	Type   string `json:"type"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// HandleSubmit handles POST /api/submissions
func (s *Service) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	teamID, err := uuid.Parse(req.TeamID)
	if err != nil {
		http.Error(w, "invalid team_id format", http.StatusBadRequest)
		return
	}
	questID, err := uuid.Parse(req.QuestID)
	if err != nil {
		http.Error(w, "invalid quest_id format", http.StatusBadRequest)
		return
	}

	sub, err := s.app.SubmitDeliverable(r.Context(), teamID, questID, models.DeliverableKind(req.Kind), req.PayloadRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sub)
}

// HandleEvaluate handles POST /api/evaluations
func (s *Service) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req evaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	submissionID, err := uuid.Parse(req.SubmissionID)
	if err != nil {
		http.Error(w, "invalid submission_id format", http.StatusBadRequest)
		return
	}
	evaluatorID, err := uuid.Parse(req.EvaluatorID)
	if err != nil {
		http.Error(w, "invalid evaluator_id format", http.StatusBadRequest)
		return
	}

	eval, err := s.app.RecordEvaluation(r.Context(), submissionID, evaluatorID, req.BasePoints, req.Multiplier, req.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, eval)
}

// HandleAssignPenalty handles POST /api/penalties
func (s *Service) HandleAssignPenalty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req penaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	teamID, err := uuid.Parse(req.TeamID)
	if err != nil {
		http.Error(w, "invalid team_id format", http.StatusBadRequest)
		return
	}

	penalty, err := s.app.AssignPenalty(r.Context(), teamID, models.PenaltyType(req.Type), req.Points, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, penalty)
}

// HandleTeamTotal handles GET /api/teams/{id}/total
func (s *Service) HandleTeamTotal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := r.PathValue("id")
	teamID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid team id format", http.StatusBadRequest)
		return
	}

	total, err := s.app.GetTeamTotal(r.Context(), teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int{"total": total})
}

// RegisterRoutes registers the scoring command routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/submissions", s.HandleSubmit)
	mux.HandleFunc("/api/evaluations", s.HandleEvaluate)
	mux.HandleFunc("/api/penalties", s.HandleAssignPenalty)
	mux.HandleFunc("/api/teams/{id}/total", s.HandleTeamTotal)
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
