package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rvera/gauntlet/go/internal/common"
)

// StateHandler handles HTTP requests for event state
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetSnapshot handles GET /api/state
func (h *StateHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := h.stateProvider.GetSnapshot(r.Context())
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			http.Error(w, "No event configured", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Msg("failed to get snapshot")
		http.Error(w, "Failed to get snapshot", http.StatusInternalServerError)
		return
	}

	writeJSON(w, snapshot)
}

// HandleGetStandings handles GET /api/standings
func (h *StateHandler) HandleGetStandings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	standings, err := h.stateProvider.GetStandings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get standings")
		http.Error(w, "Failed to get standings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, standings)
}

// HandleGetEvaluatorHistory handles GET /api/evaluators/{id}/evaluations
func (h *StateHandler) HandleGetEvaluatorHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	evaluatorIDStr := extractEvaluatorIDFromPath(r.URL.Path)
	if evaluatorIDStr == "" {
		http.Error(w, "Evaluator ID is required", http.StatusBadRequest)
		return
	}
	evaluatorID, err := uuid.Parse(evaluatorIDStr)
	if err != nil {
		http.Error(w, "Invalid evaluator ID format", http.StatusBadRequest)
		return
	}

	history, err := h.stateProvider.GetEvaluatorHistory(r.Context(), evaluatorID)
	if err != nil {
		log.Error().Err(err).Str("evaluator_id", evaluatorID.String()).Msg("failed to get evaluator history")
		http.Error(w, "Failed to get evaluator history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, history)
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.HandleGetSnapshot)
	mux.HandleFunc("/api/standings", h.HandleGetStandings)
	mux.HandleFunc("/api/evaluators/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/evaluations") {
			h.HandleGetEvaluatorHistory(w, r)
		} else {
			http.NotFound(w, r)
		}
	})
}

// extractEvaluatorIDFromPath extracts the ID from /api/evaluators/{id}/evaluations
func extractEvaluatorIDFromPath(path string) string {
	const prefix = "/api/evaluators/"
	const suffix = "/evaluations"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
