package gateway

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for dashboard viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleViewerConnection handles WebSocket connections for dashboards
func (h *WebSocketHandler) HandleViewerConnection(w http.ResponseWriter, r *http.Request) {
	// In production, this would come from JWT token or session
	viewerID := r.URL.Query().Get("viewer_id")
	if viewerID == "" {
		// For development, allow anonymous viewers
		viewerID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, viewerID); err != nil {
		log.Error().
			Err(err).
			Str("viewer_id", viewerID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("{\"total_connections\":" + strconv.Itoa(stats["total_connections"].(int)) + "}"))
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/live", h.HandleViewerConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
