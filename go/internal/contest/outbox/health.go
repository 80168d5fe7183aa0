package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

type HealthStatus struct {
	Healthy           bool     `json:"healthy"`
	PendingEvents     int      `json:"pending_events"`
	DatabaseConnected bool     `json:"database_connected"`
	NATSConnected     bool     `json:"nats_connected"`
	Errors            []string `json:"errors"`
}

// HealthChecker reports whether the outbox relay's dependencies are alive
// and its backlog is bounded.
type HealthChecker struct {
	db       *sql.DB
	natsConn *nats.Conn
	repo     *Repository

	// backlogAlert is the pending-row count above which the relay is
	// considered unhealthy.
	backlogAlert int
}

func NewHealthChecker(db *sql.DB, natsConn *nats.Conn) *HealthChecker {
	return &HealthChecker{
		db:           db,
		natsConn:     natsConn,
		repo:         NewRepository(db),
		backlogAlert: 1000,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	if err := h.db.PingContext(ctx); err != nil {
		status.DatabaseConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.natsConn != nil {
		status.NATSConnected = h.natsConn.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if status.DatabaseConnected {
		pending, err := h.repo.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > h.backlogAlert {
				status.Healthy = false
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	return status
}

// ServeHTTP exposes the health check as a JSON endpoint.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
