package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"sprintwatch/internal/engine/client"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/repositories"
)

type HealthHandler struct {
	db           *sql.DB
	integrations *repositories.IntegrationRepository
	cursors      *repositories.CursorRepository
	clients      *client.Registry
}

func NewHealthHandler(db *sql.DB, integrations *repositories.IntegrationRepository,
	cursors *repositories.CursorRepository, clients *client.Registry) *HealthHandler {
	return &HealthHandler{db: db, integrations: integrations, cursors: cursors, clients: clients}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	if err := h.db.Ping(); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
	} else {
		checks["database"] = "healthy"
	}

	status := "healthy"
	for _, check := range checks {
		if len(check) >= 9 && check[:9] == "unhealthy" {
			status = "degraded"
			break
		}
	}

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

type integrationHealth struct {
	IntegrationID      string `json:"integration_id"`
	Provider           string `json:"provider"`
	Status             string `json:"status"`
	BreakerState       string `json:"breaker_state"`
	RateLimitRemaining *int   `json:"rate_limit_remaining,omitempty"`
	RateLimitResetAt   int64  `json:"rate_limit_reset_at,omitempty"`
	LastSyncAt         int64  `json:"last_sync_at,omitempty"`
}

// Integrations reports per-integration upstream health: breaker state,
// last observed rate-limit budget, and sync progress.
func (h *HealthHandler) Integrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := h.integrations.ListActive()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list integrations", nil)
		return
	}

	report := make([]integrationHealth, 0, len(integrations))
	for _, integration := range integrations {
		entry := integrationHealth{
			IntegrationID: integration.ID,
			Provider:      integration.Provider,
			Status:        integration.Status,
			BreakerState:  "closed",
		}

		if c, ok := h.clients.Get(integration.ID); ok {
			entry.BreakerState = c.BreakerState().String()
			if limit, known := c.RateLimit(); known {
				remaining := limit.Remaining
				entry.RateLimitRemaining = &remaining
				entry.RateLimitResetAt = limit.ResetAt.Unix()
			}
		}

		cursor, err := h.cursors.Get(integration.ID)
		if err == nil && cursor != nil {
			entry.LastSyncAt = cursor.LastSyncAt
		}

		report = append(report, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
