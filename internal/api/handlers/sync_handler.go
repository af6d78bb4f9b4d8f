package handlers

import (
	"encoding/json"
	"net/http"

	"sprintwatch/internal/engine/sync"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
	"sprintwatch/internal/workers"
)

type SyncHandler struct {
	integrations *IntegrationHandler
	cursors      *repositories.CursorRepository
	scheduler    *sync.Scheduler
	queue        *queue.Queue
}

func NewSyncHandler(integrations *IntegrationHandler, cursors *repositories.CursorRepository,
	scheduler *sync.Scheduler, q *queue.Queue) *SyncHandler {
	return &SyncHandler{integrations: integrations, cursors: cursors, scheduler: scheduler, queue: q}
}

// Trigger enqueues a sync job for the worker pool instead of running
// the pass in the request goroutine. The scheduler's running guard
// still applies when the worker picks it up.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.integrations.loadOwned(w, r)
	if !ok {
		return
	}
	if integration.Status != "active" {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Integration is disabled", nil)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Mode == "" {
		req.Mode = sync.ModeIncremental
	}
	if req.Mode != sync.ModeFull && req.Mode != sync.ModeIncremental {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "mode must be full or incremental", nil)
		return
	}

	if h.scheduler.Running(integration.ID) {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Sync already running for integration", nil)
		return
	}

	payload, err := json.Marshal(workers.SyncJobPayload{IntegrationID: integration.ID, Mode: req.Mode})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to encode sync job", nil)
		return
	}
	jobID, err := h.queue.Enqueue(workers.SyncTopic, payload, queue.EnqueueOptions{MaxAttempts: workers.SyncJobMaxAttempts})
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to enqueue sync job", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id": jobID,
		"mode":   req.Mode,
	})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.integrations.loadOwned(w, r)
	if !ok {
		return
	}

	cursor, err := h.cursors.Get(integration.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load sync cursor", nil)
		return
	}

	resp := map[string]interface{}{
		"integration_id": integration.ID,
		"running":        h.scheduler.Running(integration.ID),
		"cursor":         cursor, // null until the first pass completes
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
