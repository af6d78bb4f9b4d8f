package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
	"sprintwatch/internal/workers"
)

type EventHandler struct {
	events    *repositories.EventRepository
	processor *workers.EventProcessor
}

func NewEventHandler(events *repositories.EventRepository, processor *workers.EventProcessor) *EventHandler {
	return &EventHandler{events: events, processor: processor}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.EventDead
	}
	switch status {
	case models.EventPending, models.EventProcessing, models.EventCompleted, models.EventFailed, models.EventDead:
	default:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown event status", nil)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	events, err := h.events.ListByStatus(status, limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list events", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("event_id")

	event, err := h.events.GetByID(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load event", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

// Replay re-admits a dead event into the retry pipeline with a fresh
// retry budget.
func (h *EventHandler) Replay(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("event_id")

	event, err := h.events.GetByID(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load event", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}
	if event.Status != models.EventDead {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Only dead events can be replayed", nil)
		return
	}

	if err := h.processor.Replay(event); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to replay event", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"event_id": event.ID,
		"status":   models.EventPending,
	})
}
