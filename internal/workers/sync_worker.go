package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/sync"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

// SyncTopic carries operator-triggered sync jobs from the API to the
// worker process.
const SyncTopic = "sync"

// SyncJobMaxAttempts gives a triggered sync that races a scheduled pass
// room to be released and retried instead of parking dead on its first
// attempt.
const SyncJobMaxAttempts = 3

type SyncJobPayload struct {
	IntegrationID string `json:"integration_id"`
	Mode          string `json:"mode"`
}

// SyncRunner runs one guarded sync pass. Implemented by the scheduler.
type SyncRunner interface {
	RunOnce(ctx context.Context, integration *models.Integration, mode string) (*sync.Stats, error)
}

// SyncWorker consumes operator-triggered sync jobs. The scheduler's
// per-integration guard applies here too, so a triggered sync cannot
// overlap a scheduled one.
type SyncWorker struct {
	integrations *repositories.IntegrationRepository
	runner       SyncRunner
}

func NewSyncWorker(integrations *repositories.IntegrationRepository, runner SyncRunner) *SyncWorker {
	return &SyncWorker{integrations: integrations, runner: runner}
}

func (w *SyncWorker) Handle(ctx context.Context, job *queue.Job) error {
	var payload SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed sync job payload: %w", err)
	}

	integration, err := w.integrations.GetByID(payload.IntegrationID)
	if err != nil {
		return err
	}
	if integration == nil || integration.Status != "active" {
		log.Warn().Str("integration_id", payload.IntegrationID).Msg("sync job for missing or disabled integration")
		return nil
	}

	stats, err := w.runner.RunOnce(ctx, integration, payload.Mode)
	if err == sync.ErrSyncRunning {
		// Retry later via queue release rather than stacking passes.
		return err
	}
	if err != nil {
		return err
	}

	log.Info().Str("integration_id", integration.ID).Str("mode", payload.Mode).
		Int("created", stats.Created).Int("updated", stats.Updated).
		Int("errors", len(stats.Errors)).Msg("triggered sync finished")
	return nil
}

// HandleDeadLetter surfaces exhausted events in the logs so operators
// notice without polling the API.
func HandleDeadLetter(events *repositories.EventRepository) queue.HandlerFunc {
	return func(ctx context.Context, job *queue.Job) error {
		var payload struct {
			EventID string `json:"event_id"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		event, err := events.GetByID(payload.EventID)
		if err != nil {
			return err
		}
		if event == nil {
			return nil
		}
		log.Error().Str("event_id", event.ID).Str("provider", event.Provider).
			Str("event_type", event.EventType).Str("last_error", event.LastError).
			Msg("dead-lettered webhook event awaiting operator action")
		return nil
	}
}
