package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/engine/sync"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

// DeadLetterTopic carries exhausted events for operator visibility.
const DeadLetterTopic = "webhook.dead"

// retryBackoff is the per-event retry schedule; the last entry repeats
// once attempts run past the table.
var retryBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// EventProcessor drives queued webhook events through their handlers
// with bounded retries. The persisted event status is authoritative:
// queue-level job retries only cover infrastructure faults, while
// handler failures are accounted on the event row itself.
type EventProcessor struct {
	events     *repositories.EventRepository
	queue      *queue.Queue
	applier    *sync.Applier
	providers  map[string]providers.Provider
	maxRetries int
}

func NewEventProcessor(events *repositories.EventRepository, q *queue.Queue, applier *sync.Applier,
	providerSet map[string]providers.Provider, maxRetries int) *EventProcessor {

	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &EventProcessor{
		events:     events,
		queue:      q,
		applier:    applier,
		providers:  providerSet,
		maxRetries: maxRetries,
	}
}

// Handle processes one queued event reference. Infrastructure errors
// (event row unreachable) propagate to the queue; handler failures are
// absorbed into the event's retry bookkeeping.
func (p *EventProcessor) Handle(ctx context.Context, job *queue.Job) error {
	var payload webhooks.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("malformed job payload: %w", err)
	}

	event, err := p.events.GetByID(payload.EventID)
	if err != nil {
		return err
	}
	if event == nil {
		log.Warn().Str("event_id", payload.EventID).Msg("queued event no longer exists")
		return nil
	}
	if event.Status == models.EventCompleted || event.Status == models.EventDead {
		// Duplicate queue delivery of an already-settled event.
		return nil
	}

	if err := p.events.UpdateStatus(event.ID, models.EventProcessing); err != nil {
		return err
	}

	if err := p.process(ctx, event); err != nil {
		p.recordFailure(event, err)
		return nil
	}

	if err := p.events.UpdateStatus(event.ID, models.EventCompleted); err != nil {
		return err
	}
	log.Info().Str("event_id", event.ID).Str("event_type", event.EventType).Msg("webhook event processed")
	return nil
}

func (p *EventProcessor) process(ctx context.Context, event *models.WebhookEvent) error {
	provider, ok := p.providers[event.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", event.Provider)
	}

	change, err := provider.ParseWebhook(event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("parsing %s payload: %w", event.EventType, err)
	}
	return p.applier.ApplyChange(ctx, event.IntegrationID, change)
}

// recordFailure increments the event's retry count and either
// re-enqueues with backoff or moves the event to the dead-letter path.
func (p *EventProcessor) recordFailure(event *models.WebhookEvent, handlerErr error) {
	if event.RetryCount >= p.maxRetries {
		if err := p.events.MarkDead(event.ID, handlerErr.Error()); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark event dead")
			return
		}
		payload, _ := json.Marshal(webhooks.JobPayload{EventID: event.ID})
		if _, err := p.queue.Enqueue(DeadLetterTopic, payload, queue.EnqueueOptions{MaxAttempts: 1}); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("failed to enqueue dead letter")
		}
		log.Error().Err(handlerErr).Str("event_id", event.ID).Int("retries", event.RetryCount).
			Msg("webhook event dead-lettered")
		return
	}

	if err := p.events.MarkFailed(event.ID, handlerErr.Error()); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to record event failure")
		return
	}

	delay := backoffFor(event.RetryCount)
	payload, _ := json.Marshal(webhooks.JobPayload{EventID: event.ID})
	if _, err := p.queue.Enqueue(webhooks.Topic(event.Provider), payload,
		queue.EnqueueOptions{Delay: delay, MaxAttempts: 3}); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to re-enqueue event")
		return
	}
	log.Warn().Err(handlerErr).Str("event_id", event.ID).Int("retry", event.RetryCount+1).
		Dur("delay", delay).Msg("webhook event retry scheduled")
}

func backoffFor(attempt int) time.Duration {
	if attempt >= len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[attempt]
}

// Replay resets a dead event and puts it back on its queue. Operator
// path only.
func (p *EventProcessor) Replay(event *models.WebhookEvent) error {
	if event.Status != models.EventDead {
		return fmt.Errorf("event %s is %s, only dead events can be replayed", event.ID, event.Status)
	}
	if err := p.events.ResetForReplay(event.ID); err != nil {
		return err
	}
	payload, err := json.Marshal(webhooks.JobPayload{EventID: event.ID})
	if err != nil {
		return err
	}
	_, err = p.queue.Enqueue(webhooks.Topic(event.Provider), payload, queue.EnqueueOptions{MaxAttempts: 3})
	return err
}
