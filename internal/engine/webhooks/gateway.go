package webhooks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

// Topic returns the queue topic events for a provider land on.
func Topic(provider string) string {
	return "webhook." + provider
}

// JobPayload is what the gateway enqueues: a reference, not the event
// body. The events table is the durable record.
type JobPayload struct {
	EventID string `json:"event_id"`
}

// Admission outcomes for the HTTP layer.
var (
	ErrNoSubscription = errors.New("no active webhook subscription")
	ErrBadSignature   = providers.ErrBadSignature
)

// Gateway admits inbound provider deliveries: verify, dedup, persist,
// enqueue. Processing is asynchronous; admission never blocks on
// business logic. Event row and queue job commit atomically, so a
// failed admission leaves nothing behind and the provider's redelivery
// starts clean.
type Gateway struct {
	db     *sql.DB
	subs   *repositories.SubscriptionRepository
	events *repositories.EventRepository
	queue  *queue.Queue
}

func NewGateway(db *sql.DB, subs *repositories.SubscriptionRepository, events *repositories.EventRepository, q *queue.Queue) *Gateway {
	return &Gateway{db: db, subs: subs, events: events, queue: q}
}

// Receive admits one delivery. The returned event is the persisted (or
// previously persisted, for duplicates) record; duplicate reports
// whether this delivery had been admitted before.
func (g *Gateway) Receive(provider providers.Provider, integrationID string, body []byte, headers http.Header) (event *models.WebhookEvent, duplicate bool, err error) {
	sub, err := g.subs.GetActiveByIntegration(integrationID)
	if err != nil {
		return nil, false, err
	}
	if sub == nil {
		return nil, false, ErrNoSubscription
	}

	if err := provider.VerifySignature(sub.Secret, body, headers); err != nil {
		log.Warn().Str("provider", provider.Name()).Str("integration_id", integrationID).
			Msg("webhook signature rejected")
		return nil, false, err
	}

	eventID := provider.EventID(headers, body)
	if eventID != "" {
		existing, err := g.events.GetByProviderEventID(integrationID, eventID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			// Idempotent delivery: acknowledge without re-enqueuing.
			return existing, true, nil
		}
	}

	event = &models.WebhookEvent{
		ProviderEventID: eventID,
		IntegrationID:   integrationID,
		Provider:        provider.Name(),
		EventType:       provider.EventType(headers, body),
		Payload:         body,
	}

	tx, err := g.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	if err := g.events.CreateTx(tx, event); err != nil {
		if errors.Is(err, repositories.ErrDuplicateEvent) {
			// Concurrent redelivery lost the insert race.
			existing, lookupErr := g.events.GetByProviderEventID(integrationID, eventID)
			if lookupErr != nil || existing == nil {
				return nil, false, err
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("persisting webhook event: %w", err)
	}

	payload, err := json.Marshal(JobPayload{EventID: event.ID})
	if err != nil {
		return nil, false, err
	}
	if _, err := g.queue.EnqueueTx(tx, Topic(provider.Name()), payload, queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		return nil, false, fmt.Errorf("enqueuing webhook event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("admitting webhook event: %w", err)
	}

	if err := g.subs.UpdateLastEvent(sub.ID, time.Now().Unix()); err != nil {
		log.Error().Err(err).Str("subscription_id", sub.ID).Msg("failed to update last event time")
	}

	log.Info().Str("provider", provider.Name()).Str("integration_id", integrationID).
		Str("event_id", event.ID).Str("event_type", event.EventType).Msg("webhook admitted")
	return event, false, nil
}
