package workers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

// Sweeper recovers events orphaned in the processing state by a worker
// crash. A stale processing row returns to pending and is re-enqueued;
// the interrupted attempt never completed, so it does not count against
// the retry budget.
type Sweeper struct {
	events     *repositories.EventRepository
	queue      *queue.Queue
	staleAfter time.Duration
	interval   time.Duration
}

func NewSweeper(events *repositories.EventRepository, q *queue.Queue, staleAfter, interval time.Duration) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{events: events, queue: q, staleAfter: staleAfter, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.staleAfter)
	ids, err := s.events.SweepStaleProcessing(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("stale processing sweep failed")
		return
	}

	for _, id := range ids {
		event, err := s.events.GetByID(id)
		if err != nil || event == nil {
			log.Error().Err(err).Str("event_id", id).Msg("failed to load swept event")
			continue
		}
		payload, _ := json.Marshal(webhooks.JobPayload{EventID: id})
		if _, err := s.queue.Enqueue(webhooks.Topic(event.Provider), payload,
			queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
			log.Error().Err(err).Str("event_id", id).Msg("failed to re-enqueue swept event")
			continue
		}
		log.Warn().Str("event_id", id).Msg("stale processing event recovered")
	}

	// Reclaim queue leases abandoned by crashed workers too.
	if n, err := s.queue.SweepStale(s.staleAfter); err != nil {
		log.Error().Err(err).Msg("stale lease sweep failed")
	} else if n > 0 {
		log.Warn().Int64("jobs", n).Msg("stale queue leases reclaimed")
	}
}
