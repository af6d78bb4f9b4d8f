package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc processes one leased job. Returning an error releases the
// job for a later attempt (or parks it dead once attempts run out).
type HandlerFunc func(ctx context.Context, job *Job) error

// Consume polls a topic with the given number of workers until the
// context is cancelled. Each worker owns at most one job at a time.
func (q *Queue) Consume(ctx context.Context, topic string, concurrency int, pollInterval time.Duration, handler HandlerFunc) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, topic, pollInterval, handler)
		}()
	}
	wg.Wait()
}

func (q *Queue) work(ctx context.Context, topic string, pollInterval time.Duration, handler HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.Lease(topic)
		if err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("failed to lease job")
			sleep(ctx, pollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, pollInterval)
			continue
		}

		if err := handler(ctx, job); err != nil {
			log.Warn().Err(err).Str("topic", topic).Int64("job_id", job.ID).
				Int("attempt", job.Attempts).Msg("job handler failed")
			if releaseErr := q.Release(job, retryDelay(job.Attempts)); releaseErr != nil {
				log.Error().Err(releaseErr).Int64("job_id", job.ID).Msg("failed to release job")
			}
			continue
		}

		if err := q.Complete(job.ID); err != nil {
			log.Error().Err(err).Int64("job_id", job.ID).Msg("failed to complete job")
		}
	}
}

// retryDelay covers infrastructure-level job retries. Webhook events
// carry their own backoff table in the event processor.
func retryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
