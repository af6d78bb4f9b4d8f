package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Scheduler drives periodic incremental syncs, one active sync per
// integration. A tick that finds a sync already running skips it rather
// than queueing, so a slow provider cannot build an unbounded backlog.
type Scheduler struct {
	integrations *repositories.IntegrationRepository
	orchestrator *Orchestrator
	interval     time.Duration

	mu      sync.Mutex
	running map[string]bool
}

func NewScheduler(integrations *repositories.IntegrationRepository, orchestrator *Orchestrator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		integrations: integrations,
		orchestrator: orchestrator,
		interval:     interval,
		running:      make(map[string]bool),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	integrations, err := s.integrations.ListActive()
	if err != nil {
		log.Error().Err(err).Msg("failed to list integrations for sync tick")
		return
	}
	for _, integration := range integrations {
		integration := integration
		go func() {
			if _, err := s.RunOnce(ctx, integration, ModeIncremental); err != nil && err != ErrSyncRunning {
				log.Error().Err(err).Str("integration_id", integration.ID).Msg("scheduled sync failed")
			}
		}()
	}
}

// ErrSyncRunning reports a skipped pass because one is already active.
var ErrSyncRunning = errSyncRunning{}

type errSyncRunning struct{}

func (errSyncRunning) Error() string { return "sync already running for integration" }

// RunOnce executes a single sync pass with the per-integration guard.
// Used by both the scheduler tick and operator-triggered syncs.
func (s *Scheduler) RunOnce(ctx context.Context, integration *models.Integration, mode string) (*Stats, error) {
	s.mu.Lock()
	if s.running[integration.ID] {
		s.mu.Unlock()
		log.Debug().Str("integration_id", integration.ID).Msg("sync tick skipped, already running")
		return nil, ErrSyncRunning
	}
	s.running[integration.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, integration.ID)
		s.mu.Unlock()
	}()

	if mode == ModeFull {
		return s.orchestrator.FullSync(ctx, integration)
	}
	return s.orchestrator.IncrementalSync(ctx, integration)
}

// Running reports whether a sync is active for the integration.
func (s *Scheduler) Running(integrationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[integrationID]
}
