package workers

import (
	"context"
	"encoding/json"
	"testing"

	"sprintwatch/internal/engine/sync"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

// guardedRunner reports busy until released, mirroring the scheduler's
// per-integration guard.
type guardedRunner struct {
	busy  bool
	calls int
	mode  string
}

func (r *guardedRunner) RunOnce(ctx context.Context, integration *models.Integration, mode string) (*sync.Stats, error) {
	r.calls++
	if r.busy {
		return nil, sync.ErrSyncRunning
	}
	r.mode = mode
	return &sync.Stats{}, nil
}

func TestSyncWorker_BusySchedulerRequeuesInsteadOfDying(t *testing.T) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	integrations := repositories.NewIntegrationRepository(db)
	integration := &models.Integration{
		OrganizationID: "org_1",
		Provider:       "github",
		Name:           "main",
		PrincipalID:    "inst-1",
	}
	if err := integrations.Create(integration); err != nil {
		t.Fatalf("Failed to create integration: %v", err)
	}

	q := queue.New(db)
	runner := &guardedRunner{busy: true}
	worker := NewSyncWorker(integrations, runner)

	payload, _ := json.Marshal(SyncJobPayload{IntegrationID: integration.ID, Mode: sync.ModeFull})
	if _, err := q.Enqueue(SyncTopic, payload, queue.EnqueueOptions{MaxAttempts: SyncJobMaxAttempts}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// First attempt races a running pass: the handler errors and the
	// consumer releases the job.
	job, err := q.Lease(SyncTopic)
	if err != nil || job == nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if err := worker.Handle(context.Background(), job); err != sync.ErrSyncRunning {
		t.Fatalf("Expected ErrSyncRunning, got %v", err)
	}
	if err := q.Release(job, 0); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// The job survives the race instead of parking dead.
	pending, err := q.PendingCount(SyncTopic)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 1 {
		var status string
		db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&status)
		t.Fatalf("Expected requeued job, got %d pending (status %s)", pending, status)
	}

	// The blocking pass finished; the retried job runs the sync.
	runner.busy = false
	if _, err := db.Exec(`UPDATE jobs SET run_at = 0 WHERE status = 'queued'`); err != nil {
		t.Fatalf("Fast-forward failed: %v", err)
	}
	job, err = q.Lease(SyncTopic)
	if err != nil || job == nil {
		t.Fatalf("Second lease failed: %v", err)
	}
	if err := worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if runner.calls != 2 {
		t.Errorf("Expected 2 runner calls, got %d", runner.calls)
	}
	if runner.mode != sync.ModeFull {
		t.Errorf("Expected full mode, got %q", runner.mode)
	}
}

func TestSyncWorker_SkipsDisabledIntegration(t *testing.T) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	integrations := repositories.NewIntegrationRepository(db)
	integration := &models.Integration{
		OrganizationID: "org_1",
		Provider:       "github",
		Name:           "main",
		Status:         "disabled",
	}
	if err := integrations.Create(integration); err != nil {
		t.Fatalf("Failed to create integration: %v", err)
	}

	runner := &guardedRunner{}
	worker := NewSyncWorker(integrations, runner)

	payload, _ := json.Marshal(SyncJobPayload{IntegrationID: integration.ID, Mode: sync.ModeIncremental})
	job := &queue.Job{Payload: payload, MaxAttempts: SyncJobMaxAttempts}

	if err := worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("Disabled integration must not sync, got %d calls", runner.calls)
	}
}
