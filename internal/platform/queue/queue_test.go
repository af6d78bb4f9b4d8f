package queue

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		run_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'queued',
		leased_at INTEGER,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func TestQueue_EnqueueLeaseComplete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	id, err := q.Enqueue("webhook.github", []byte(`{"event_id":"evt_1"}`), EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := q.Lease("webhook.github")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if job == nil {
		t.Fatal("Expected a job")
	}
	if job.ID != id || string(job.Payload) != `{"event_id":"evt_1"}` {
		t.Errorf("Unexpected job: %+v", job)
	}
	if job.Attempts != 1 {
		t.Errorf("Lease should count the attempt, got %d", job.Attempts)
	}

	// A leased job is invisible to other workers.
	other, err := q.Lease("webhook.github")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if other != nil {
		t.Errorf("Leased job handed out twice: %+v", other)
	}

	if err := q.Complete(job.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	count, _ := q.PendingCount("webhook.github")
	if count != 0 {
		t.Errorf("Expected empty queue, got %d", count)
	}
}

func TestQueue_TopicsAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	if _, err := q.Enqueue("webhook.github", []byte(`{}`), EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := q.Lease("webhook.gitlab")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if job != nil {
		t.Errorf("Leased a job from the wrong topic: %+v", job)
	}
}

func TestQueue_DelayedJobNotVisibleEarly(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	if _, err := q.Enqueue("sync", []byte(`{}`), EnqueueOptions{Delay: time.Hour}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := q.Lease("sync")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if job != nil {
		t.Error("Delayed job visible before run_at")
	}
}

func TestQueue_ReleaseRequeuesWithDelay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	if _, err := q.Enqueue("sync", []byte(`{}`), EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := q.Lease("sync")
	if job == nil {
		t.Fatal("Expected a job")
	}

	if err := q.Release(job, time.Hour); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Requeued but not yet due.
	if again, _ := q.Lease("sync"); again != nil {
		t.Error("Released job visible before its delay elapsed")
	}
	count, _ := q.PendingCount("sync")
	if count != 1 {
		t.Errorf("Expected job back in queue, got %d", count)
	}
}

func TestQueue_ReleaseExhaustedJobGoesDead(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	if _, err := q.Enqueue("sync", []byte(`{}`), EnqueueOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := q.Lease("sync")
	if job == nil {
		t.Fatal("Expected a job")
	}

	if err := q.Release(job, 0); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&status); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if status != JobDead {
		t.Errorf("Expected dead job, got %s", status)
	}
}

func TestQueue_SweepStaleReclaimsLeases(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	q := New(db)

	if _, err := q.Enqueue("sync", []byte(`{}`), EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, _ := q.Lease("sync")
	if job == nil {
		t.Fatal("Expected a job")
	}

	// Backdate the lease to simulate a crashed worker.
	stale := time.Now().Add(-time.Hour).Unix()
	if _, err := db.Exec(`UPDATE jobs SET leased_at = ? WHERE id = ?`, stale, job.ID); err != nil {
		t.Fatalf("Backdate failed: %v", err)
	}

	n, err := q.SweepStale(10 * time.Minute)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 reclaimed job, got %d", n)
	}

	reclaimed, _ := q.Lease("sync")
	if reclaimed == nil {
		t.Fatal("Expected reclaimed job to be leasable")
	}
	if reclaimed.Attempts != 2 {
		t.Errorf("Expected attempt count to survive reclaim, got %d", reclaimed.Attempts)
	}
}
