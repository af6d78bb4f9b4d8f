package workers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/engine/sync"
	"sprintwatch/internal/engine/webhooks"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/queue"
	"sprintwatch/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE webhook_events (
		id TEXT PRIMARY KEY,
		provider_event_id TEXT,
		integration_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		received_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
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
	CREATE TABLE integrations (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		name TEXT NOT NULL,
		base_url TEXT,
		principal_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

// flakyProvider fails ParseWebhook a configured number of times before
// succeeding with an empty change.
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string { return "github" }

func (p *flakyProvider) BaseURL(integration *models.Integration) string { return "" }

func (p *flakyProvider) Authenticate(req *http.Request, cred *models.Credential) {}

func (p *flakyProvider) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return cred, nil
}

func (p *flakyProvider) VerifySignature(secret string, body []byte, headers http.Header) error {
	return nil
}

func (p *flakyProvider) EventID(headers http.Header, body []byte) string { return "" }

func (p *flakyProvider) EventType(headers http.Header, body []byte) string { return "" }

func (p *flakyProvider) ParseRateLimit(headers http.Header) (providers.RateLimit, bool) {
	return providers.RateLimit{}, false
}

func (p *flakyProvider) Source(d providers.Doer, integration *models.Integration) providers.Source {
	return nil
}

func (p *flakyProvider) ParseWebhook(eventType string, payload []byte) (*providers.WebhookChange, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("transient parse failure")
	}
	return &providers.WebhookChange{}, nil
}

type processorFixture struct {
	db        *sql.DB
	events    *repositories.EventRepository
	queue     *queue.Queue
	provider  *flakyProvider
	processor *EventProcessor
}

func setupProcessor(t *testing.T, failures, maxRetries int) *processorFixture {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	events := repositories.NewEventRepository(db)
	q := queue.New(db)
	applier := sync.NewApplier(repositories.NewEntityRepository(db), sync.LogNotifier{})
	provider := &flakyProvider{failures: failures}
	processor := NewEventProcessor(events, q, applier,
		map[string]providers.Provider{"github": provider}, maxRetries)

	return &processorFixture{db: db, events: events, queue: q, provider: provider, processor: processor}
}

func (f *processorFixture) admitEvent(t *testing.T) *models.WebhookEvent {
	event := &models.WebhookEvent{
		IntegrationID: "int_1",
		Provider:      "github",
		EventType:     "push",
		Payload:       []byte(`{}`),
	}
	if err := f.events.Create(event); err != nil {
		t.Fatalf("Failed to create event: %v", err)
	}
	if _, err := f.queue.Enqueue(webhooks.Topic("github"), []byte(`{"event_id":"`+event.ID+`"}`),
		queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	return event
}

// drain runs the worker loop until the topic is empty, fast-forwarding
// the retry delays the processor schedules.
func (f *processorFixture) drain(t *testing.T, topic string) int {
	handled := 0
	for i := 0; i < 50; i++ {
		if _, err := f.db.Exec(`UPDATE jobs SET run_at = 0 WHERE status = 'queued'`); err != nil {
			t.Fatalf("Fast-forward failed: %v", err)
		}
		job, err := f.queue.Lease(topic)
		if err != nil {
			t.Fatalf("Lease failed: %v", err)
		}
		if job == nil {
			return handled
		}
		if err := f.processor.Handle(context.Background(), job); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if err := f.queue.Complete(job.ID); err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		handled++
	}
	t.Fatal("Queue did not drain")
	return handled
}

func TestProcessor_SuccessfulEventCompletes(t *testing.T) {
	f := setupProcessor(t, 0, 5)
	event := f.admitEvent(t)

	f.drain(t, webhooks.Topic("github"))

	stored, err := f.events.GetByID(event.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != models.EventCompleted {
		t.Errorf("Expected completed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Errorf("Expected no retries, got %d", stored.RetryCount)
	}
}

func TestProcessor_TransientFailureRetriesThenCompletes(t *testing.T) {
	f := setupProcessor(t, 2, 5)
	event := f.admitEvent(t)

	handled := f.drain(t, webhooks.Topic("github"))

	if handled != 3 {
		t.Errorf("Expected 3 attempts, got %d", handled)
	}
	stored, _ := f.events.GetByID(event.ID)
	if stored.Status != models.EventCompleted {
		t.Errorf("Expected completed, got %s", stored.Status)
	}
	if stored.RetryCount != 2 {
		t.Errorf("Expected 2 recorded retries, got %d", stored.RetryCount)
	}
}

func TestProcessor_ExhaustedEventGoesDead(t *testing.T) {
	maxRetries := 2
	f := setupProcessor(t, 100, maxRetries)
	event := f.admitEvent(t)

	handled := f.drain(t, webhooks.Topic("github"))

	// One initial attempt plus maxRetries retries.
	if handled != maxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", maxRetries+1, handled)
	}

	stored, _ := f.events.GetByID(event.ID)
	if stored.Status != models.EventDead {
		t.Errorf("Expected dead, got %s", stored.Status)
	}
	if stored.RetryCount != maxRetries {
		t.Errorf("Expected retry_count %d, got %d", maxRetries, stored.RetryCount)
	}
	if stored.LastError == "" {
		t.Error("Expected last_error to be recorded")
	}

	// The exhausted event landed on the dead-letter topic.
	pending, err := f.queue.PendingCount(DeadLetterTopic)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("Expected 1 dead-letter job, got %d", pending)
	}
}

func TestProcessor_SettledEventIgnoredOnDuplicateDelivery(t *testing.T) {
	f := setupProcessor(t, 0, 5)
	event := f.admitEvent(t)

	// A second queue job references the same event.
	if _, err := f.queue.Enqueue(webhooks.Topic("github"), []byte(`{"event_id":"`+event.ID+`"}`),
		queue.EnqueueOptions{MaxAttempts: 3}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	f.drain(t, webhooks.Topic("github"))

	if f.provider.calls != 1 {
		t.Errorf("Settled event reprocessed: %d handler calls", f.provider.calls)
	}
}

func TestProcessor_ReplayResetsDeadEvent(t *testing.T) {
	f := setupProcessor(t, 100, 1)
	event := f.admitEvent(t)
	f.drain(t, webhooks.Topic("github"))

	dead, _ := f.events.GetByID(event.ID)
	if dead.Status != models.EventDead {
		t.Fatalf("Expected dead event, got %s", dead.Status)
	}

	if err := f.processor.Replay(dead); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	replayed, _ := f.events.GetByID(event.ID)
	if replayed.Status != models.EventPending {
		t.Errorf("Expected pending after replay, got %s", replayed.Status)
	}
	if replayed.RetryCount != 0 {
		t.Errorf("Expected reset retry budget, got %d", replayed.RetryCount)
	}

	pending, _ := f.queue.PendingCount(webhooks.Topic("github"))
	if pending != 1 {
		t.Errorf("Expected replayed job on queue, got %d", pending)
	}

	// Replay is only valid from dead.
	if err := f.processor.Replay(replayed); err == nil {
		t.Error("Expected error replaying a pending event")
	}
}
