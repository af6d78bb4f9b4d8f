package repositories

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new pending event. A UNIQUE index on
// (integration_id, provider_event_id) backs idempotent admission;
// ErrDuplicateEvent signals the row already exists.
func (r *EventRepository) Create(event *models.WebhookEvent) error {
	return createEvent(r.db, event)
}

// CreateTx inserts within the caller's transaction, so admission can
// commit the event together with its queue job.
func (r *EventRepository) CreateTx(tx *sql.Tx, event *models.WebhookEvent) error {
	return createEvent(tx, event)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func createEvent(db execer, event *models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = "evt_" + uuid.New().String()
	}
	now := time.Now().Unix()
	event.ReceivedAt = now
	event.UpdatedAt = now
	event.Status = models.EventPending

	_, err := db.Exec(`
		INSERT INTO webhook_events (id, provider_event_id, integration_id, provider, event_type, payload, status, retry_count, received_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, event.ID, nullString(event.ProviderEventID), event.IntegrationID, event.Provider,
		event.EventType, event.Payload, event.Status, event.ReceivedAt, event.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateEvent
	}
	return err
}

func (r *EventRepository) GetByID(id string) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`
		SELECT id, provider_event_id, integration_id, provider, event_type, payload, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE id = ?
	`, id)
	return scanEvent(row)
}

func (r *EventRepository) GetByProviderEventID(integrationID, providerEventID string) (*models.WebhookEvent, error) {
	row := r.db.QueryRow(`
		SELECT id, provider_event_id, integration_id, provider, event_type, payload, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE integration_id = ? AND provider_event_id = ?
	`, integrationID, providerEventID)
	return scanEvent(row)
}

func (r *EventRepository) ListByStatus(status string, limit int) ([]*models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, provider_event_id, integration_id, provider, event_type, payload, status, retry_count, last_error, received_at, updated_at
		FROM webhook_events WHERE status = ? ORDER BY received_at DESC LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE webhook_events SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	return err
}

// MarkFailed records a failed attempt: the retry count goes up and the
// event returns to pending so the scheduler can re-enqueue it.
func (r *EventRepository) MarkFailed(id, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events SET status = ?, retry_count = retry_count + 1, last_error = ?, updated_at = ? WHERE id = ?
	`, models.EventPending, lastError, time.Now().Unix(), id)
	return err
}

func (r *EventRepository) MarkDead(id, lastError string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events SET status = ?, last_error = ?, updated_at = ? WHERE id = ?
	`, models.EventDead, lastError, time.Now().Unix(), id)
	return err
}

// ResetForReplay is the operator replay path for dead events.
func (r *EventRepository) ResetForReplay(id string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_events SET status = ?, retry_count = 0, last_error = NULL, updated_at = ? WHERE id = ? AND status = ?
	`, models.EventPending, time.Now().Unix(), id, models.EventDead)
	return err
}

// SweepStaleProcessing returns events stuck in processing (a worker
// crashed mid-flight) back to pending. The attempt never completed, so
// retry_count is not incremented.
func (r *EventRepository) SweepStaleProcessing(olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT id FROM webhook_events WHERE status = ? AND updated_at < ?
	`, models.EventProcessing, olderThan.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := r.db.Exec(`UPDATE webhook_events SET status = ?, updated_at = ? WHERE id = ?`,
			models.EventPending, time.Now().Unix(), id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func scanEvent(row rowScanner) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var providerEventID, lastError sql.NullString

	err := row.Scan(&e.ID, &providerEventID, &e.IntegrationID, &e.Provider, &e.EventType,
		&e.Payload, &e.Status, &e.RetryCount, &lastError, &e.ReceivedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if providerEventID.Valid {
		e.ProviderEventID = providerEventID.String
	}
	if lastError.Valid {
		e.LastError = lastError.String
	}
	return &e, nil
}
