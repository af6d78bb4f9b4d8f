package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(sub *models.WebhookSubscription) error {
	if sub.ID == "" {
		sub.ID = "sub_" + uuid.New().String()
	}
	now := time.Now().Unix()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.Active = true

	eventsJSON, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO webhook_subscriptions (id, integration_id, target_url, event_types, secret, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.ID, sub.IntegrationID, sub.TargetURL, string(eventsJSON), sub.Secret, sub.Active,
		sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (r *SubscriptionRepository) GetByID(id string) (*models.WebhookSubscription, error) {
	row := r.db.QueryRow(`
		SELECT id, integration_id, target_url, event_types, secret, active, last_event_at, created_at, updated_at
		FROM webhook_subscriptions WHERE id = ?
	`, id)
	return scanSubscription(row)
}

// GetActiveByIntegration returns the active subscription the gateway
// validates inbound deliveries against.
func (r *SubscriptionRepository) GetActiveByIntegration(integrationID string) (*models.WebhookSubscription, error) {
	row := r.db.QueryRow(`
		SELECT id, integration_id, target_url, event_types, secret, active, last_event_at, created_at, updated_at
		FROM webhook_subscriptions WHERE integration_id = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1
	`, integrationID)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) ListByIntegration(integrationID string) ([]*models.WebhookSubscription, error) {
	rows, err := r.db.Query(`
		SELECT id, integration_id, target_url, event_types, secret, active, last_event_at, created_at, updated_at
		FROM webhook_subscriptions WHERE integration_id = ? ORDER BY created_at DESC
	`, integrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) UpdateLastEvent(id string, timestamp int64) error {
	_, err := r.db.Exec(`UPDATE webhook_subscriptions SET last_event_at = ? WHERE id = ?`, timestamp, id)
	return err
}

func (r *SubscriptionRepository) Deactivate(id string) error {
	_, err := r.db.Exec(`UPDATE webhook_subscriptions SET active = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	return err
}

func (r *SubscriptionRepository) DeactivateByIntegration(integrationID string) error {
	_, err := r.db.Exec(`UPDATE webhook_subscriptions SET active = 0, updated_at = ? WHERE integration_id = ?`,
		time.Now().Unix(), integrationID)
	return err
}

func scanSubscription(row rowScanner) (*models.WebhookSubscription, error) {
	var s models.WebhookSubscription
	var eventsStr string
	var lastEventAt sql.NullInt64

	err := row.Scan(&s.ID, &s.IntegrationID, &s.TargetURL, &eventsStr, &s.Secret, &s.Active,
		&lastEventAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if lastEventAt.Valid {
		s.LastEventAt = lastEventAt.Int64
	}
	json.Unmarshal([]byte(eventsStr), &s.EventTypes)
	return &s, nil
}
