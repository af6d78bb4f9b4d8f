package models

// WebhookEvent statuses. Events are never deleted; "dead" is terminal
// until an operator replays the event.
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventDead       = "dead"
)

type WebhookEvent struct {
	ID              string `json:"id"`
	ProviderEventID string `json:"provider_event_id,omitempty"` // dedup key when the provider supplies one
	IntegrationID   string `json:"integration_id"`
	Provider        string `json:"provider"`
	EventType       string `json:"event_type"`
	Payload         []byte `json:"-"`
	Status          string `json:"status"`
	RetryCount      int    `json:"retry_count"`
	LastError       string `json:"last_error,omitempty"`
	ReceivedAt      int64  `json:"received_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

type WebhookSubscription struct {
	ID            string   `json:"id"`
	IntegrationID string   `json:"integration_id"`
	TargetURL     string   `json:"target_url"`
	EventTypes    []string `json:"event_types"` // JSON array in DB
	Secret        string   `json:"-"`
	Active        bool     `json:"active"`
	LastEventAt   int64    `json:"last_event_at,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}
