package models

const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderBitbucket = "bitbucket"
	ProviderJira      = "jira"
)

type Integration struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Provider       string `json:"provider"`
	Name           string `json:"name"`
	BaseURL        string `json:"base_url,omitempty"` // self-hosted / Enterprise override
	PrincipalID    string `json:"principal_id"`
	Status         string `json:"status"` // active, disabled
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Credential holds provider auth material for one principal.
// Mutated only by token refresh, deleted on revoke.
type Credential struct {
	ID            string `json:"id"`
	IntegrationID string `json:"integration_id"`
	PrincipalID   string `json:"principal_id"`
	Provider      string `json:"provider"`
	AccessToken   string `json:"-"`
	RefreshToken  string `json:"-"`
	TokenType     string `json:"token_type"`
	Scope         string `json:"scope"`
	ExpiresAt     int64  `json:"expires_at,omitempty"` // unix seconds, 0 = non-expiring
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

type SyncCursor struct {
	IntegrationID string `json:"integration_id"`
	LastSyncAt    int64  `json:"last_sync_at"`
	LastCreated   int    `json:"last_created"`
	LastUpdated   int    `json:"last_updated"`
	LastErrors    int    `json:"last_errors"`
	UpdatedAt     int64  `json:"updated_at"`
}

type APIKey struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organization_id"`
	Name           string   `json:"name"`
	KeyHash        string   `json:"-"`
	KeyPrefix      string   `json:"key_prefix"`
	Scopes         []string `json:"scopes"` // JSON array in DB
	ExpiresAt      *int64   `json:"expires_at,omitempty"`
	LastUsedAt     int64    `json:"last_used_at,omitempty"`
	CreatedAt      int64    `json:"created_at"`
}
