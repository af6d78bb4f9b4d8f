package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"sprintwatch/internal/platform/models"
)

// ErrBadSignature is returned by VerifySignature on any mismatch.
// Signature failures are never retried.
var ErrBadSignature = errors.New("webhook signature mismatch")

// Request is a provider API call before authentication is attached.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

// RateLimit is the remote quota snapshot parsed from response headers.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Doer executes an authenticated provider call and decodes the JSON
// response into out. Implemented by the client facade.
type Doer interface {
	Do(ctx context.Context, req Request, out interface{}) error
}

// Provider is the capability descriptor that lets one generic engine
// serve every provider: base URL resolution, auth strategy, webhook
// signature scheme, rate-limit header names, and payload parsing.
type Provider interface {
	Name() string

	// BaseURL resolves the API root, honoring self-hosted overrides on
	// the integration and then on provider config.
	BaseURL(integration *models.Integration) string

	// Authenticate attaches the credential to an outbound request.
	Authenticate(req *http.Request, cred *models.Credential)

	// Refresh exchanges the credential for a fresh one using the
	// provider's grant (OAuth refresh token, or app JWT exchange).
	Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error)

	// VerifySignature checks an inbound webhook delivery against the
	// subscription secret. Constant-time comparison.
	VerifySignature(secret string, body []byte, headers http.Header) error

	// EventID extracts the provider-supplied delivery identifier used
	// for dedup, or "" when the provider sends none.
	EventID(headers http.Header, body []byte) string

	// EventType names the inbound event kind.
	EventType(headers http.Header, body []byte) string

	// ParseRateLimit reads quota headers; ok is false when the response
	// carried none.
	ParseRateLimit(headers http.Header) (RateLimit, bool)

	// Source returns the typed read operations for one integration.
	Source(d Doer, integration *models.Integration) Source

	// ParseWebhook turns a raw payload into the entity changes it
	// carries. Payloads hold full entity state, so applying them is
	// last-write-wins and tolerates out-of-order delivery.
	ParseWebhook(eventType string, payload []byte) (*WebhookChange, error)
}

// Source is the typed pull surface the sync orchestrator consumes.
type Source interface {
	ListRepos(ctx context.Context) ([]RemoteRepo, error)
	ListOpenPullRequests(ctx context.Context, repo RemoteRepo) ([]RemotePullRequest, error)
	ListCommitsSince(ctx context.Context, repo RemoteRepo, since time.Time) ([]RemoteCommit, error)
	ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]RemoteIssue, error)
	ListSprints(ctx context.Context) ([]RemoteSprint, error)
}

// Remote entity shapes, unified across providers.

type RemoteRepo struct {
	ExternalID    string
	Name          string
	FullName      string
	DefaultBranch string
	URL           string
	Private       bool
	UpdatedAt     time.Time
}

type RemotePullRequest struct {
	ExternalID     string
	RepoExternalID string
	Title          string
	Body           string
	State          string
	Author         string
	SourceBranch   string
	TargetBranch   string
	URL            string
	UpdatedAt      time.Time
}

type RemoteCommit struct {
	ExternalID     string
	RepoExternalID string
	Message        string
	Author         string
	URL            string
	CommittedAt    time.Time
}

type RemoteIssue struct {
	ExternalID  string
	Key         string
	Title       string
	State       string
	Assignee    string
	IssueType   string
	StoryPoints float64
	SprintID    string
	URL         string
	UpdatedAt   time.Time
}

type RemoteSprint struct {
	ExternalID string
	Name       string
	State      string
	StartsAt   time.Time
	EndsAt     time.Time
	UpdatedAt  time.Time
}

// WebhookChange is the parsed content of one inbound event. Only the
// fields the event carries are set.
type WebhookChange struct {
	Repo        *RemoteRepo
	PullRequest *RemotePullRequest
	Commits     []RemoteCommit
	Issue       *RemoteIssue
	Sprint      *RemoteSprint
}
