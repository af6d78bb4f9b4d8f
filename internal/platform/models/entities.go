package models

// Local mirrors of provider entities. Each carries the
// (integration_id, external_id) natural key that upserts join on.

type Repo struct {
	ID              string `json:"id"`
	IntegrationID   string `json:"integration_id"`
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	FullName        string `json:"full_name"`
	DefaultBranch   string `json:"default_branch"`
	URL             string `json:"url"`
	Private         bool   `json:"private"`
	RemoteUpdatedAt int64  `json:"remote_updated_at"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

type PullRequest struct {
	ID              string   `json:"id"`
	IntegrationID   string   `json:"integration_id"`
	ExternalID      string   `json:"external_id"`
	RepoExternalID  string   `json:"repo_external_id"`
	Title           string   `json:"title"`
	Body            string   `json:"body,omitempty"`
	State           string   `json:"state"` // open, merged, closed
	Author          string   `json:"author"`
	SourceBranch    string   `json:"source_branch"`
	TargetBranch    string   `json:"target_branch"`
	URL             string   `json:"url"`
	TicketRefs      []string `json:"ticket_refs"` // JSON array in DB
	RemoteUpdatedAt int64    `json:"remote_updated_at"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

type Commit struct {
	ID             string   `json:"id"`
	IntegrationID  string   `json:"integration_id"`
	ExternalID     string   `json:"external_id"` // commit SHA
	RepoExternalID string   `json:"repo_external_id"`
	Message        string   `json:"message"`
	Author         string   `json:"author"`
	URL            string   `json:"url"`
	TicketRefs     []string `json:"ticket_refs"`
	CommittedAt    int64    `json:"committed_at"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

type Issue struct {
	ID               string  `json:"id"`
	IntegrationID    string  `json:"integration_id"`
	ExternalID       string  `json:"external_id"`
	Key              string  `json:"key,omitempty"` // e.g. PROJ-42 for JIRA
	Title            string  `json:"title"`
	State            string  `json:"state"`
	Assignee         string  `json:"assignee,omitempty"`
	IssueType        string  `json:"issue_type,omitempty"`
	StoryPoints      float64 `json:"story_points,omitempty"`
	SprintExternalID string  `json:"sprint_external_id,omitempty"`
	URL              string  `json:"url"`
	RemoteUpdatedAt  int64   `json:"remote_updated_at"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
}

type Sprint struct {
	ID              string `json:"id"`
	IntegrationID   string `json:"integration_id"`
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	State           string `json:"state"` // future, active, closed
	StartsAt        int64  `json:"starts_at,omitempty"`
	EndsAt          int64  `json:"ends_at,omitempty"`
	RemoteUpdatedAt int64  `json:"remote_updated_at"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}
