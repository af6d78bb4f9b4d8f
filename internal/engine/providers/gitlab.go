package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

const gitlabDefaultBaseURL = "https://gitlab.com/api/v4"

// GitLab uses OAuth with a refresh-token grant and verifies webhooks by
// shared token rather than an HMAC digest.
type GitLab struct {
	cfg  config.ProviderConfig
	http *http.Client
}

func NewGitLab(cfg config.ProviderConfig) *GitLab {
	return &GitLab{cfg: cfg, http: newRefreshHTTPClient()}
}

func (g *GitLab) Name() string { return models.ProviderGitLab }

func (g *GitLab) BaseURL(integration *models.Integration) string {
	if integration != nil && integration.BaseURL != "" {
		return integration.BaseURL
	}
	if g.cfg.BaseURL != "" {
		return g.cfg.BaseURL
	}
	return gitlabDefaultBaseURL
}

func (g *GitLab) Authenticate(req *http.Request, cred *models.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
}

func (g *GitLab) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	token, err := refreshOAuthToken(ctx, g.http, g.tokenURL(), g.cfg.ClientID, g.cfg.ClientSecret, cred.RefreshToken)
	if err != nil {
		return nil, err
	}

	refreshed := *cred
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if token.ExpiresIn > 0 {
		refreshed.ExpiresAt = time.Now().Unix() + token.ExpiresIn
	}
	return &refreshed, nil
}

// tokenURL strips the API suffix off the instance root; the OAuth
// endpoint lives beside the API, not under it.
func (g *GitLab) tokenURL() string {
	base := g.BaseURL(nil)
	base = strings.TrimSuffix(base, "/api/v4")
	return base + "/oauth/token"
}

func (g *GitLab) VerifySignature(secret string, body []byte, headers http.Header) error {
	return verifySharedToken(secret, headers.Get("X-Gitlab-Token"))
}

func (g *GitLab) EventID(headers http.Header, body []byte) string {
	return headers.Get("X-Gitlab-Event-UUID")
}

func (g *GitLab) EventType(headers http.Header, body []byte) string {
	return headers.Get("X-Gitlab-Event")
}

func (g *GitLab) ParseRateLimit(headers http.Header) (RateLimit, bool) {
	return parseRateLimitHeaders(headers, "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset")
}

func (g *GitLab) Source(d Doer, integration *models.Integration) Source {
	return &gitlabSource{d: d}
}

type gitlabProject struct {
	ID                int64     `json:"id"`
	Path              string    `json:"path"`
	PathWithNamespace string    `json:"path_with_namespace"`
	DefaultBranch     string    `json:"default_branch"`
	WebURL            string    `json:"web_url"`
	Visibility        string    `json:"visibility"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

func (p gitlabProject) toRemote() RemoteRepo {
	return RemoteRepo{
		ExternalID:    fmt.Sprintf("%d", p.ID),
		Name:          p.Path,
		FullName:      p.PathWithNamespace,
		DefaultBranch: p.DefaultBranch,
		URL:           p.WebURL,
		Private:       p.Visibility != "public",
		UpdatedAt:     p.LastActivityAt,
	}
}

type gitlabMergeRequest struct {
	ID           int64  `json:"id"`
	IID          int64  `json:"iid"`
	ProjectID    int64  `json:"project_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	State        string `json:"state"`
	Author       struct {
		Username string `json:"username"`
	} `json:"author"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	WebURL       string    `json:"web_url"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m gitlabMergeRequest) toRemote() RemotePullRequest {
	state := m.State
	if state == "opened" {
		state = "open"
	}
	return RemotePullRequest{
		ExternalID:     fmt.Sprintf("%d", m.ID),
		RepoExternalID: fmt.Sprintf("%d", m.ProjectID),
		Title:          m.Title,
		Body:           m.Description,
		State:          state,
		Author:         m.Author.Username,
		SourceBranch:   m.SourceBranch,
		TargetBranch:   m.TargetBranch,
		URL:            m.WebURL,
		UpdatedAt:      m.UpdatedAt,
	}
}

type gitlabSource struct {
	d Doer
}

func (s *gitlabSource) ListRepos(ctx context.Context) ([]RemoteRepo, error) {
	var projects []gitlabProject
	q := url.Values{"membership": {"true"}, "per_page": {"100"}}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/projects", Query: q}, &projects); err != nil {
		return nil, err
	}

	repos := make([]RemoteRepo, 0, len(projects))
	for _, p := range projects {
		repos = append(repos, p.toRemote())
	}
	return repos, nil
}

func (s *gitlabSource) ListOpenPullRequests(ctx context.Context, repo RemoteRepo) ([]RemotePullRequest, error) {
	var mrs []gitlabMergeRequest
	q := url.Values{"state": {"opened"}, "per_page": {"100"}}
	path := fmt.Sprintf("/projects/%s/merge_requests", repo.ExternalID)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &mrs); err != nil {
		return nil, err
	}

	out := make([]RemotePullRequest, 0, len(mrs))
	for _, m := range mrs {
		out = append(out, m.toRemote())
	}
	return out, nil
}

func (s *gitlabSource) ListCommitsSince(ctx context.Context, repo RemoteRepo, since time.Time) ([]RemoteCommit, error) {
	var commits []struct {
		ID          string    `json:"id"`
		Message     string    `json:"message"`
		AuthorName  string    `json:"author_name"`
		CommittedAt time.Time `json:"committed_date"`
		WebURL      string    `json:"web_url"`
	}
	q := url.Values{"since": {since.UTC().Format(time.RFC3339)}, "per_page": {"100"}}
	path := fmt.Sprintf("/projects/%s/repository/commits", repo.ExternalID)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &commits); err != nil {
		return nil, err
	}

	out := make([]RemoteCommit, 0, len(commits))
	for _, c := range commits {
		out = append(out, RemoteCommit{
			ExternalID:     c.ID,
			RepoExternalID: repo.ExternalID,
			Message:        c.Message,
			Author:         c.AuthorName,
			URL:            c.WebURL,
			CommittedAt:    c.CommittedAt,
		})
	}
	return out, nil
}

func (s *gitlabSource) ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]RemoteIssue, error) {
	var issues []struct {
		ID       int64  `json:"id"`
		IID      int64  `json:"iid"`
		Title    string `json:"title"`
		State    string `json:"state"`
		Assignee *struct {
			Username string `json:"username"`
		} `json:"assignee"`
		WebURL    string    `json:"web_url"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	q := url.Values{"updated_after": {since.UTC().Format(time.RFC3339)}, "scope": {"all"}, "per_page": {"100"}}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/issues", Query: q}, &issues); err != nil {
		return nil, err
	}

	out := make([]RemoteIssue, 0, len(issues))
	for _, i := range issues {
		issue := RemoteIssue{
			ExternalID: fmt.Sprintf("%d", i.ID),
			Title:      i.Title,
			State:      i.State,
			URL:        i.WebURL,
			UpdatedAt:  i.UpdatedAt,
		}
		if i.Assignee != nil {
			issue.Assignee = i.Assignee.Username
		}
		out = append(out, issue)
	}
	return out, nil
}

func (s *gitlabSource) ListSprints(ctx context.Context) ([]RemoteSprint, error) {
	// GitLab milestones are not mapped to sprints.
	return nil, nil
}

func (g *GitLab) ParseWebhook(eventType string, payload []byte) (*WebhookChange, error) {
	switch eventType {
	case "Push Hook":
		var body struct {
			ProjectID int64 `json:"project_id"`
			Commits   []struct {
				ID        string    `json:"id"`
				Message   string    `json:"message"`
				Timestamp time.Time `json:"timestamp"`
				URL       string    `json:"url"`
				Author    struct {
					Name string `json:"name"`
				} `json:"author"`
			} `json:"commits"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		change := &WebhookChange{}
		repoID := fmt.Sprintf("%d", body.ProjectID)
		for _, c := range body.Commits {
			change.Commits = append(change.Commits, RemoteCommit{
				ExternalID:     c.ID,
				RepoExternalID: repoID,
				Message:        c.Message,
				Author:         c.Author.Name,
				URL:            c.URL,
				CommittedAt:    c.Timestamp,
			})
		}
		return change, nil

	case "Merge Request Hook":
		var body struct {
			ObjectAttributes struct {
				ID           int64  `json:"id"`
				Title        string `json:"title"`
				Description  string `json:"description"`
				State        string `json:"state"`
				SourceBranch string `json:"source_branch"`
				TargetBranch string `json:"target_branch"`
				URL          string `json:"url"`
				UpdatedAt    string `json:"updated_at"`
			} `json:"object_attributes"`
			Project struct {
				ID int64 `json:"id"`
			} `json:"project"`
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		attrs := body.ObjectAttributes
		state := attrs.State
		if state == "opened" {
			state = "open"
		}
		pr := RemotePullRequest{
			ExternalID:     fmt.Sprintf("%d", attrs.ID),
			RepoExternalID: fmt.Sprintf("%d", body.Project.ID),
			Title:          attrs.Title,
			Body:           attrs.Description,
			State:          state,
			Author:         body.User.Username,
			SourceBranch:   attrs.SourceBranch,
			TargetBranch:   attrs.TargetBranch,
			URL:            attrs.URL,
			UpdatedAt:      time.Now(),
		}
		return &WebhookChange{PullRequest: &pr}, nil
	}

	return &WebhookChange{}, nil
}
