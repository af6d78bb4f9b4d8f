package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

const jiraTokenURL = "https://auth.atlassian.com/oauth/token"

// Jira is the tracker-side provider: issues and sprints instead of
// repositories. The integration's base URL points at the site API root
// (cloud or self-hosted Data Center).
type Jira struct {
	cfg  config.ProviderConfig
	http *http.Client
}

func NewJira(cfg config.ProviderConfig) *Jira {
	return &Jira{cfg: cfg, http: newRefreshHTTPClient()}
}

func (j *Jira) Name() string { return models.ProviderJira }

func (j *Jira) BaseURL(integration *models.Integration) string {
	if integration != nil && integration.BaseURL != "" {
		return integration.BaseURL
	}
	return j.cfg.BaseURL
}

func (j *Jira) Authenticate(req *http.Request, cred *models.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
}

func (j *Jira) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	token, err := refreshOAuthToken(ctx, j.http, jiraTokenURL, j.cfg.ClientID, j.cfg.ClientSecret, cred.RefreshToken)
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

func (j *Jira) VerifySignature(secret string, body []byte, headers http.Header) error {
	return verifyHMACSHA256(secret, body, headers.Get("X-Hub-Signature"), "sha256=")
}

func (j *Jira) EventID(headers http.Header, body []byte) string {
	return headers.Get("X-Atlassian-Webhook-Identifier")
}

func (j *Jira) EventType(headers http.Header, body []byte) string {
	var envelope struct {
		WebhookEvent string `json:"webhookEvent"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.WebhookEvent
}

func (j *Jira) ParseRateLimit(headers http.Header) (RateLimit, bool) {
	return parseRateLimitHeaders(headers, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset")
}

func (j *Jira) Source(d Doer, integration *models.Integration) Source {
	return &jiraSource{d: d}
}

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Self   string `json:"self"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *struct {
			DisplayName string `json:"displayName"`
		} `json:"assignee"`
		IssueType struct {
			Name string `json:"name"`
		} `json:"issuetype"`
		StoryPoints float64 `json:"customfield_10016"`
		Sprint      *struct {
			ID int64 `json:"id"`
		} `json:"sprint"`
		Updated string `json:"updated"`
	} `json:"fields"`
}

// jiraTimeLayout is JIRA's non-RFC3339 timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

func (i jiraIssue) toRemote() RemoteIssue {
	issue := RemoteIssue{
		ExternalID:  i.ID,
		Key:         i.Key,
		Title:       i.Fields.Summary,
		State:       i.Fields.Status.Name,
		IssueType:   i.Fields.IssueType.Name,
		StoryPoints: i.Fields.StoryPoints,
		URL:         i.Self,
	}
	if i.Fields.Assignee != nil {
		issue.Assignee = i.Fields.Assignee.DisplayName
	}
	if i.Fields.Sprint != nil {
		issue.SprintID = fmt.Sprintf("%d", i.Fields.Sprint.ID)
	}
	if t, err := time.Parse(jiraTimeLayout, i.Fields.Updated); err == nil {
		issue.UpdatedAt = t
	}
	return issue
}

type jiraSource struct {
	d Doer
}

func (s *jiraSource) ListRepos(ctx context.Context) ([]RemoteRepo, error) {
	// Source control lives in the SCM integrations; JIRA mirrors only
	// issues and sprints.
	return nil, nil
}

func (s *jiraSource) ListOpenPullRequests(ctx context.Context, repo RemoteRepo) ([]RemotePullRequest, error) {
	return nil, nil
}

func (s *jiraSource) ListCommitsSince(ctx context.Context, repo RemoteRepo, since time.Time) ([]RemoteCommit, error) {
	return nil, nil
}

func (s *jiraSource) ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]RemoteIssue, error) {
	var body struct {
		Issues []jiraIssue `json:"issues"`
	}
	jql := fmt.Sprintf(`updated >= "%s" ORDER BY updated ASC`, since.UTC().Format("2006-01-02 15:04"))
	q := url.Values{"jql": {jql}, "maxResults": {"100"}}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/rest/api/2/search", Query: q}, &body); err != nil {
		return nil, err
	}

	out := make([]RemoteIssue, 0, len(body.Issues))
	for _, i := range body.Issues {
		out = append(out, i.toRemote())
	}
	return out, nil
}

func (s *jiraSource) ListSprints(ctx context.Context) ([]RemoteSprint, error) {
	var boards struct {
		Values []struct {
			ID int64 `json:"id"`
		} `json:"values"`
	}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/rest/agile/1.0/board"}, &boards); err != nil {
		return nil, err
	}

	var out []RemoteSprint
	for _, board := range boards.Values {
		var sprints struct {
			Values []struct {
				ID        int64     `json:"id"`
				Name      string    `json:"name"`
				State     string    `json:"state"`
				StartDate time.Time `json:"startDate"`
				EndDate   time.Time `json:"endDate"`
			} `json:"values"`
		}
		path := fmt.Sprintf("/rest/agile/1.0/board/%d/sprint", board.ID)
		if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path}, &sprints); err != nil {
			return nil, err
		}
		for _, sp := range sprints.Values {
			out = append(out, RemoteSprint{
				ExternalID: fmt.Sprintf("%d", sp.ID),
				Name:       sp.Name,
				State:      sp.State,
				StartsAt:   sp.StartDate,
				EndsAt:     sp.EndDate,
				UpdatedAt:  time.Now(),
			})
		}
	}
	return out, nil
}

func (j *Jira) ParseWebhook(eventType string, payload []byte) (*WebhookChange, error) {
	switch eventType {
	case "jira:issue_created", "jira:issue_updated":
		var body struct {
			Issue jiraIssue `json:"issue"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		issue := body.Issue.toRemote()
		return &WebhookChange{Issue: &issue}, nil

	case "sprint_started", "sprint_updated", "sprint_closed":
		var body struct {
			Sprint struct {
				ID        int64     `json:"id"`
				Name      string    `json:"name"`
				State     string    `json:"state"`
				StartDate time.Time `json:"startDate"`
				EndDate   time.Time `json:"endDate"`
			} `json:"sprint"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		sprint := RemoteSprint{
			ExternalID: fmt.Sprintf("%d", body.Sprint.ID),
			Name:       body.Sprint.Name,
			State:      body.Sprint.State,
			StartsAt:   body.Sprint.StartDate,
			EndsAt:     body.Sprint.EndDate,
			UpdatedAt:  time.Now(),
		}
		return &WebhookChange{Sprint: &sprint}, nil
	}

	return &WebhookChange{}, nil
}
