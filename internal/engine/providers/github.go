package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

const githubDefaultBaseURL = "https://api.github.com"

// GitHub authenticates as a GitHub App: a short-lived RS256 app JWT is
// exchanged for an installation access token. The credential's
// principal id is the installation id.
type GitHub struct {
	cfg  config.ProviderConfig
	http *http.Client
}

func NewGitHub(cfg config.ProviderConfig) *GitHub {
	return &GitHub{cfg: cfg, http: newRefreshHTTPClient()}
}

func (g *GitHub) Name() string { return models.ProviderGitHub }

func (g *GitHub) BaseURL(integration *models.Integration) string {
	if integration != nil && integration.BaseURL != "" {
		return integration.BaseURL
	}
	if g.cfg.BaseURL != "" {
		return g.cfg.BaseURL
	}
	return githubDefaultBaseURL
}

func (g *GitHub) Authenticate(req *http.Request, cred *models.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
}

func (g *GitHub) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	appJWT, err := g.signAppJWT()
	if err != nil {
		return nil, err
	}

	exchangeURL := fmt.Sprintf("%s/app/installations/%s/access_tokens",
		g.BaseURL(nil), cred.PrincipalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, exchangeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("installation token exchange failed: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	refreshed := *cred
	refreshed.AccessToken = body.Token
	refreshed.TokenType = "installation"
	refreshed.ExpiresAt = body.ExpiresAt.Unix()
	return &refreshed, nil
}

// signAppJWT builds the app authentication JWT. GitHub caps its
// lifetime at 10 minutes; iat is backdated 60s to absorb clock drift.
func (g *GitHub) signAppJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(g.cfg.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("invalid app private key: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    g.cfg.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(key)
}

func (g *GitHub) VerifySignature(secret string, body []byte, headers http.Header) error {
	return verifyHMACSHA256(secret, body, headers.Get("X-Hub-Signature-256"), "sha256=")
}

func (g *GitHub) EventID(headers http.Header, body []byte) string {
	return headers.Get("X-GitHub-Delivery")
}

func (g *GitHub) EventType(headers http.Header, body []byte) string {
	return headers.Get("X-GitHub-Event")
}

func (g *GitHub) ParseRateLimit(headers http.Header) (RateLimit, bool) {
	return parseRateLimitHeaders(headers, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset")
}

func (g *GitHub) Source(d Doer, integration *models.Integration) Source {
	return &githubSource{d: d}
}

type githubRepo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	DefaultBranch string    `json:"default_branch"`
	HTMLURL       string    `json:"html_url"`
	Private       bool      `json:"private"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r githubRepo) toRemote() RemoteRepo {
	return RemoteRepo{
		ExternalID:    fmt.Sprintf("%d", r.ID),
		Name:          r.Name,
		FullName:      r.FullName,
		DefaultBranch: r.DefaultBranch,
		URL:           r.HTMLURL,
		Private:       r.Private,
		UpdatedAt:     r.UpdatedAt,
	}
}

type githubPull struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref  string `json:"ref"`
		Repo struct {
			ID int64 `json:"id"`
		} `json:"repo"`
	} `json:"base"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p githubPull) toRemote(repoExternalID string) RemotePullRequest {
	return RemotePullRequest{
		ExternalID:     fmt.Sprintf("%d", p.ID),
		RepoExternalID: repoExternalID,
		Title:          p.Title,
		Body:           p.Body,
		State:          p.State,
		Author:         p.User.Login,
		SourceBranch:   p.Head.Ref,
		TargetBranch:   p.Base.Ref,
		URL:            p.HTMLURL,
		UpdatedAt:      p.UpdatedAt,
	}
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	HTMLURL string `json:"html_url"`
}

func (c githubCommit) toRemote(repoExternalID string) RemoteCommit {
	return RemoteCommit{
		ExternalID:     c.SHA,
		RepoExternalID: repoExternalID,
		Message:        c.Commit.Message,
		Author:         c.Commit.Author.Name,
		URL:            c.HTMLURL,
		CommittedAt:    c.Commit.Author.Date,
	}
}

type githubSource struct {
	d Doer
}

func (s *githubSource) ListRepos(ctx context.Context) ([]RemoteRepo, error) {
	var body struct {
		Repositories []githubRepo `json:"repositories"`
	}
	q := url.Values{"per_page": {"100"}}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/installation/repositories", Query: q}, &body); err != nil {
		return nil, err
	}

	repos := make([]RemoteRepo, 0, len(body.Repositories))
	for _, r := range body.Repositories {
		repos = append(repos, r.toRemote())
	}
	return repos, nil
}

func (s *githubSource) ListOpenPullRequests(ctx context.Context, repo RemoteRepo) ([]RemotePullRequest, error) {
	var pulls []githubPull
	q := url.Values{"state": {"open"}, "per_page": {"100"}}
	path := fmt.Sprintf("/repos/%s/pulls", repo.FullName)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &pulls); err != nil {
		return nil, err
	}

	out := make([]RemotePullRequest, 0, len(pulls))
	for _, p := range pulls {
		out = append(out, p.toRemote(repo.ExternalID))
	}
	return out, nil
}

func (s *githubSource) ListCommitsSince(ctx context.Context, repo RemoteRepo, since time.Time) ([]RemoteCommit, error) {
	var commits []githubCommit
	q := url.Values{"since": {since.UTC().Format(time.RFC3339)}, "per_page": {"100"}}
	path := fmt.Sprintf("/repos/%s/commits", repo.FullName)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &commits); err != nil {
		return nil, err
	}

	out := make([]RemoteCommit, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.toRemote(repo.ExternalID))
	}
	return out, nil
}

func (s *githubSource) ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]RemoteIssue, error) {
	// Work items live in the tracker integration (JIRA); GitHub issues
	// are not mirrored.
	return nil, nil
}

func (s *githubSource) ListSprints(ctx context.Context) ([]RemoteSprint, error) {
	return nil, nil
}

func (g *GitHub) ParseWebhook(eventType string, payload []byte) (*WebhookChange, error) {
	switch eventType {
	case "push":
		var body struct {
			Repository githubRepo `json:"repository"`
			Commits    []struct {
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
		repoID := fmt.Sprintf("%d", body.Repository.ID)
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

	case "pull_request":
		var body struct {
			PullRequest githubPull `json:"pull_request"`
			Repository  githubRepo `json:"repository"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		pr := body.PullRequest.toRemote(fmt.Sprintf("%d", body.Repository.ID))
		return &WebhookChange{PullRequest: &pr}, nil

	case "repository":
		var body struct {
			Repository githubRepo `json:"repository"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		repo := body.Repository.toRemote()
		return &WebhookChange{Repo: &repo}, nil
	}

	// Unhandled event types are acknowledged without entity changes.
	return &WebhookChange{}, nil
}
