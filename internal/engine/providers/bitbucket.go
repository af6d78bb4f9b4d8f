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

const (
	bitbucketDefaultBaseURL = "https://api.bitbucket.org/2.0"
	bitbucketTokenURL       = "https://bitbucket.org/site/oauth2/access_token"
)

type Bitbucket struct {
	cfg  config.ProviderConfig
	http *http.Client
}

func NewBitbucket(cfg config.ProviderConfig) *Bitbucket {
	return &Bitbucket{cfg: cfg, http: newRefreshHTTPClient()}
}

func (b *Bitbucket) Name() string { return models.ProviderBitbucket }

func (b *Bitbucket) BaseURL(integration *models.Integration) string {
	if integration != nil && integration.BaseURL != "" {
		return integration.BaseURL
	}
	if b.cfg.BaseURL != "" {
		return b.cfg.BaseURL
	}
	return bitbucketDefaultBaseURL
}

func (b *Bitbucket) Authenticate(req *http.Request, cred *models.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
}

func (b *Bitbucket) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	token, err := refreshOAuthToken(ctx, b.http, bitbucketTokenURL, b.cfg.ClientID, b.cfg.ClientSecret, cred.RefreshToken)
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

func (b *Bitbucket) VerifySignature(secret string, body []byte, headers http.Header) error {
	return verifyHMACSHA256(secret, body, headers.Get("X-Hub-Signature"), "sha256=")
}

func (b *Bitbucket) EventID(headers http.Header, body []byte) string {
	return headers.Get("X-Request-UUID")
}

func (b *Bitbucket) EventType(headers http.Header, body []byte) string {
	return headers.Get("X-Event-Key")
}

func (b *Bitbucket) ParseRateLimit(headers http.Header) (RateLimit, bool) {
	// Bitbucket Cloud reports quota only through 429 responses, not
	// per-response headers.
	return RateLimit{}, false
}

func (b *Bitbucket) Source(d Doer, integration *models.Integration) Source {
	return &bitbucketSource{d: d}
}

type bitbucketRepo struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
	UpdatedOn time.Time `json:"updated_on"`
}

func (r bitbucketRepo) toRemote() RemoteRepo {
	return RemoteRepo{
		ExternalID:    r.UUID,
		Name:          r.Name,
		FullName:      r.FullName,
		DefaultBranch: r.MainBranch.Name,
		URL:           r.Links.HTML.Href,
		Private:       r.IsPrivate,
		UpdatedAt:     r.UpdatedOn,
	}
}

type bitbucketPull struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Summary struct {
		Raw string `json:"raw"`
	} `json:"summary"`
	State  string `json:"state"`
	Author struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
	Source struct {
		Branch struct {
			Name string `json:"name"`
		} `json:"branch"`
	} `json:"source"`
	Destination struct {
		Branch struct {
			Name string `json:"name"`
		} `json:"branch"`
	} `json:"destination"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
	UpdatedOn time.Time `json:"updated_on"`
}

func (p bitbucketPull) toRemote(repoExternalID string) RemotePullRequest {
	state := "open"
	switch p.State {
	case "MERGED":
		state = "merged"
	case "DECLINED", "SUPERSEDED":
		state = "closed"
	}
	return RemotePullRequest{
		ExternalID:     fmt.Sprintf("%d", p.ID),
		RepoExternalID: repoExternalID,
		Title:          p.Title,
		Body:           p.Summary.Raw,
		State:          state,
		Author:         p.Author.Nickname,
		SourceBranch:   p.Source.Branch.Name,
		TargetBranch:   p.Destination.Branch.Name,
		URL:            p.Links.HTML.Href,
		UpdatedAt:      p.UpdatedOn,
	}
}

type bitbucketSource struct {
	d Doer
}

func (s *bitbucketSource) ListRepos(ctx context.Context) ([]RemoteRepo, error) {
	var body struct {
		Values []bitbucketRepo `json:"values"`
	}
	q := url.Values{"role": {"member"}, "pagelen": {"100"}}
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: "/repositories", Query: q}, &body); err != nil {
		return nil, err
	}

	repos := make([]RemoteRepo, 0, len(body.Values))
	for _, r := range body.Values {
		repos = append(repos, r.toRemote())
	}
	return repos, nil
}

func (s *bitbucketSource) ListOpenPullRequests(ctx context.Context, repo RemoteRepo) ([]RemotePullRequest, error) {
	var body struct {
		Values []bitbucketPull `json:"values"`
	}
	q := url.Values{"state": {"OPEN"}, "pagelen": {"50"}}
	path := fmt.Sprintf("/repositories/%s/pullrequests", repo.FullName)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &body); err != nil {
		return nil, err
	}

	out := make([]RemotePullRequest, 0, len(body.Values))
	for _, p := range body.Values {
		out = append(out, p.toRemote(repo.ExternalID))
	}
	return out, nil
}

func (s *bitbucketSource) ListCommitsSince(ctx context.Context, repo RemoteRepo, since time.Time) ([]RemoteCommit, error) {
	var body struct {
		Values []struct {
			Hash    string `json:"hash"`
			Message string `json:"message"`
			Author  struct {
				User struct {
					Nickname string `json:"nickname"`
				} `json:"user"`
			} `json:"author"`
			Date  time.Time `json:"date"`
			Links struct {
				HTML struct {
					Href string `json:"href"`
				} `json:"html"`
			} `json:"links"`
		} `json:"values"`
	}
	q := url.Values{"pagelen": {"100"}}
	path := fmt.Sprintf("/repositories/%s/commits", repo.FullName)
	if err := s.d.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, &body); err != nil {
		return nil, err
	}

	// The commits endpoint has no since filter; trim client-side.
	var out []RemoteCommit
	for _, c := range body.Values {
		if c.Date.Before(since) {
			continue
		}
		out = append(out, RemoteCommit{
			ExternalID:     c.Hash,
			RepoExternalID: repo.ExternalID,
			Message:        c.Message,
			Author:         c.Author.User.Nickname,
			URL:            c.Links.HTML.Href,
			CommittedAt:    c.Date,
		})
	}
	return out, nil
}

func (s *bitbucketSource) ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]RemoteIssue, error) {
	return nil, nil
}

func (s *bitbucketSource) ListSprints(ctx context.Context) ([]RemoteSprint, error) {
	return nil, nil
}

func (b *Bitbucket) ParseWebhook(eventType string, payload []byte) (*WebhookChange, error) {
	switch eventType {
	case "repo:push":
		var body struct {
			Repository bitbucketRepo `json:"repository"`
			Push       struct {
				Changes []struct {
					Commits []struct {
						Hash    string `json:"hash"`
						Message string `json:"message"`
						Author  struct {
							User struct {
								Nickname string `json:"nickname"`
							} `json:"user"`
						} `json:"author"`
						Date  time.Time `json:"date"`
						Links struct {
							HTML struct {
								Href string `json:"href"`
							} `json:"html"`
						} `json:"links"`
					} `json:"commits"`
				} `json:"changes"`
			} `json:"push"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		change := &WebhookChange{}
		for _, ch := range body.Push.Changes {
			for _, c := range ch.Commits {
				change.Commits = append(change.Commits, RemoteCommit{
					ExternalID:     c.Hash,
					RepoExternalID: body.Repository.UUID,
					Message:        c.Message,
					Author:         c.Author.User.Nickname,
					URL:            c.Links.HTML.Href,
					CommittedAt:    c.Date,
				})
			}
		}
		return change, nil

	case "pullrequest:created", "pullrequest:updated", "pullrequest:fulfilled", "pullrequest:rejected":
		var body struct {
			PullRequest bitbucketPull `json:"pullrequest"`
			Repository  bitbucketRepo `json:"repository"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, err
		}
		pr := body.PullRequest.toRemote(body.Repository.UUID)
		return &WebhookChange{PullRequest: &pr}, nil
	}

	return &WebhookChange{}, nil
}
