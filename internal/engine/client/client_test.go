package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

// fakeProvider satisfies providers.Provider with just enough behavior
// for client tests: bearer auth and GitHub-style rate limit headers.
type fakeProvider struct {
	baseURL string
}

func (f *fakeProvider) Name() string { return "github" }

func (f *fakeProvider) BaseURL(integration *models.Integration) string { return f.baseURL }

func (f *fakeProvider) Authenticate(req *http.Request, cred *models.Credential) {
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
}
func (f *fakeProvider) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	return cred, nil
}

func (f *fakeProvider) VerifySignature(secret string, body []byte, headers http.Header) error {
	return nil
}

func (f *fakeProvider) EventID(headers http.Header, body []byte) string { return "" }

func (f *fakeProvider) EventType(headers http.Header, body []byte) string { return "" }

func (f *fakeProvider) ParseRateLimit(headers http.Header) (providers.RateLimit, bool) {
	remaining := headers.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return providers.RateLimit{}, false
	}
	r, _ := strconv.Atoi(remaining)
	l, _ := strconv.Atoi(headers.Get("X-RateLimit-Limit"))
	return providers.RateLimit{Limit: l, Remaining: r}, true
}
func (f *fakeProvider) Source(d providers.Doer, integration *models.Integration) providers.Source {
	return nil
}

func (f *fakeProvider) ParseWebhook(eventType string, payload []byte) (*providers.WebhookChange, error) {
	return &providers.WebhookChange{}, nil
}

// staticTokens returns a fixed credential and counts forced refreshes.
type staticTokens struct {
	token     string
	refreshed int32
}

func (s *staticTokens) GetValidToken(ctx context.Context, integrationID, principalID string) (*models.Credential, error) {
	return &models.Credential{AccessToken: s.token}, nil
}

func (s *staticTokens) ForceRefresh(ctx context.Context, integrationID, principalID string) (*models.Credential, error) {
	atomic.AddInt32(&s.refreshed, 1)
	return &models.Credential{AccessToken: s.token + "-refreshed"}, nil
}

func newTestClient(baseURL string, cfg config.ClientConfig) (*Client, *staticTokens) {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	tokens := &staticTokens{token: "tok"}
	integration := &models.Integration{ID: "int_1", Provider: "github", PrincipalID: "inst-1", Status: "active"}
	breakers := NewBreakerRegistry(cfg.FailureThreshold, cfg.BreakerCooldown)
	limits := NewRateLimitTracker()
	return New(&fakeProvider{baseURL: baseURL}, integration, tokens, breakers, limits, cfg), tokens
}

func TestClient_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Write([]byte(`{"name":"api"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, config.ClientConfig{})

	var out struct {
		Name string `json:"name"`
	}
	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/repos"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "api", out.Name)

	limit, ok := c.RateLimit()
	require.True(t, ok)
	assert.Equal(t, 4999, limit.Remaining)
	assert.Equal(t, StateClosed, c.BreakerState())
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 3})

	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/repos"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, StateClosed, c.BreakerState())
}

func TestClient_OpensBreakerAndFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Five failures trip the breaker; retries are disabled so each Do is
	// one network attempt.
	c, _ := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 1, FailureThreshold: 5})

	for i := 0; i < 3; i++ {
		err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/x"}, nil)
		var ese *ExternalServiceError
		if !asExternal(err, &ese) {
			// With MaxRetries=1 each Do makes 2 attempts, so the breaker
			// opens mid-call on the third Do.
			var coe *CircuitOpenError
			require.ErrorAs(t, err, &coe)
		}
	}
	assert.Equal(t, StateOpen, c.BreakerState())

	before := atomic.LoadInt32(&calls)
	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/x"}, nil)

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Greater(t, coe.RetryIn, time.Duration(0))
	// Fail-fast: the open breaker blocked the call before any network IO.
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestClient_RefreshesOnceOn401(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, tokens := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 1})

	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens.refreshed))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_SecondUnauthorizedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, tokens := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 3})

	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/x"}, nil)

	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	// Exactly one refresh: no retry loop on auth failures.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokens.refreshed))
}

func TestClient_RateLimitedUsesRetryAfterHeader(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 3})

	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/x"}, nil)

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 2*time.Minute, rle.RetryAfter)
	// Quota errors are not retried locally.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	// And they do not count against the breaker.
	assert.Equal(t, StateClosed, c.BreakerState())
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, config.ClientConfig{MaxRetries: 3})

	err := c.Do(context.Background(), providers.Request{Method: "GET", Path: "/missing"}, nil)

	var ese *ExternalServiceError
	require.ErrorAs(t, err, &ese)
	assert.False(t, ese.Retryable)
	assert.Equal(t, http.StatusNotFound, ese.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, StateClosed, c.BreakerState())
}
