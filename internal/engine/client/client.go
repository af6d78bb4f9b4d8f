package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
)

// TokenSource supplies valid credentials for a principal. Implemented
// by the token store; refresh storms are collapsed there.
type TokenSource interface {
	GetValidToken(ctx context.Context, integrationID, principalID string) (*models.Credential, error)
	ForceRefresh(ctx context.Context, integrationID, principalID string) (*models.Credential, error)
}

// Client is the authenticated facade every outbound provider call goes
// through: breaker gate, token attach, rate-limit bookkeeping, and
// bounded retry of transient failures.
type Client struct {
	provider    providers.Provider
	integration *models.Integration
	tokens      TokenSource
	breakers    *BreakerRegistry
	limits      *RateLimitTracker
	cfg         config.ClientConfig
	http        *http.Client
	log         zerolog.Logger
}

func New(provider providers.Provider, integration *models.Integration, tokens TokenSource,
	breakers *BreakerRegistry, limits *RateLimitTracker, cfg config.ClientConfig) *Client {

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		provider:    provider,
		integration: integration,
		tokens:      tokens,
		breakers:    breakers,
		limits:      limits,
		cfg:         cfg,
		http:        &http.Client{Timeout: timeout},
		log: log.With().Str("provider", provider.Name()).
			Str("integration_id", integration.ID).Logger(),
	}
}

// Key identifies this client's breaker and rate-limit state.
func (c *Client) Key() string {
	return c.provider.Name() + ":" + c.integration.PrincipalID
}

func (c *Client) BreakerState() BreakerState {
	return c.breakers.StateOf(c.Key())
}

func (c *Client) RateLimit() (providers.RateLimit, bool) {
	return c.limits.Get(c.Key())
}

// Source returns the typed pull operations backed by this client.
func (c *Client) Source() providers.Source {
	return c.provider.Source(c, c.integration)
}

// Do executes one provider API call and decodes the JSON response into
// out (which may be nil). Transient 5xx/network failures are retried
// with exponential backoff; auth, quota and breaker failures surface as
// their typed errors without local retry.
func (c *Client) Do(ctx context.Context, req providers.Request, out interface{}) error {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := c.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if err := c.checkBreaker(); err != nil {
			return backoff.Permanent(err)
		}
		err := c.dispatch(ctx, req, out)
		// Outcomes like 429 or 4xx record neither success nor failure;
		// release the half-open probe slot so the breaker cannot wedge.
		c.breakers.With(c.Key(), func(b *Breaker) { b.ProbeSettled() })
		if err == nil {
			return nil
		}
		attempt++
		var ese *ExternalServiceError
		if asExternal(err, &ese) && ese.Retryable {
			c.log.Warn().Err(err).Int("attempt", attempt).Str("path", req.Path).
				Msg("transient provider failure")
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(maxRetries)))
}

func (c *Client) checkBreaker() error {
	var blocked error
	now := time.Now()
	c.breakers.With(c.Key(), func(b *Breaker) {
		if !b.Allow(now) {
			blocked = &CircuitOpenError{
				Provider:    c.provider.Name(),
				PrincipalID: c.integration.PrincipalID,
				RetryIn:     b.RetryIn(now),
			}
		}
	})
	return blocked
}

// dispatch performs a single authenticated request. A 401 triggers
// exactly one forced refresh and one repeat; a second 401 is terminal.
func (c *Client) dispatch(ctx context.Context, req providers.Request, out interface{}) error {
	cred, err := c.tokens.GetValidToken(ctx, c.integration.ID, c.integration.PrincipalID)
	if err != nil {
		return &AuthenticationError{Provider: c.provider.Name(), PrincipalID: c.integration.PrincipalID, Err: err}
	}

	resp, body, err := c.send(ctx, req, cred)
	if err != nil {
		c.recordFailure()
		return &ExternalServiceError{Provider: c.provider.Name(), Retryable: true, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		cred, err = c.tokens.ForceRefresh(ctx, c.integration.ID, c.integration.PrincipalID)
		if err != nil {
			return &AuthenticationError{Provider: c.provider.Name(), PrincipalID: c.integration.PrincipalID, Err: err}
		}
		resp, body, err = c.send(ctx, req, cred)
		if err != nil {
			c.recordFailure()
			return &ExternalServiceError{Provider: c.provider.Name(), Retryable: true, Err: err}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &AuthenticationError{
				Provider:    c.provider.Name(),
				PrincipalID: c.integration.PrincipalID,
				Err:         fmt.Errorf("still unauthorized after token refresh"),
			}
		}
	}

	if snapshot, ok := c.provider.ParseRateLimit(resp.Header); ok {
		c.limits.Update(c.Key(), snapshot)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: c.provider.Name(), RetryAfter: c.retryAfter(resp)}

	case resp.StatusCode >= 500:
		c.recordFailure()
		return &ExternalServiceError{
			Provider:   c.provider.Name(),
			StatusCode: resp.StatusCode,
			Body:       excerpt(body),
			Retryable:  true,
		}

	case resp.StatusCode >= 400:
		return &ExternalServiceError{
			Provider:   c.provider.Name(),
			StatusCode: resp.StatusCode,
			Body:       excerpt(body),
			Retryable:  false,
		}
	}

	c.breakers.With(c.Key(), func(b *Breaker) { b.RecordSuccess() })

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", c.provider.Name(), err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, req providers.Request, cred *models.Credential) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	fullURL := c.provider.BaseURL(c.integration) + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, reqBody)
	if err != nil {
		return nil, nil, err
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.provider.Authenticate(httpReq, cred)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) recordFailure() {
	now := time.Now()
	c.breakers.With(c.Key(), func(b *Breaker) {
		b.RecordFailure(now)
		if b.State() == StateOpen {
			c.log.Error().Int("failures", b.Failures()).Msg("circuit breaker opened")
		}
	})
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if snapshot, ok := c.limits.Get(c.Key()); ok && !snapshot.ResetAt.IsZero() {
		if d := time.Until(snapshot.ResetAt); d > 0 {
			return d
		}
	}
	return time.Minute
}

func excerpt(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

func asExternal(err error, target **ExternalServiceError) bool {
	e, ok := err.(*ExternalServiceError)
	if ok {
		*target = e
	}
	return ok
}
