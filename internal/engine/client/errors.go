package client

import (
	"fmt"
	"time"
)

// AuthenticationError: the credential is bad or expired and one refresh
// attempt did not fix it. Terminal for this call.
type AuthenticationError struct {
	Provider    string
	PrincipalID string
	Err         error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed for principal %s: %v", e.Provider, e.PrincipalID, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitError: remote quota exhausted. The caller backs off until
// RetryAfter; this layer never busy-retries a 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limit exhausted, retry in %s", e.Provider, e.RetryAfter)
}

// CircuitOpenError: the breaker is open; no network call was attempted.
type CircuitOpenError struct {
	Provider    string
	PrincipalID string
	RetryIn     time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit open for principal %s, retry in %s", e.Provider, e.PrincipalID, e.RetryIn)
}

// ExternalServiceError: the provider returned an error response or the
// network failed. Retryable marks 5xx/network faults already retried by
// this layer; non-retryable 4xx surface immediately.
type ExternalServiceError struct {
	Provider   string
	StatusCode int
	Body       string
	Retryable  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
