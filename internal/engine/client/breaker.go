package client

import (
	"sync"
	"time"
)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is the per-principal circuit state machine:
//
//	closed --failures>=threshold--> open --cooldown elapsed--> half-open
//	half-open --success--> closed
//	half-open --failure--> open (cooldown restarts)
//
// Half-open admits one probe at a time; overlapping callers are refused
// until the probe settles.
//
// Transitions are pure over the passed-in clock so they test without
// network or sleeps. Not safe for concurrent use; the registry guards it.
type Breaker struct {
	state         BreakerState
	failures      int
	lastFailureAt time.Time
	probing       bool

	threshold int
	cooldown  time.Duration
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed at the given instant. When
// the cooldown has elapsed the breaker moves to half-open and admits
// exactly one probing call.
func (b *Breaker) Allow(now time.Time) bool {
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	case StateOpen:
		if now.Sub(b.lastFailureAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	}
	return true
}

// RetryIn reports how long until an open breaker admits a probe.
func (b *Breaker) RetryIn(now time.Time) time.Duration {
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cooldown - now.Sub(b.lastFailureAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *Breaker) RecordSuccess() {
	b.failures = 0
	b.probing = false
	b.state = StateClosed
}

func (b *Breaker) RecordFailure(now time.Time) {
	b.failures++
	b.lastFailureAt = now
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// ProbeSettled releases the half-open probe slot for call outcomes that
// touch neither RecordSuccess nor RecordFailure (quota exhaustion,
// client errors, auth failures). Without it a probe ending in 429 would
// hold the slot forever.
func (b *Breaker) ProbeSettled() {
	b.probing = false
}

func (b *Breaker) State() BreakerState { return b.state }
func (b *Breaker) Failures() int       { return b.failures }

// BreakerRegistry holds one breaker per (provider, principal) key.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// With runs fn while holding the registry lock, creating the breaker on
// first use.
func (r *BreakerRegistry) With(key string, fn func(b *Breaker)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.threshold, r.cooldown)
		r.breakers[key] = b
	}
	fn(b)
}

// StateOf reports the current state for health output.
func (r *BreakerRegistry) StateOf(key string) BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b.state
	}
	return StateClosed
}
