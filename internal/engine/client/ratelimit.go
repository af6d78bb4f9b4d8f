package client

import (
	"sync"

	"sprintwatch/internal/engine/providers"
)

// RateLimitTracker keeps the latest remote quota snapshot per
// (provider, principal) key. Process-lifetime only; every response that
// carries limit headers overwrites the snapshot.
type RateLimitTracker struct {
	mu        sync.RWMutex
	snapshots map[string]providers.RateLimit
}

func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{snapshots: make(map[string]providers.RateLimit)}
}

func (t *RateLimitTracker) Update(key string, snapshot providers.RateLimit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshots[key] = snapshot
}

func (t *RateLimitTracker) Get(key string) (providers.RateLimit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snapshots[key]
	return s, ok
}
