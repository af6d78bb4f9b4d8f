package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"sprintwatch/internal/engine/providers"
)

func TestRateLimitTracker_UnknownKey(t *testing.T) {
	tracker := NewRateLimitTracker()

	_, ok := tracker.Get("github:inst-1")
	assert.False(t, ok)
}

func TestRateLimitTracker_LatestSnapshotWins(t *testing.T) {
	tracker := NewRateLimitTracker()
	reset := time.Now().Add(time.Hour)

	tracker.Update("github:inst-1", providers.RateLimit{Limit: 5000, Remaining: 4000, ResetAt: reset})
	tracker.Update("github:inst-1", providers.RateLimit{Limit: 5000, Remaining: 3999, ResetAt: reset})

	got, ok := tracker.Get("github:inst-1")
	assert.True(t, ok)
	assert.Equal(t, 3999, got.Remaining)
	assert.Equal(t, 5000, got.Limit)
}

func TestRateLimitTracker_KeysAreIndependent(t *testing.T) {
	tracker := NewRateLimitTracker()

	tracker.Update("github:inst-1", providers.RateLimit{Limit: 5000, Remaining: 10})
	tracker.Update("gitlab:inst-2", providers.RateLimit{Limit: 600, Remaining: 599})

	gh, _ := tracker.Get("github:inst-1")
	gl, _ := tracker.Get("gitlab:inst-2")
	assert.Equal(t, 10, gh.Remaining)
	assert.Equal(t, 599, gl.Remaining)
}
