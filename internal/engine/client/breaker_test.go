package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure(now)
		assert.Equal(t, StateClosed, b.State(), "breaker should stay closed below threshold")
		assert.True(t, b.Allow(now))
	}

	b.RecordFailure(now)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(now))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure(now)
	}
	b.RecordSuccess()
	assert.Equal(t, 0, b.Failures())

	// Four more failures still do not trip it.
	for i := 0; i < 4; i++ {
		b.RecordFailure(now)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	assert.False(t, b.Allow(now.Add(59*time.Second)))

	// Cooldown elapsed: exactly one probe is admitted.
	probe := now.Add(61 * time.Second)
	assert.True(t, b.Allow(probe))
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	probe := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(probe))

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	probe := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(probe))

	// A single failed probe reopens regardless of threshold.
	b.RecordFailure(probe)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow(probe.Add(time.Second)))

	// And the cooldown restarts from the probe failure.
	assert.True(t, b.Allow(probe.Add(61*time.Second)))
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	probe := now.Add(2 * time.Minute)

	admitted := 0
	for i := 0; i < 5; i++ {
		if b.Allow(probe) {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted, "half-open must admit exactly one probe before a result")
	assert.Equal(t, StateHalfOpen, b.State())

	// A failed probe restarts the cooldown and a new single probe is
	// admitted once it elapses.
	b.RecordFailure(probe)
	assert.Equal(t, StateOpen, b.State())

	later := probe.Add(61 * time.Second)
	assert.True(t, b.Allow(later))
	assert.False(t, b.Allow(later))
}

func TestBreaker_ProbeSettledReleasesSlot(t *testing.T) {
	now := time.Now()
	b := NewBreaker(5, time.Minute)

	for i := 0; i < 5; i++ {
		b.RecordFailure(now)
	}
	probe := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(probe))
	assert.False(t, b.Allow(probe))

	// The probe came back with a verdict-free outcome (429, 4xx): the
	// slot opens for the next caller without closing the circuit.
	b.ProbeSettled()
	assert.Equal(t, StateHalfOpen, b.State())
	assert.True(t, b.Allow(probe.Add(time.Second)))
	assert.False(t, b.Allow(probe.Add(time.Second)))
}

func TestBreaker_RetryIn(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Minute)

	assert.Equal(t, time.Duration(0), b.RetryIn(now))

	b.RecordFailure(now)
	assert.Equal(t, time.Minute, b.RetryIn(now))
	assert.Equal(t, 30*time.Second, b.RetryIn(now.Add(30*time.Second)))
	assert.Equal(t, time.Duration(0), b.RetryIn(now.Add(2*time.Minute)))
}

func TestBreakerRegistry_IsolatesKeys(t *testing.T) {
	reg := NewBreakerRegistry(1, time.Minute)
	now := time.Now()

	reg.With("github:inst-1", func(b *Breaker) {
		b.RecordFailure(now)
	})

	assert.Equal(t, StateOpen, reg.StateOf("github:inst-1"))
	assert.Equal(t, StateClosed, reg.StateOf("github:inst-2"))
	assert.Equal(t, StateClosed, reg.StateOf("gitlab:inst-1"))
}
