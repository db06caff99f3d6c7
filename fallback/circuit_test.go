package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowstack/agentcore/config"
)

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{FailureThreshold: 2, FailureWindow: time.Minute, Cooldown: 10 * time.Second}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()

	assert.True(t, b.allow(now))
	assert.False(t, b.recordFailure(now))
	assert.Equal(t, StateClosed, b.snapshot().State)

	assert.True(t, b.allow(now))
	assert.True(t, b.recordFailure(now), "crossing the threshold must report a transition into OPEN")
	assert.Equal(t, StateOpen, b.snapshot().State)
	assert.False(t, b.allow(now))
	assert.False(t, b.recordFailure(now), "a breaker already OPEN must not report a repeat transition")
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	b.recordFailure(now)
	b.recordFailure(now)
	assert.Equal(t, StateOpen, b.snapshot().State)

	assert.False(t, b.allow(now.Add(5*time.Second)))
	assert.True(t, b.allow(now.Add(11*time.Second)))
	assert.Equal(t, StateHalfOpen, b.snapshot().State)
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	b.recordFailure(now)
	b.recordFailure(now)
	probeAt := now.Add(11 * time.Second)

	assert.True(t, b.allow(probeAt))
	assert.False(t, b.allow(probeAt), "a second concurrent probe must be rejected")
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	b.recordFailure(now)
	b.recordFailure(now)
	probeAt := now.Add(11 * time.Second)
	b.allow(probeAt)
	b.recordFailure(probeAt)
	assert.Equal(t, StateOpen, b.snapshot().State)
}

func TestBreakerSuccessfulProbeCloses(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	b.recordFailure(now)
	b.recordFailure(now)
	probeAt := now.Add(11 * time.Second)
	b.allow(probeAt)
	assert.True(t, b.recordSuccess(probeAt), "closing a HALF_OPEN breaker must report a transition")

	snap := b.snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)

	assert.False(t, b.recordSuccess(probeAt), "a breaker already CLOSED must not report a repeat transition")
}

func TestBreakerWindowResetsStaleFailures(t *testing.T) {
	b := newBreaker(testBreakerConfig())
	now := time.Now()
	b.recordFailure(now)
	assert.Equal(t, 1, b.snapshot().FailureCount)

	later := now.Add(2 * time.Minute)
	b.recordFailure(later)
	assert.Equal(t, 1, b.snapshot().FailureCount, "failures outside the window must not accumulate")
	assert.Equal(t, StateClosed, b.snapshot().State)
}

func TestGaugeValue(t *testing.T) {
	assert.Equal(t, 0.0, StateClosed.gaugeValue())
	assert.Equal(t, 1.0, StateHalfOpen.gaugeValue())
	assert.Equal(t, 2.0, StateOpen.gaugeValue())
}
