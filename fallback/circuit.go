package fallback

import (
	"sync"
	"time"

	"github.com/flowstack/agentcore/config"
)

// State is a circuit breaker's lifecycle state (spec §3 CircuitState).
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// CircuitState snapshots a breaker for observability (spec §3).
type CircuitState struct {
	State         State
	FailureCount  int
	LastFailureAt time.Time
	OpenedAt      time.Time
}

// breaker implements the per-component circuit breaker state machine of
// spec §4.1, guarded by a lock per spec §5 ("Circuit-breaker state is
// per-component and updated under a lock").
type breaker struct {
	mu sync.Mutex

	cfg   config.BreakerConfig
	state State

	failureCount  int
	windowStart   time.Time
	lastFailureAt time.Time
	openedAt      time.Time

	halfOpenProbeInFlight bool
}

func newBreaker(cfg config.BreakerConfig) *breaker {
	return &breaker{cfg: cfg, state: StateClosed}
}

// allow reports whether a call may proceed, transitioning OPEN→HALF_OPEN
// when the cooldown has elapsed (spec §4.1).
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenProbeInFlight = false
		fallthrough
	case StateHalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true
	default:
		return true
	}
}

// recordSuccess transitions HALF_OPEN→CLOSED and resets failure counters.
// It reports whether this call closed a breaker that was not already
// CLOSED, so callers can publish a transition event exactly once.
func (b *breaker) recordSuccess(now time.Time) (closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	closed = b.state != StateClosed
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenProbeInFlight = false
	return closed
}

// recordFailure increments the failure counter within the configured
// window and opens the breaker once the threshold is reached, or reopens
// immediately on a failed HALF_OPEN probe. It reports whether this call
// newly opened the breaker (transition into OPEN), so callers can publish
// a transition event exactly once.
func (b *breaker) recordFailure(now time.Time) (opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = now
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenProbeInFlight = false
		return true
	}

	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.FailureWindow {
		b.windowStart = now
		b.failureCount = 0
	}
	b.failureCount++
	if b.failureCount >= b.cfg.FailureThreshold && b.state != StateOpen {
		b.state = StateOpen
		b.openedAt = now
		return true
	}
	return false
}

func (b *breaker) snapshot() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitState{
		State:         b.state,
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
		OpenedAt:      b.openedAt,
	}
}

// gaugeValue encodes State as the 0/1/2 gauge value the teacher's
// telemetry.Metrics.RecordGauge convention expects (spec SPEC_FULL §4.1).
func (s State) gaugeValue() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
