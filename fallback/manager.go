// Package fallback implements the Fallback Manager (spec §4.1): a strategy
// dispatcher plus per-component circuit breaker that turns fallible calls
// into typed Results instead of propagated panics.
package fallback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/flowstack/agentcore/config"
	"github.com/flowstack/agentcore/errs"
	"github.com/flowstack/agentcore/llm"
	"github.com/flowstack/agentcore/observer"
	"github.com/flowstack/agentcore/telemetry"
)

// Alternative is a named fallible operation tried in order by the
// ALTERNATIVE strategy (spec §4.1).
type Alternative struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

// DegradedHandler synthesizes a result when the primary operation and any
// alternatives fail (spec §4.1).
type DegradedHandler func(err error, ctx context.Context) (any, error)

// Context carries the per-call configuration executeWithFallback consumes
// (spec §4.1 "Public contract").
type Context struct {
	Component       config.Component
	OperationType   string
	Alternatives    []Alternative
	DegradedHandler DegradedHandler
	Strategy        config.Strategy // overrides the component's configured default when non-empty
}

// Result is what executeWithFallback always returns; it never propagates
// an error up the call stack (spec §4.1 "Failure semantics").
type Result struct {
	Success  bool
	Value    any
	Err      error
	Degraded bool
	Attempts int
}

// Manager is the Fallback Manager. One Manager instance is shared across a
// process; it owns one circuit breaker per Component (spec §5 "Circuit-
// breaker state is per-component").
type Manager struct {
	cfg     config.Config
	logger  telemetry.Logger
	metrics telemetry.Metrics
	now     func() time.Time
	rng     *rand.Rand
	rngMu   sync.Mutex
	bus     *observer.Bus

	breakersMu sync.Mutex
	breakers   map[config.Component]*breaker
}

// Options configures a Manager.
type Options struct {
	Config  config.Config
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	// Now overrides time.Now for deterministic tests.
	Now func() time.Time
	// RandSource seeds the retry-jitter generator. A supplied source makes
	// jitter reproducible in tests (spec SPEC_FULL §4.1: "never math/rand's
	// global source").
	RandSource rand.Source
	// Bus, if set, receives CircuitOpenedEvent/CircuitClosedEvent on breaker
	// state transitions (spec §6.4).
	Bus *observer.Bus
}

// NewManager constructs a Manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	src := opts.RandSource
	if src == nil {
		src = rand.NewSource(1)
	}
	return &Manager{
		cfg:      opts.Config,
		logger:   logger,
		metrics:  metrics,
		now:      now,
		rng:      rand.New(src),
		bus:      opts.Bus,
		breakers: make(map[config.Component]*breaker),
	}
}

func (m *Manager) publish(ctx context.Context, evt observer.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, evt)
}

func (m *Manager) breakerFor(c config.Component) *breaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	b, ok := m.breakers[c]
	if !ok {
		b = newBreaker(m.cfg.Breaker)
		m.breakers[c] = b
	}
	return b
}

// CircuitState returns a snapshot of c's breaker for observability.
func (m *Manager) CircuitState(c config.Component) CircuitState {
	return m.breakerFor(c).snapshot()
}

// Execute wraps op in the strategy configured for fctx.Component (or the
// override in fctx.Strategy), honoring the circuit breaker (spec §4.1).
func (m *Manager) Execute(ctx context.Context, fctx Context, op func(ctx context.Context) (any, error)) Result {
	strategy := fctx.Strategy
	if strategy == "" {
		strategy = m.cfg.StrategyFor(fctx.Component)
	}
	b := m.breakerFor(fctx.Component)

	if !b.allow(m.now()) {
		m.logger.Warn(ctx, "fallback: circuit open", "component", string(fctx.Component), "operation", fctx.OperationType)
		err := errs.New(errs.KindCircuitOpen, string(fctx.Component), "circuit open")
		return m.tryDegraded(ctx, fctx, err, 0)
	}

	switch strategy {
	case config.StrategyRetry:
		return m.executeRetry(ctx, fctx, b, op)
	case config.StrategyAlternative:
		return m.executeAlternative(ctx, fctx, b, op)
	case config.StrategyDegraded:
		return m.executeDegraded(ctx, fctx, b, op)
	default:
		return m.executeFailFast(ctx, fctx, b, op)
	}
}

func (m *Manager) recordGauge(c config.Component, b *breaker) {
	m.metrics.RecordGauge("circuit_state", b.snapshot().State.gaugeValue(), "component", string(c))
}

func (m *Manager) onSuccess(ctx context.Context, fctx Context, b *breaker, now time.Time) {
	if b.recordSuccess(now) {
		m.publish(ctx, observer.NewCircuitClosedEvent(string(fctx.Component)))
	}
	m.recordGauge(fctx.Component, b)
}

func (m *Manager) onFailure(ctx context.Context, fctx Context, b *breaker, now time.Time) {
	if b.recordFailure(now) {
		m.publish(ctx, observer.NewCircuitOpenedEvent(string(fctx.Component)))
	}
	m.recordGauge(fctx.Component, b)
}

func (m *Manager) executeFailFast(ctx context.Context, fctx Context, b *breaker, op func(context.Context) (any, error)) Result {
	v, err := op(ctx)
	now := m.now()
	if err != nil {
		m.onFailure(ctx, fctx, b, now)
		return m.tryDegraded(ctx, fctx, err, 1)
	}
	m.onSuccess(ctx, fctx, b, now)
	return Result{Success: true, Value: v, Attempts: 1}
}

// executeRetry implements spec §4.1's retry policy: attempt 1 immediate,
// attempt k≥2 sleeps min(baseDelay*backoff^(k-1), maxDelay) ±25% jitter.
// Only the terminal outcome feeds the breaker (spec §4.1 "Retries count
// against the breaker as one logical call").
func (m *Manager) executeRetry(ctx context.Context, fctx Context, b *breaker, op func(context.Context) (any, error)) Result {
	retry := m.cfg.Retry
	maxAttempts := retry.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := m.retryDelay(retry, attempt)
			select {
			case <-ctx.Done():
				lastErr = errs.Wrap(errs.KindTimeout, string(fctx.Component), "context cancelled during retry backoff", ctx.Err())
				return m.finishRetry(ctx, fctx, b, lastErr, attempt)
			case <-time.After(delay):
			}
		}
		v, err := op(ctx)
		if err == nil {
			m.onSuccess(ctx, fctx, b, m.now())
			return Result{Success: true, Value: v, Attempts: attempt}
		}
		lastErr = err
		if pe, ok := llm.AsProviderError(err); ok {
			if !pe.Retryable {
				break
			}
		} else if !errs.Retryable(err) {
			break
		}
	}
	return m.finishRetry(ctx, fctx, b, lastErr, maxAttempts)
}

func (m *Manager) finishRetry(ctx context.Context, fctx Context, b *breaker, err error, attempts int) Result {
	m.onFailure(ctx, fctx, b, m.now())
	res := m.tryDegraded(ctx, fctx, err, attempts)
	res.Attempts = attempts
	return res
}

func (m *Manager) retryDelay(retry config.RetryConfig, attempt int) time.Duration {
	base := float64(retry.BaseDelay)
	backoff := retry.Backoff
	if backoff <= 0 {
		backoff = 2.0
	}
	raw := base
	for i := 0; i < attempt-1; i++ {
		raw *= backoff
	}
	capped := raw
	if retry.MaxDelay > 0 && capped > float64(retry.MaxDelay) {
		capped = float64(retry.MaxDelay)
	}
	jitterFactor := 1 + (m.jitter()*2-1)*0.25
	return time.Duration(capped * jitterFactor)
}

func (m *Manager) jitter() float64 {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64()
}

func (m *Manager) executeAlternative(ctx context.Context, fctx Context, b *breaker, op func(context.Context) (any, error)) Result {
	v, err := op(ctx)
	if err == nil {
		m.onSuccess(ctx, fctx, b, m.now())
		return Result{Success: true, Value: v, Attempts: 1}
	}
	attempts := 1
	for _, alt := range fctx.Alternatives {
		attempts++
		v, err = alt.Execute(ctx)
		if err == nil {
			m.onSuccess(ctx, fctx, b, m.now())
			return Result{Success: true, Value: v, Attempts: attempts}
		}
		m.logger.Warn(ctx, "fallback: alternative failed", "component", string(fctx.Component), "alternative", alt.Name, "error", err)
	}
	m.onFailure(ctx, fctx, b, m.now())
	res := m.tryDegraded(ctx, fctx, err, attempts)
	res.Attempts = attempts
	return res
}

func (m *Manager) executeDegraded(ctx context.Context, fctx Context, b *breaker, op func(context.Context) (any, error)) Result {
	v, err := op(ctx)
	now := m.now()
	if err == nil {
		m.onSuccess(ctx, fctx, b, now)
		return Result{Success: true, Value: v, Attempts: 1}
	}
	m.onFailure(ctx, fctx, b, now)
	return m.tryDegraded(ctx, fctx, err, 1)
}

func (m *Manager) tryDegraded(ctx context.Context, fctx Context, err error, attempts int) Result {
	if !m.cfg.EnableDegradedMode || fctx.DegradedHandler == nil {
		return Result{Success: false, Err: err, Attempts: attempts}
	}
	v, derr := fctx.DegradedHandler(err, ctx)
	if derr != nil {
		return Result{Success: false, Err: derr, Attempts: attempts}
	}
	return Result{Success: true, Value: v, Degraded: true, Attempts: attempts}
}
