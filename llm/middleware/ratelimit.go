// Package middleware provides reusable llm.Client middlewares such as
// adaptive rate limiting (ground: features/model/middleware/ratelimit.go,
// stripped of its Pulse cluster-coordination variant per DESIGN.md — this
// module does not depend on distributed coordination).
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowstack/agentcore/llm"
)

// AdaptiveRateLimiter applies an AIMD-style token bucket on top of an
// llm.Client: it estimates the token cost of each request, blocks callers
// until capacity is available, and halves its effective tokens-per-minute
// budget whenever the provider reports rate limiting, recovering linearly
// on each subsequent success.
type AdaptiveRateLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM, minTPM, maxTPM float64
	recoveryRate               float64
}

// NewAdaptiveRateLimiter constructs a process-local AdaptiveRateLimiter.
// initialTPM and maxTPM are expressed in tokens per minute; maxTPM is
// clamped up to initialTPM when smaller.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns an llm.Client that enforces the adaptive limit before
// delegating Complete/Stream calls to next.
func (l *AdaptiveRateLimiter) Wrap(next llm.Client) llm.Client {
	if next == nil {
		return nil
	}
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    llm.Client
	limiter *AdaptiveRateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, messages []*llm.Message, opts llm.Options) (string, error) {
	if err := c.limiter.wait(ctx, messages); err != nil {
		return "", err
	}
	out, err := c.next.Complete(ctx, messages, opts)
	c.limiter.observe(err)
	return out, err
}

func (c *limitedClient) Stream(ctx context.Context, messages []*llm.Message, opts llm.Options) (llm.Streamer, error) {
	if err := c.limiter.wait(ctx, messages); err != nil {
		return nil, err
	}
	s, err := c.next.Stream(ctx, messages, opts)
	c.limiter.observe(err)
	return s, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, messages []*llm.Message) error {
	return l.limiter.WaitN(ctx, estimateTokens(messages))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if pe, ok := llm.AsProviderError(err); ok && pe.Kind == llm.ErrorKindRateLimited {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens computes a cheap heuristic for the token cost of messages:
// roughly one token per three characters of text content, plus a fixed
// buffer for framing overhead.
func estimateTokens(messages []*llm.Message) int {
	var chars int
	for _, m := range messages {
		for _, p := range m.Parts {
			if v, ok := p.(llm.TextPart); ok {
				chars += len(v.Text)
			}
		}
	}
	if chars <= 0 {
		return 500
	}
	return chars/3 + 50
}
