package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/shieldcart-auth/internal/store"
)

// WindowLimiter is a fixed-window counter backed by the shared KV store —
// distributed across instances via Redis, degrading to the in-memory
// fallback on KV failure per the spec's graceful-degradation requirement.
type WindowLimiter struct {
	kv     store.KV
	prefix string
	window time.Duration
	max    int
}

// NewWindowLimiter builds a tier with a fixed max-per-window budget.
func NewWindowLimiter(kv store.KV, prefix string, window time.Duration, max int) *WindowLimiter {
	return &WindowLimiter{kv: kv, prefix: prefix, window: window, max: max}
}

// Result is what callers need to both gate the request and emit headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	RetryAfter time.Duration
}

// Allow increments the counter for key and reports whether the request is
// within budget.
func (w *WindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	count, err := w.kv.Incr(ctx, fmt.Sprintf("%s:%s", w.prefix, key), w.window)
	if err != nil {
		return Result{}, err
	}

	remaining := w.max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:    int(count) <= w.max,
		Limit:      w.max,
		Remaining:  remaining,
		RetryAfter: w.window,
	}, nil
}

// Tiers bundles the four tiers the middleware chain and orchestrator use.
type Tiers struct {
	Auth         *WindowLimiter // 5/min
	Strict       *WindowLimiter // 3/15min — password reset
	EnhancedAuto *WindowLimiter // 3/15min when automated
	Enhanced     *WindowLimiter // 10/15min otherwise
}

// NewTiers builds the standard tier set against the shared KV store.
func NewTiers(kv store.KV) *Tiers {
	return &Tiers{
		Auth:         NewWindowLimiter(kv, "rl:auth", time.Minute, 5),
		Strict:       NewWindowLimiter(kv, "rl:strict", 15*time.Minute, 3),
		EnhancedAuto: NewWindowLimiter(kv, "rl:enhanced:auto", 15*time.Minute, 3),
		Enhanced:     NewWindowLimiter(kv, "rl:enhanced", 15*time.Minute, 10),
	}
}

// EnhancedFor picks the automated or non-automated enhanced-auth tier.
func (t *Tiers) EnhancedFor(isAutomated bool) *WindowLimiter {
	if isAutomated {
		return t.EnhancedAuto
	}
	return t.Enhanced
}
