// Package ratelimit implements the general/auth/strict/enhanced-auth tiers
// and the failed-login tracker described in the spec, sharing the KV
// backing store with in-memory fallback.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GeneralLimiter is a per-key in-process token bucket, adapted from the
// teacher's middleware/ratelimit.go: lazily created limiters, stale entries
// evicted every 5 minutes. It is process-local by design — the general tier
// only needs to shed obviously excessive traffic per instance, not enforce
// a cross-instance budget the way the auth/strict/enhanced-auth tiers do.
type GeneralLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateEntry
	rps      rate.Limit
	burst    int
	skip     map[string]bool
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGeneralLimiter builds a limiter allowing rps requests/sec per key with
// the given burst, skipping the given health-check paths entirely.
func NewGeneralLimiter(rps float64, burst int, skipPaths []string) *GeneralLimiter {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	g := &GeneralLimiter{
		limiters: make(map[string]*rateEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		skip:     skip,
	}
	go g.evictLoop()
	return g
}

func (g *GeneralLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		g.evictStale()
	}
}

func (g *GeneralLimiter) evictStale() {
	cutoff := time.Now().Add(-5 * time.Minute)
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, entry := range g.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(g.limiters, key)
		}
	}
}

// Allow reports whether a request keyed by key and for the given path
// should proceed.
func (g *GeneralLimiter) Allow(path, key string) bool {
	if g.skip[path] {
		return true
	}

	g.mu.Lock()
	entry, ok := g.limiters[key]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(g.rps, g.burst)}
		g.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	g.mu.Unlock()

	return limiter.Allow()
}

// WriteHeaders sets the standard rate-limit response headers.
func WriteHeaders(w http.ResponseWriter, limit, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}
