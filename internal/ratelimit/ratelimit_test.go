package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/ratelimit"
	"github.com/smallbiznis/shieldcart-auth/internal/store"
)

func TestWindowLimiterEnforcesMax(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)
	limiter := ratelimit.NewWindowLimiter(kv, "test", time.Minute, 2)

	r1, err := limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.True(t, r2.Allowed)

	r3, err := limiter.Allow(ctx, "ip-1")
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
}

func TestFailedLoginTrackerLockoutAtThreshold(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)
	tracker := ratelimit.NewFailedLoginTracker(kv)

	var lastDelay time.Duration
	for i := 0; i < 5; i++ {
		delay, err := tracker.RecordFailure(ctx, "bob@example.com")
		require.NoError(t, err)
		lastDelay = delay
	}
	assert.Equal(t, ratelimit.ProgressiveDelays[len(ratelimit.ProgressiveDelays)-1], lastDelay)

	blocked, retryAfter, err := tracker.CheckBlocked(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestFailedLoginTrackerClearOnSuccess(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)
	tracker := ratelimit.NewFailedLoginTracker(kv)

	_, err := tracker.RecordFailure(ctx, "carol@example.com")
	require.NoError(t, err)

	require.NoError(t, tracker.Clear(ctx, "carol@example.com"))

	blocked, _, err := tracker.CheckBlocked(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestFailedLoginTrackerSerializesConcurrentFailures(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)
	tracker := ratelimit.NewFailedLoginTracker(kv)

	const attempts = 20
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, _ = tracker.RecordFailure(ctx, "dave@example.com")
		}()
	}
	wg.Wait()

	blocked, _, err := tracker.CheckBlocked(ctx, "dave@example.com")
	require.NoError(t, err)
	assert.True(t, blocked, "20 concurrent failures must cross the 5-failure threshold, not lose increments to a lost update")
}

func TestGeneralLimiterSkipsHealthPaths(t *testing.T) {
	limiter := ratelimit.NewGeneralLimiter(1, 1, []string{"/health"})
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow("/health", "ip-1"))
	}
}
