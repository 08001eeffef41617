package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/smallbiznis/shieldcart-auth/internal/store"
)

// ProgressiveDelays is the per-failure sleep schedule that RecordFailure
// returns and the login path sleeps for after recording a failed attempt,
// indexed by min(count, len-1).
var ProgressiveDelays = []time.Duration{
	0,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

const failedLoginWindow = 15 * time.Minute
const failedLoginThreshold = 5
const failedLoginBlockDuration = 30 * time.Minute

// lockTTL bounds how long a RecordFailure lock can be held before it
// self-expires (a crash mid-update must not wedge the key forever).
// lockRetryDelay/lockMaxAttempts bound how long a concurrent caller spins
// waiting for the same key's lock before giving up.
const (
	lockTTL         = 2 * time.Second
	lockRetryDelay  = 20 * time.Millisecond
	lockMaxAttempts = 100
)

type failedLoginState struct {
	Count       int       `json:"count"`
	FirstAttempt time.Time `json:"firstAttempt"`
	LastAttempt time.Time `json:"lastAttempt"`
	Blocked     bool      `json:"blocked"`
	BlockedUntil time.Time `json:"blockedUntil"`
}

// FailedLoginTracker implements the per-key failed-login record described
// in the spec: reset-or-increment on failure, delete on success, block at
// the threshold for a fixed duration.
type FailedLoginTracker struct {
	kv store.KV
}

// NewFailedLoginTracker builds a tracker over the shared KV store.
func NewFailedLoginTracker(kv store.KV) *FailedLoginTracker {
	return &FailedLoginTracker{kv: kv}
}

func (t *FailedLoginTracker) key(k string) string {
	return fmt.Sprintf("failedlogin:%s", k)
}

// CheckBlocked reports whether key is currently blocked and, if so, the
// remaining seconds until it unblocks.
func (t *FailedLoginTracker) CheckBlocked(ctx context.Context, key string) (blocked bool, retryAfter time.Duration, err error) {
	raw, found, err := t.kv.Get(ctx, t.key(key))
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}
	var state failedLoginState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return false, 0, nil
	}
	if !state.Blocked || time.Now().After(state.BlockedUntil) {
		return false, 0, nil
	}
	return true, time.Until(state.BlockedUntil), nil
}

// RecordFailure increments key's counter, resetting it if the window has
// expired, and sets a block once the threshold is reached. It returns the
// progressive delay the caller should sleep before proceeding.
//
// The read-modify-write is serialized behind a short-lived per-key lock
// (store.KV.SetNX) so two concurrent failures for the same key can't both
// read the same count and clobber each other's increment — without it the
// 5-failure threshold is bypassable by bursting concurrent requests.
func (t *FailedLoginTracker) RecordFailure(ctx context.Context, key string) (delay time.Duration, err error) {
	err = t.withLock(ctx, key, func() error {
		raw, found, gerr := t.kv.Get(ctx, t.key(key))
		if gerr != nil {
			return gerr
		}

		now := time.Now()
		var state failedLoginState
		if found {
			if uerr := json.Unmarshal([]byte(raw), &state); uerr != nil {
				found = false
			}
		}

		if !found || now.Sub(state.FirstAttempt) > failedLoginWindow {
			state = failedLoginState{Count: 1, FirstAttempt: now, LastAttempt: now}
		} else {
			state.Count++
			state.LastAttempt = now
		}

		if state.Count >= failedLoginThreshold {
			state.Blocked = true
			state.BlockedUntil = now.Add(failedLoginBlockDuration)
		}

		if serr := t.save(ctx, key, state); serr != nil {
			return serr
		}

		idx := state.Count
		if idx >= len(ProgressiveDelays) {
			idx = len(ProgressiveDelays) - 1
		}
		delay = ProgressiveDelays[idx]
		return nil
	})
	return delay, err
}

// withLock acquires a short-lived SetNX-based lock on key for the duration
// of fn, spinning with bounded retries if another caller holds it, and
// always releases the lock afterward. If the lock can't be acquired within
// the retry budget, it runs fn anyway — a failed-login counter degraded to
// best-effort serialization is preferable to blocking login entirely.
func (t *FailedLoginTracker) withLock(ctx context.Context, key string, fn func() error) error {
	lockKey := t.key(key) + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 36)

	acquired := false
	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		ok, err := t.kv.SetNX(ctx, lockKey, token, lockTTL)
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	if acquired {
		defer func() { _ = t.kv.Delete(ctx, lockKey) }()
	}
	return fn()
}

// Clear deletes the record for key, called on successful login.
func (t *FailedLoginTracker) Clear(ctx context.Context, key string) error {
	return t.kv.Delete(ctx, t.key(key))
}

func (t *FailedLoginTracker) save(ctx context.Context, key string, state failedLoginState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode failed-login state: %w", err)
	}
	return t.kv.Set(ctx, t.key(key), string(encoded), failedLoginWindow+failedLoginBlockDuration)
}
