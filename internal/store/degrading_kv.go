package store

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DegradingKV wraps a primary (Redis) KV with an in-memory fallback. Every
// call to the primary is retried with bounded backoff; once the retry
// budget for a call is exhausted, that call falls through to memory and the
// mode flips to "degraded" until the next successful primary call — the
// failure degrades availability of distributed coordination, never the
// request itself.
type DegradingKV struct {
	primary  KV
	fallback KV
	logger   *zap.Logger
	degraded atomic.Bool
	retries  int
	backoff  time.Duration
}

// NewDegradingKV builds a DegradingKV; retries/backoff bound how long a
// single call waits on the primary before falling through.
func NewDegradingKV(primary, fallback KV, logger *zap.Logger, retries int, backoff time.Duration) *DegradingKV {
	if retries < 1 {
		retries = 1
	}
	return &DegradingKV{primary: primary, fallback: fallback, logger: logger, retries: retries, backoff: backoff}
}

// Distributed reports whether the primary store is currently considered
// healthy — exposed on health endpoints per the spec's requirement that
// operators can see whether distributed mode is active.
func (d *DegradingKV) Distributed() bool {
	return !d.degraded.Load()
}

func (d *DegradingKV) markDegraded(err error) {
	if d.degraded.CompareAndSwap(false, true) && d.logger != nil {
		d.logger.Warn("kv store degraded to in-memory fallback", zap.Error(err))
	}
}

func (d *DegradingKV) markRecovered() {
	if d.degraded.CompareAndSwap(true, false) && d.logger != nil {
		d.logger.Info("kv store recovered, primary backend active")
	}
}

func (d *DegradingKV) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < d.retries; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff):
			}
			continue
		}
		d.markRecovered()
		return nil
	}
	d.markDegraded(lastErr)
	return lastErr
}

func (d *DegradingKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := d.withRetry(ctx, func() error {
		v, ok, err := d.primary.Get(ctx, key)
		value, found = v, ok
		return err
	})
	if err != nil {
		return d.fallback.Get(ctx, key)
	}
	return value, found, nil
}

func (d *DegradingKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := d.withRetry(ctx, func() error {
		return d.primary.Set(ctx, key, value, ttl)
	})
	if err != nil {
		return d.fallback.Set(ctx, key, value, ttl)
	}
	return nil
}

func (d *DegradingKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var count int64
	err := d.withRetry(ctx, func() error {
		c, err := d.primary.Incr(ctx, key, ttl)
		count = c
		return err
	})
	if err != nil {
		return d.fallback.Incr(ctx, key, ttl)
	}
	return count, nil
}

func (d *DegradingKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := d.withRetry(ctx, func() error {
		set, err := d.primary.SetNX(ctx, key, value, ttl)
		ok = set
		return err
	})
	if err != nil {
		return d.fallback.SetNX(ctx, key, value, ttl)
	}
	return ok, nil
}

func (d *DegradingKV) Delete(ctx context.Context, key string) error {
	err := d.withRetry(ctx, func() error {
		return d.primary.Delete(ctx, key)
	})
	if err != nil {
		return d.fallback.Delete(ctx, key)
	}
	return nil
}

func (d *DegradingKV) Healthy(ctx context.Context) bool {
	return d.primary.Healthy(ctx)
}
