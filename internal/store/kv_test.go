package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/shieldcart-auth/internal/store"
)

func TestMemoryKVIncrAndExpire(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)

	count, err := kv.Incr(ctx, "k1", time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = kv.Incr(ctx, "k1", time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, found, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisKVIncrUsesScript(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewRedisKV(client)
	ctx := context.Background()

	count, err := kv.Incr(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = kv.Incr(ctx, "auth:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	ttl := mr.TTL("auth:1.2.3.4")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestDegradingKVFallsBackOnPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	failing := &alwaysFailKV{}
	fallback := store.NewMemoryKV(ctx)

	kv := store.NewDegradingKV(failing, fallback, nil, 1, time.Millisecond)
	err := kv.Set(ctx, "k", "v", time.Minute)
	require.NoError(t, err)
	assert.False(t, kv.Distributed())

	value, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)
}

func TestMemoryKVSetNXIsExclusive(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV(ctx)

	ok, err := kv.SetNX(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetNX(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx, "lock"))
	ok, err = kv.SetNX(ctx, "lock", "c", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisKVSetNXIsExclusive(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := store.NewRedisKV(client)
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = kv.SetNX(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

type alwaysFailKV struct{}

func (a *alwaysFailKV) Get(context.Context, string) (string, bool, error) { return "", false, assertErr }
func (a *alwaysFailKV) Set(context.Context, string, string, time.Duration) error { return assertErr }
func (a *alwaysFailKV) Incr(context.Context, string, time.Duration) (int64, error) { return 0, assertErr }
func (a *alwaysFailKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, assertErr
}
func (a *alwaysFailKV) Delete(context.Context, string) error { return assertErr }
func (a *alwaysFailKV) Healthy(context.Context) bool { return false }

var assertErr = assertError("primary unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }
