package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var errUnexpectedScriptResult = errors.New("unexpected redis script result type")

// incrWithTTLScript atomically increments a counter and sets its TTL only
// the moment the key is created, so repeated Incr calls within the window
// don't keep pushing the expiry back out — the same atomic-script idiom
// goAuth's session store uses for its rotation CAS, applied here to a
// simpler counter.
const incrWithTTLScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

// RedisKV implements KV against a redis.UniversalClient, grounded on the
// teacher's RedisStateStore (same error-handling idiom: redis.Nil means
// "not found", never an error surfaced to the caller).
type RedisKV struct {
	client     redis.UniversalClient
	incrScript *redis.Script
}

var _ KV = (*RedisKV)(nil)

// NewRedisKV wraps an already-connected Redis client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client, incrScript: redis.NewScript(incrWithTTLScript)}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	result, err := r.incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	count, ok := result.(int64)
	if !ok {
		return 0, errUnexpectedScriptResult
	}
	return count, nil
}

func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

func (r *RedisKV) Healthy(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}
