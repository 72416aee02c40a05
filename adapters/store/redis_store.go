package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/ports"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a counter and sets its lock in one step.
// KEYS[1] = counter, KEYS[2] = lock (optional)
// ARGV[1] = counter ttl ms, ARGV[2] = lock ttl ms, ARGV[3] = limit, ARGV[4] = reset on lock ("1"/"0"),
// ARGV[5] = refresh the counter ttl on every increment ("1"/"0")
// Returns {count, status} where status is 0 = open, 1 = locked now, 2 = already locked.
var incrementScript = redis.NewScript(`
if #KEYS > 1 and redis.call('EXISTS', KEYS[2]) == 1 then
  return {0, 2}
end

local n = redis.call('INCR', KEYS[1])
if n == 1 or ARGV[5] == '1' then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end

local limit = tonumber(ARGV[3])
if #KEYS > 1 and limit > 0 and n >= limit then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[2])
  if ARGV[4] == '1' then
    redis.call('DEL', KEYS[1])
  end
  return {n, 1}
end

return {n, 0}
`)

// consumeScript compares a stored value and deletes it together with related keys.
// KEYS[1] = value key, KEYS[2] = guard (when ARGV[2] == "1"), remaining KEYS are cleared on match
// ARGV[1] = expected value
// Returns 0 = missing, 1 = mismatch, 2 = matched, 3 = guarded.
var consumeScript = redis.NewScript(`
local first = 2
if ARGV[2] == '1' then
  if redis.call('EXISTS', KEYS[2]) == 1 then
    return 3
  end
  first = 3
end

local stored = redis.call('GET', KEYS[1])
if not stored then
  return 0
end
if stored ~= ARGV[1] then
  return 1
end

redis.call('DEL', KEYS[1])
for i = first, #KEYS do
  redis.call('DEL', KEYS[i])
end
return 2
`)

// RedisStore is a Redis implementation of the ChallengeStore interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store. Every key is namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Get retrieves a value by key
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ports.ErrNotFound
		}
		return "", unavailable(err)
	}
	return value, nil
}

// SetWithTTL stores a key with a value and expiration time
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// SetIfAbsent stores a key only when it does not exist yet
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Delete removes the given keys
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, s.keys(keys)...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// TTL returns the remaining lifetime of a key; persistent keys report zero
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	switch {
	case ttl == -2:
		return 0, ports.ErrNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

// Increment runs the counter script
func (s *RedisStore) Increment(ctx context.Context, counter ports.Counter) (ports.CounterResult, error) {
	keys := []string{s.key(counter.Key)}
	if counter.LockKey != "" {
		keys = append(keys, s.key(counter.LockKey))
	}
	reset, sliding := "0", "0"
	if counter.ResetOnLock {
		reset = "1"
	}
	if counter.SlidingTTL {
		sliding = "1"
	}

	res, err := incrementScript.Run(ctx, s.client, keys,
		counter.TTL.Milliseconds(),
		counter.LockTTL.Milliseconds(),
		counter.Limit,
		reset,
		sliding,
	).Int64Slice()
	if err != nil {
		return ports.CounterResult{}, unavailable(err)
	}
	if len(res) != 2 {
		return ports.CounterResult{}, fmt.Errorf("%w: unexpected increment reply %v", core.ErrStoreUnavailable, res)
	}

	return ports.CounterResult{
		Count:         res[0],
		Locked:        res[1] == 1,
		AlreadyLocked: res[1] == 2,
	}, nil
}

// Consume runs the compare-and-delete script
func (s *RedisStore) Consume(ctx context.Context, req ports.ConsumeRequest) (ports.ConsumeResult, error) {
	keys := []string{s.key(req.Key)}
	guarded := "0"
	if req.GuardKey != "" {
		keys = append(keys, s.key(req.GuardKey))
		guarded = "1"
	}
	keys = append(keys, s.keys(req.Clear)...)

	res, err := consumeScript.Run(ctx, s.client, keys, req.Value, guarded).Int()
	if err != nil {
		return ports.ConsumeMissing, unavailable(err)
	}

	switch res {
	case 0:
		return ports.ConsumeMissing, nil
	case 1:
		return ports.ConsumeMismatch, nil
	case 2:
		return ports.ConsumeMatched, nil
	case 3:
		return ports.ConsumeGuarded, nil
	}
	return ports.ConsumeMissing, fmt.Errorf("%w: unexpected consume reply %d", core.ErrStoreUnavailable, res)
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) keys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = s.key(k)
	}
	return out
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
}
