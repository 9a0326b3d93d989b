package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps failures talking to Redis
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultKeyPrefix = "keystone:ratelimit:"

// Reset, increment and read happen in one script so concurrent instances
// cannot interleave between the expiry check and the write.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'count', 'start', 'end')
local count = tonumber(state[1])
local start = tonumber(state[2])
local finish = tonumber(state[3])
if count == nil or start == nil or finish == nil or now > finish then
  count = 1
  start = now
  finish = now + window
  redis.call('HSET', KEYS[1], 'count', count, 'start', start, 'end', finish)
  redis.call('PEXPIRE', KEYS[1], window + 1000)
elseif count < ceiling then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
end
return {count, start, finish}
`)

var decrementScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count ~= nil and count > 0 then
  return redis.call('HINCRBY', KEYS[1], 'count', -1)
end
return 0
`)

// RedisWindowStore keeps windows in Redis hashes so that several service
// instances enforce one shared limit. Expired windows are dropped by key TTL.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisWindowStore creates a store on the given client
func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

// Increment implements WindowStore
func (s *RedisWindowStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration, ceiling int) (Window, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), ceiling).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("%w: unexpected script result %v", ErrRedisUnavailable, res)
	}

	return Window{
		Count: int(res[0]),
		Start: time.UnixMilli(res[1]).UTC(),
		End:   time.UnixMilli(res[2]).UTC(),
	}, nil
}

// Decrement implements WindowStore
func (s *RedisWindowStore) Decrement(ctx context.Context, key string) error {
	if err := decrementScript.Run(ctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep implements WindowStore. Redis expires windows through key TTL, so
// there is nothing to remove here.
func (s *RedisWindowStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
