package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts for the check-and-act operations.  Keeping the comparison and
// the mutation inside a single script is what makes ownership checks safe
// after a TTL-based expiry handed the key to someone else.
var (
	compareAndDeleteScript = redis.NewScript(`
        if redis.call('GET', KEYS[1]) == ARGV[1] then
            return redis.call('DEL', KEYS[1])
        end
        return 0
    `)

	compareAndExtendScript = redis.NewScript(`
        if redis.call('GET', KEYS[1]) == ARGV[1] then
            return redis.call('PEXPIRE', KEYS[1], ARGV[2])
        end
        return 0
    `)

	// windowTakeScript prunes the sorted set, counts what is left and adds
	// the new member only when under the limit.  The probe must not count
	// against the caller when rejected, hence the conditional ZADD.
	windowTakeScript = redis.NewScript(`
        redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
        local count = redis.call('ZCARD', KEYS[1])
        if count < tonumber(ARGV[2]) then
            redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
            redis.call('EXPIRE', KEYS[1], ARGV[5])
            return {count + 1, 1}
        end
        return {count, 0}
    `)

	windowCountScript = redis.NewScript(`
        redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
        return redis.call('ZCARD', KEYS[1])
    `)
)

// RedisStore implements Store on a single Redis instance.  Single-key
// operations on one node are linearizable, which is all the coordination
// layer assumes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already connected client.  The caller owns the
// client's lifecycle and closes it on shutdown.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := compareAndExtendScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("compare-and-extend %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) WindowTake(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error) {
	windowStart := now.Add(-window).UnixMicro()
	score := now.UnixMicro()
	// Score collisions are fine; the member must be unique per event so
	// concurrent callers in the same microsecond both land in the set.
	member := strconv.FormatInt(now.UnixNano(), 10)
	ttlSeconds := int64(window/time.Second) + 1

	vals, err := windowTakeScript.Run(ctx, s.client, []string{key},
		windowStart, limit, score, member, ttlSeconds).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("window-take %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("window-take %s: unexpected script result %#v", key, vals)
	}
	count, _ := vals[0].(int64)
	admitted, _ := vals[1].(int64)
	return count, admitted == 1, nil
}

func (s *RedisStore) WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	windowStart := now.Add(-window).UnixMicro()
	count, err := windowCountScript.Run(ctx, s.client, []string{key}, windowStart).Int64()
	if err != nil {
		return 0, fmt.Errorf("window-count %s: %w", key, err)
	}
	return count, nil
}
