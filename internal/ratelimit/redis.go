package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore keeps per-key admission timestamps in a Redis sorted set scored
// by nanosecond timestamps, so pruning is a single ZREMRANGEBYSCORE.
type RedisStore struct {
	client redis.UniversalClient
	seq    atomic.Uint64
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// CountInWindow prunes entries older than cutoff and returns the remaining
// cardinality. Both commands ride one pipeline round-trip.
func (s *RedisStore) CountInWindow(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	rkey := redisKeyPrefix + key
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("ratelimit count %q: %w", key, err)
	}
	return card.Val(), nil
}

// Record appends an entry stamped now and refreshes the key TTL so idle keys
// expire on their own. Members carry a process-local sequence suffix so two
// admissions in the same nanosecond stay distinct.
func (s *RedisStore) Record(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	rkey := redisKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, rkey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit record %q: %w", key, err)
	}
	return nil
}
