package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the tracker with a Redis sorted set per user (member
// scored by event time in milliseconds) and a plain last-seen key.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed velocity store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func eventsKey(userID string) string   { return "velocity:user:" + userID }
func lastSeenKey(userID string) string { return "velocity:last-seen:" + userID }

func (s *RedisStore) AddEvent(ctx context.Context, userID, member string, tsMillis int64, ttl time.Duration) error {
	key := eventsKey(userID)
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(tsMillis), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PruneBefore(ctx context.Context, userID string, cutoffMillis int64) error {
	key := eventsKey(userID)
	max := "(" + strconv.FormatInt(cutoffMillis, 10)
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", max).Err(); err != nil {
		return fmt.Errorf("zremrangebyscore %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) CountRange(ctx context.Context, userID string, fromMillis, toMillis int64) (int, error) {
	key := eventsKey(userID)
	n, err := s.client.ZCount(ctx, key,
		strconv.FormatInt(fromMillis, 10),
		strconv.FormatInt(toMillis, 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("zcount %s: %w", key, err)
	}
	return int(n), nil
}

func (s *RedisStore) LastSeen(ctx context.Context, userID string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", lastSeenKey(userID), err)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Corrupt marker reads as absent rather than failing the pipeline.
		return 0, false, nil
	}
	return ts, true, nil
}

func (s *RedisStore) SetLastSeen(ctx context.Context, userID string, tsMillis int64, ttl time.Duration) error {
	key := lastSeenKey(userID)
	if err := s.client.Set(ctx, key, strconv.FormatInt(tsMillis, 10), ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
