package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLastSeen persists presence last-seen timestamps in Redis so they
// survive process restarts.
type RedisLastSeen struct {
	client *redis.Client
}

func NewRedisLastSeen(client *redis.Client) *RedisLastSeen {
	return &RedisLastSeen{client: client}
}

func lastSeenKey(userID string) string {
	return fmt.Sprintf("lastseen:%s", userID)
}

func (s *RedisLastSeen) RecordLastSeen(ctx context.Context, userID string, t time.Time) error {
	return s.client.Set(ctx, lastSeenKey(userID), t.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (s *RedisLastSeen) LoadLastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
