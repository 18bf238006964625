package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// UnreadCounter tracks per-user unread notification counts for realtime
// pushes. Counts never go below zero.
type UnreadCounter interface {
	Incr(ctx context.Context, userID string) (int64, error)
	Decr(ctx context.Context, userID string) (int64, error)
	Reset(ctx context.Context, userID string) error
}

// RedisCounter keeps counts in Redis so they survive restarts.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func unreadKey(userID string) string {
	return fmt.Sprintf("unread:%s", userID)
}

func (c *RedisCounter) Incr(ctx context.Context, userID string) (int64, error) {
	return c.client.Incr(ctx, unreadKey(userID)).Result()
}

func (c *RedisCounter) Decr(ctx context.Context, userID string) (int64, error) {
	count, err := c.client.Decr(ctx, unreadKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	if count < 0 {
		_ = c.client.Set(ctx, unreadKey(userID), 0, 0).Err()
		count = 0
	}
	return count, nil
}

func (c *RedisCounter) Reset(ctx context.Context, userID string) error {
	return c.client.Del(ctx, unreadKey(userID)).Err()
}

// MemoryCounter is the fallback when Redis is not configured.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Incr(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

func (c *MemoryCounter) Decr(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[userID] > 0 {
		c.counts[userID]--
	}
	return c.counts[userID], nil
}

func (c *MemoryCounter) Reset(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	return nil
}
