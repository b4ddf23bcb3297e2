package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// usageKey buckets usage counters per credential per UTC day.
func usageKey(credentialID string, day time.Time) string {
	return fmt.Sprintf("usage:%s:%s", credentialID, day.UTC().Format("2006-01-02"))
}

// IncrUsage increments today's usage counter for a credential and returns
// the new count. Counters expire after two days; they are a fast-path view
// over the durable usage log, not a source of truth.
func (c *Client) IncrUsage(ctx context.Context, credentialID string) (int64, error) {
	key := usageKey(credentialID, time.Now())

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.client.Expire(ctx, key, 48*time.Hour)
	}
	return count, nil
}

// UsageToday returns today's usage count for a credential. A missing key
// counts as zero.
func (c *Client) UsageToday(ctx context.Context, credentialID string) (int64, error) {
	count, err := c.client.Get(ctx, usageKey(credentialID, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}
