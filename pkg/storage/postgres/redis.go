package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentmitra/tenancy/pkg/cache"
	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/storage"
)

// scanBatch is the SCAN COUNT hint and the DEL batch size
const scanBatch = 100

// RedisClient is the shared cache transport. It implements cache.Transport,
// cache.Pinger and cache.Broadcaster.
type RedisClient struct {
	client *redis.Client
	logger *observability.Logger
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config storage.Config, logger *observability.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	// Cache calls sit on the request path; fail fast and degrade to a miss.
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.PoolTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisClient{client: client, logger: logger}, nil
}

// Get returns cache.ErrMiss for absent keys
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Set stores value with ttl; ttl <= 0 stores without expiry
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes keys
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix using SCAN, so the
// server is never blocked by a KEYS call. It is not atomic across keys.
func (c *RedisClient) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := cache.EscapeGlob(prefix) + "*"
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan failed for prefix %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// IncrWindow increments the counter at key and returns the new count and
// the time left in its window. The window starts with the first increment.
func (c *RedisClient) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("redis incr failed: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return incr.Val(), 0, fmt.Errorf("redis expire failed: %w", err)
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}

// Publish sends message to every subscriber of channel
func (c *RedisClient) Publish(ctx context.Context, channel, message string) error {
	if err := c.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe calls handler for each message on channel until ctx is done. It
// returns once the subscription is confirmed to have failed or ctx ends.
func (c *RedisClient) Subscribe(ctx context.Context, channel string, handler func(message string)) error {
	sub := c.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe to %s failed: %w", channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			handler(msg.Payload)
		}
	}
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// RecordPoolStats copies the pool statistics into the redis pool gauges
func (c *RedisClient) RecordPoolStats(metrics *observability.Metrics) {
	stats := c.client.PoolStats()
	metrics.SetRedisPoolStats(stats.TotalConns, stats.IdleConns, stats.Timeouts)
}

var (
	_ cache.Transport   = (*RedisClient)(nil)
	_ cache.Pinger      = (*RedisClient)(nil)
	_ cache.Broadcaster = (*RedisClient)(nil)
)
