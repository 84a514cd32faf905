package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// Client wraps go-redis for the two things this service needs: a small result cache and Pub/Sub
// notifications about synced balances.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a Redis client from REDIS_HOST, REDIS_PORT, REDIS_PASSWORD and REDIS_DB and pings it.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))
	return New(rdb, logger), nil
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{client: rdb, logger: logger}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health pings Redis.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached value of key or ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return v, err
}

// Set caches value under key for ttl. Failures are logged and swallowed; the cache is an optimization.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("Failed to write Redis cache", zap.String("key", key), zap.Error(err))
	}
}

// DeletePattern removes every key matching pattern and returns how many were removed.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

// PublishJSON publishes message encoded as JSON. Best effort: errors are logged, not returned.
func (c *Client) PublishJSON(ctx context.Context, channel string, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Warn("Failed to encode Redis message", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Warn("Failed to publish Redis message", zap.String("channel", channel), zap.Error(err))
	}
}

// PSubscribe subscribes to channel patterns. The caller closes the returned PubSub.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	c.logger.Debug("Subscribing to Redis patterns", zap.Strings("patterns", patterns))
	return c.client.PSubscribe(ctx, patterns...)
}
