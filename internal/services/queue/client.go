package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Client owns the Redis connection shared by player queues, player locks and the
// event channels.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient connects to a redis:// URL and verifies the connection with a ping.
func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// The URL may carry a password, so only the address is logged
	logger.Info("Connected to Redis", "addr", opt.Addr, "db", opt.DB)

	return NewClientWithRedis(rdb, logger), nil
}

// NewClientWithRedis wraps a connection owned elsewhere; tests pass miniredis clients here.
func NewClientWithRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetRedisClient returns the underlying Redis client for direct operations
func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}
