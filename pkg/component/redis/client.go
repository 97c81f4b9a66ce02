// Package redis provides the Redis client backing the query and embedding caches.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	options "github.com/kart-io/kgrag/pkg/options/redis"
)

// Client wraps a go-redis client built from Options.
//
// Example usage:
//
//	client, err := redis.New(ctx, redisopts.NewOptions())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Client().Set(ctx, "key", "value", time.Hour).Err()
type Client struct {
	client *goredis.Client
	opts   *options.Options
}

// New creates a new Redis client and verifies connectivity with a ping.
//
// Returns an error if:
// - Options are nil or invalid
// - Initial ping fails
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid redis options: %v", errs)
	}

	rdb := opts.NewClient()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{client: rdb, opts: opts}, nil
}

// Name returns the component identifier.
func (c *Client) Name() string {
	return "redis"
}

// Ping checks if the connection to Redis is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Client returns the underlying go-redis client.
func (c *Client) Client() *goredis.Client {
	return c.client
}

// Health returns a checker that pings Redis with a short timeout.
func (c *Client) Health() func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return c.Ping(ctx)
	}
}
