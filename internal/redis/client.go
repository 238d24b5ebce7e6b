// Package redis wraps go-redis for the token document store and lock manager
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	// DialTimeout bounds connection setup; zero keeps the go-redis default
	DialTimeout time.Duration `json:"dial_timeout"`
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetGoRedisClient exposes the underlying client for libraries such as redsync
func (c *Client) GetGoRedisClient() *redis.Client {
	return c.rdb
}
