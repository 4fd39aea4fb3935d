// Package redis provides Redis connection management and client
// initialization. A single address yields a standalone client, multiple
// addresses a cluster client, both behind redis.UniversalClient.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propfolio/gatekeeper/internal/config"
	"github.com/propfolio/gatekeeper/pkg/logger"
)

// Connection manages the Redis client lifecycle and health monitoring.
type Connection struct {
	config *config.RedisConfig
	client redis.UniversalClient
	logger logger.Logger
}

// NewConnection creates the Redis client from configuration and verifies
// connectivity with a ping.
func NewConnection(cfg *config.RedisConfig, log logger.Logger) (*Connection, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,

		MaxRetries: cfg.MaxRetries,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info(ctx, "Redis connection established",
		logger.Any("addresses", cfg.Addresses),
		logger.Int("pool_size", cfg.PoolSize),
	)

	return &Connection{
		config: cfg,
		client: client,
		logger: log,
	}, nil
}

// Client returns the underlying Redis client.
func (c *Connection) Client() redis.UniversalClient {
	return c.client
}

// Ping checks Redis server connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// HealthCheck reports connectivity, latency and pool statistics.
func (c *Connection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	health := make(map[string]interface{})

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	latency := time.Since(start)

	health["connected"] = err == nil
	health["latency_ms"] = latency.Milliseconds()

	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := c.client.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	health["pool_timeouts"] = stats.Timeouts

	return health, nil
}

// Close closes the Redis connection and releases resources.
func (c *Connection) Close() error {
	if err := c.client.Close(); err != nil {
		c.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	c.logger.Info(context.Background(), "Redis connection closed")
	return nil
}
