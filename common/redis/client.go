package redis

import (
	"context"

	"aquaflow/common/config"

	"github.com/go-redis/redis/v8"
)

// Client alias so callers don't import go-redis just for the type
type Client = redis.Client

// NewRedisClient creates a Redis client
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the Redis connection
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the Redis client
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
