package cache

import (
	"context"
	"fmt"
	"time"

	"example.com/iotmon/services/telemetry/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient is an interface for Redis operations
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// IsCacheMiss reports whether the error from Get means the key is absent
func IsCacheMiss(err error) bool {
	return err == redis.Nil
}

// DeviceKey is the cache key for a device resolved by topic
func DeviceKey(topic string) string {
	return fmt.Sprintf("device:topic:%s", topic)
}

// StatusKey is the cache key for a device's online/offline status
func StatusKey(serial string) string {
	return fmt.Sprintf("device:status:%s", serial)
}

// redisClient implements the RedisClient interface
type redisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisClient{client: client}, nil
}

// Get retrieves a value from Redis
func (r *redisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// Set stores a value in Redis with expiration
func (r *redisClient) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Delete removes a key from Redis
func (r *redisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *redisClient) Close() error {
	return r.client.Close()
}
