package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is the shared Cache backend for multi-instance deployments.
// Redis handles expiry itself, which matches the read-time TTL
// contract. Transport errors degrade to cache misses so an unhealthy
// Redis never fails an enrichment run.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

// RedisOptions configures the Redis cache backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedis creates a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Redis{client: client, logger: logger}, nil
}

// Get returns the cached value; any Redis error is treated as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("redis get failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return val, true
}

// Set stores the value with the given TTL. Write errors are logged
// and dropped: the cache is an optimization, not a source of truth.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed",
			zap.String("key", key), zap.Error(err))
	}
}

// Client exposes the underlying connection for components that share
// it (the provider rate limiter).
func (r *Redis) Client() *redis.Client { return r.client }

// Close releases the connection pool.
func (r *Redis) Close() error { return r.client.Close() }
