package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Veraticus/tillpoint/internal/model"
)

const redisKeyPrefix = "till:terminal:"

// RedisCache shares terminal configurations between processes.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache connects to a Redis server.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, ttl)
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get loads a configuration.
func (c *RedisCache) Get(ctx context.Context, id string) (model.TerminalConfig, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.TerminalConfig{}, false, nil
	}
	if err != nil {
		return model.TerminalConfig{}, false, fmt.Errorf("redis get %s: %w", id, err)
	}

	var cfg model.TerminalConfig
	if err := json.Unmarshal(val, &cfg); err != nil {
		return model.TerminalConfig{}, false, fmt.Errorf("decode cached terminal %s: %w", id, err)
	}
	return cfg, true, nil
}

// Set stores cfg with the cache TTL. A single SET replaces the whole entry.
func (c *RedisCache) Set(ctx context.Context, cfg model.TerminalConfig) error {
	cfg.APIKey = ""
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode terminal %s: %w", cfg.ID, err)
	}
	return c.client.Set(ctx, redisKeyPrefix+cfg.ID, payload, c.ttl).Err()
}

// Invalidate removes one entry.
func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, redisKeyPrefix+id).Err()
}

// Clear removes every terminal entry.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached terminals: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
