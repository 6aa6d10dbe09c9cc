// Package rediscache provides an optional redis-backed cache the manager
// registry uses for consensus results. The engine behaves identically with a
// nil cache; the in-memory stores remain authoritative.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds the redis connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	Namespace    string
}

// Cache provides namespaced JSON caching on top of a redis client.
type Cache struct {
	client    *redis.Client
	namespace string
	log       *zap.Logger
}

// New connects to redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "validation"
	}
	return &Cache{
		client:    client,
		namespace: namespace,
		log:       log.With(zap.String("module", "rediscache")),
	}, nil
}

func (c *Cache) key(entity, attribute string) string {
	return c.namespace + ":" + entity + ":" + attribute
}

// Set stores a value in the cache with the given TTL.
func (c *Cache) Set(ctx context.Context, entity, attribute string, value interface{}, ttl time.Duration) error {
	key := c.key(entity, attribute)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Error("failed to set cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Get retrieves a value from the cache into value. It returns false on a
// cache miss.
func (c *Cache) Get(ctx context.Context, entity, attribute string, value interface{}) (bool, error) {
	key := c.key(entity, attribute)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		c.log.Error("failed to get cache", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("failed to get cache: %w", err)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(ctx context.Context, entity, attribute string) error {
	key := c.key(entity, attribute)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("failed to delete cache", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
