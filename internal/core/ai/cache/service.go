package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"recipe-modifier/internal/pkg/common"
)

var _ Store = (*RedisCache)(nil)

// RedisCache 以 Redis 保存 AI 回應，適合多個實例共用
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache 使用既有的 Redis 連線建立快取
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get 獲取緩存
func (s *RedisCache) Get(ctx context.Context, prompt string) (string, error) {
	val, err := s.client.Get(ctx, Key(prompt)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			common.LogCacheMiss("redis")
			return "", common.ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get cache: %w", err)
	}
	common.LogCacheHit("redis")
	return val, nil
}

// Set 設置緩存
func (s *RedisCache) Set(ctx context.Context, prompt, value string) error {
	if err := s.client.Set(ctx, Key(prompt), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}
