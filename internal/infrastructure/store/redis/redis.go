// Package redis 以 Redis 保存食譜版本與修改紀錄
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/pkg/common"
)

var _ modification.Repository = (*Store)(nil)

// Store Redis 儲存
//
//	recipe:<id>            食譜快照 JSON
//	recipe:head:<key>      食譜系列最新版本 ID
//	recipe:history:<key>   修改紀錄 list
type Store struct {
	client *redis.Client
}

// NewClient 建立 Redis 連線並測試
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New 使用既有連線建立儲存
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func recipeKey(id string) string   { return "recipe:" + id }
func headKey(key string) string    { return "recipe:head:" + key }
func historyKey(key string) string { return "recipe:history:" + key }

// SaveRecipe 保存食譜快照
func (s *Store) SaveRecipe(ctx context.Context, r *recipe.Recipe) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe: %w", err)
	}
	if err := s.client.Set(ctx, recipeKey(r.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// GetRecipe 依 ID 取得食譜
func (s *Store) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	data, err := s.client.Get(ctx, recipeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrRecipeNotFound
		}
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}

	var r recipe.Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipe: %w", err)
	}
	return &r, nil
}

// SetHead 設定食譜系列的最新版本
func (s *Store) SetHead(ctx context.Context, key, recipeID string) error {
	if err := s.client.Set(ctx, headKey(key), recipeID, 0).Err(); err != nil {
		return fmt.Errorf("failed to set head: %w", err)
	}
	return nil
}

// GetHead 取得食譜系列的最新版本 ID
func (s *Store) GetHead(ctx context.Context, key string) (string, error) {
	id, err := s.client.Get(ctx, headKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrRecipeNotFound
		}
		return "", fmt.Errorf("failed to get head: %w", err)
	}
	return id, nil
}

// AppendHistory 以 RPUSH 附加修改紀錄
func (s *Store) AppendHistory(ctx context.Context, key string, entry modification.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := s.client.RPush(ctx, historyKey(key), data).Err(); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory 依附加順序列出修改紀錄
func (s *Store) ListHistory(ctx context.Context, key string) ([]modification.HistoryEntry, error) {
	items, err := s.client.LRange(ctx, historyKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]modification.HistoryEntry, 0, len(items))
	for _, item := range items {
		var e modification.HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
