package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-modifier/internal/core/ai/cache"
	"recipe-modifier/internal/core/ai/gemini"
	"recipe-modifier/internal/core/ai/openrouter"
	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/infrastructure/store/memory"
	"recipe-modifier/internal/infrastructure/store/postgres"
	redisstore "recipe-modifier/internal/infrastructure/store/redis"
	"recipe-modifier/internal/pkg/common"
)

// backend 儲存後端與其附屬資源
type backend struct {
	repo  modification.Repository
	ready func(ctx context.Context) error
	// redis 僅在 redis driver 時存在，供 AI 快取共用
	redis *redis.Client
	close func() error
}

// newProvider 依設定建立 AI 提供者，缺少 API Key 時改用 Unavailable
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.AI.Provider {
	case "openrouter":
		if cfg.OpenRouter.APIKey == "" {
			common.LogWarn("OPENROUTER_API_KEY 未設定，AI 修改功能停用")
			return provider.Unavailable{Reason: "OPENROUTER_API_KEY is not set"}, nil
		}
		return openrouter.NewClient(provider.Config{
			APIKey:      cfg.OpenRouter.APIKey,
			Model:       cfg.OpenRouter.Model,
			Timeout:     cfg.OpenRouter.Timeout,
			MaxTokens:   cfg.OpenRouter.MaxTokens,
			Temperature: cfg.AI.Temperature,
			BaseURL:     cfg.OpenRouter.BaseURL,
		}), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			common.LogWarn("GEMINI_API_KEY 未設定，AI 修改功能停用")
			return provider.Unavailable{Reason: "GEMINI_API_KEY is not set"}, nil
		}
		client, err := gemini.NewClient(ctx, provider.Config{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Timeout:     cfg.Gemini.Timeout,
			Temperature: cfg.AI.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return client, nil
	default:
		return provider.Unavailable{Reason: "AI provider disabled"}, nil
	}
}

// newBackend 依 store.driver 建立儲存後端
func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case "redis":
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{
			repo:  redisstore.New(client),
			ready: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			redis: client,
			close: client.Close,
		}, nil
	case "postgres":
		store, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return &backend{repo: store, ready: store.Ping, close: store.Close}, nil
	default:
		return &backend{repo: memory.New(), close: func() error { return nil }}, nil
	}
}

// newCache 選擇 AI 回應快取，停用時回傳 nil 介面
func newCache(cfg *config.Config, b *backend) (cache.Store, func() error) {
	noop := func() error { return nil }
	if !cfg.AI.EnableCache || !cfg.Cache.Enabled {
		return nil, noop
	}
	if b.redis != nil {
		common.LogInfo("使用 Redis AI 快取", zap.Duration("ttl", cfg.Cache.TTL))
		return cache.NewRedisCache(b.redis, cfg.Cache.TTL), noop
	}
	manager := cache.NewManager(cfg.Cache)
	if manager == nil {
		return nil, noop
	}
	common.LogInfo("使用記憶體 AI 快取",
		zap.Int("max_size", cfg.Cache.MaxSize),
		zap.Duration("ttl", cfg.Cache.TTL),
	)
	return manager, manager.Close
}
