package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"recipe-modifier/internal/core/ai/cache"
	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"
)

// Response AI 回應
type Response struct {
	Content  string
	Model    string
	CacheHit bool
	Usage    provider.Usage
}

// Options AI 服務選項
type Options struct {
	MaxTokens   int
	Temperature float64
	// Cache 為 nil 時不使用快取
	Cache cache.Store
}

// Service AI 服務，負責快取與合併相同的進行中請求
type Service struct {
	provider provider.Provider
	opts     Options
	group    singleflight.Group
}

// NewService 創建 AI 服務
func NewService(p provider.Provider, opts Options) *Service {
	return &Service{provider: p, opts: opts}
}

// Model 目前使用的模型
func (s *Service) Model() string {
	return s.provider.GetModel()
}

// ProcessRequest 統一對外方法
func (s *Service) ProcessRequest(ctx context.Context, messages []provider.Message) (*Response, error) {
	req := &provider.Request{
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
	key, err := common.ToJSON(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build cache key: %w", err)
	}

	if s.opts.Cache != nil {
		if val, err := s.opts.Cache.Get(ctx, key); err == nil && val != "" {
			return &Response{Content: val, Model: s.provider.GetModel(), CacheHit: true}, nil
		} else if err != nil && !errors.Is(err, common.ErrCacheMiss) {
			common.LogWarn("讀取快取失敗", zap.Error(err))
		}
	}

	ch := s.group.DoChan(cache.Key(key), func() (interface{}, error) {
		// 共用的請求不受單一呼叫端取消影響，各呼叫端以自己的 ctx 停止等待
		shared, cancel := s.sharedContext(ctx)
		defer cancel()
		return s.generate(shared, req, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := *res.Val.(*Response)
		return &resp, nil
	}
}

// sharedContext 脫離呼叫端取消，並以提供者逾時為上限
func (s *Service) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout := s.provider.GetTimeout(); timeout > 0 {
		return context.WithTimeout(detached, timeout)
	}
	return context.WithCancel(detached)
}

func (s *Service) generate(ctx context.Context, req *provider.Request, key string) (*Response, error) {
	start := time.Now()
	out, err := s.provider.Generate(ctx, req)
	common.LogAICall(s.provider.GetModel(), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, key, out.Content); err != nil {
			common.LogWarn("寫入快取失敗", zap.Error(err))
		}
	}

	return &Response{
		Content: out.Content,
		Model:   s.provider.GetModel(),
		Usage:   out.Usage,
	}, nil
}

// Close 關閉提供者
func (s *Service) Close() error {
	return s.provider.Close()
}
