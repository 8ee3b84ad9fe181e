package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"recipe-modifier/internal/api"
	"recipe-modifier/internal/core/ai/queue"
	"recipe-modifier/internal/core/ai/service"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/pkg/common"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	ctx := context.Background()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		common.LogFatal("Failed to initialize store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer backend.close()

	aiProvider, err := newProvider(ctx, cfg)
	if err != nil {
		common.LogFatal("Failed to initialize AI provider", zap.String("provider", cfg.AI.Provider), zap.Error(err))
	}

	responseCache, closeCache := newCache(cfg, backend)
	defer closeCache()

	// 限制同時進行的 AI 呼叫，Close 時一併關閉提供者
	aiQueue := queue.NewManager(aiProvider, cfg.Queue)

	aiService := service.NewService(aiQueue, service.Options{
		MaxTokens:   cfg.OpenRouter.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Cache:       responseCache,
	})
	defer aiService.Close()

	registry := modification.NewRegistry(backend.repo, modification.NewAIModifier(aiService), modification.Options{
		Timeout: cfg.Modification.Timeout,
	})

	common.LogInfo("載入設定",
		zap.String("provider", cfg.AI.Provider),
		zap.String("model", aiService.Model()),
		zap.String("store", cfg.Store.Driver),
		zap.Duration("modification_timeout", cfg.Modification.Timeout),
		zap.Bool("default_immediate", cfg.Modification.DefaultImmediate),
	)

	router, err := api.SetupRouter(cfg, api.Dependencies{
		Registry: registry,
		Model:    aiService.Model(),
		Queue:    aiQueue,
		Ready:    backend.ready,
	})
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Int("port", cfg.Server.Port),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.LogFatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("Shutting down server...")

	// 先取消進行中的 AI 呼叫，已收到的回應不會再套用
	if n := registry.CancelAll(); n > 0 {
		common.LogInfo("已取消進行中的修改", zap.Int("count", n))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		common.LogError("Server forced to shutdown", zap.Error(err))
	}

	common.LogInfo("Server exited")
}
