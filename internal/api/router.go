package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-modifier/internal/api/handlers/health"
	modificationHandler "recipe-modifier/internal/api/handlers/modification"
	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/pkg/common"
)

// timeoutDuration 單一請求的最長處理時間，需大於 modification.wait_timeout
const timeoutDuration = 120 * time.Second

// Dependencies 路由需要的服務
type Dependencies struct {
	Registry *modification.Registry
	// Model 目前使用的 AI 模型，僅用於健康檢查
	Model string
	// Queue AI 請求隊列，可為 nil
	Queue health.QueueReporter
	// Ready 儲存後端的就緒檢查，可為 nil
	Ready func(ctx context.Context) error
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("modification registry is required")
	}

	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.Logger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	maxBody := cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	router.Use(middleware.BodySizeLimit(maxBody))
	router.Use(requestTimeout(timeoutDuration))

	health.NewHandler(health.Info{
		Version: cfg.App.Version,
		Env:     cfg.App.Env,
		Model:   deps.Model,
		Store:   cfg.Store.Driver,
	}, deps.Registry, deps.Queue, deps.Ready).Register(router)

	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	api.Use(middleware.NewDeduplicator(cfg.DedupWindow).Middleware())

	modificationHandler.NewHandler(deps.Registry, modificationHandler.Options{
		DefaultImmediate: cfg.Modification.DefaultImmediate,
		WaitTimeout:      cfg.Modification.WaitTimeout,
	}).Register(api)

	common.LogInfo("Router setup completed",
		zap.String("model", deps.Model),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("auth_enabled", len(cfg.Auth.APIKeys) > 0),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBody),
	)

	return router, nil
}

// requestTimeout 設定請求 context 的超時，處理程序未寫入回應時回傳 504
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", requestid.Get(c)),
				zap.Duration("timeout", timeout),
			)
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, common.ErrorResponse{
				Code:    common.ErrCodeGatewayTimeout,
				Message: "request timeout",
			})
		}
	}
}
