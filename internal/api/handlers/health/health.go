package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-modifier/internal/core/ai/queue"
	"recipe-modifier/internal/pkg/common"
)

// SessionCounter 回報目前載入的修改 Session 數量
type SessionCounter interface {
	Len() int
}

// QueueReporter 回報 AI 請求隊列狀態
type QueueReporter interface {
	GetQueueStatus() *queue.Status
}

// Info 服務資訊
type Info struct {
	Version string
	Env     string
	Model   string
	Store   string
}

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Model     string                 `json:"model"`
	Store     string                 `json:"store"`
	Sessions  int                    `json:"sessions"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *queue.Status          `json:"queue,omitempty"`
}

// Handler 健康檢查處理程序
type Handler struct {
	info     Info
	sessions SessionCounter
	queue    QueueReporter
	// ready 檢查儲存後端，nil 表示不需檢查
	ready   func(ctx context.Context) error
	started time.Time
}

// NewHandler 創建健康檢查處理程序，queue 與 ready 可為 nil
func NewHandler(info Info, sessions SessionCounter, q QueueReporter, ready func(ctx context.Context) error) *Handler {
	return &Handler{info: info, sessions: sessions, queue: q, ready: ready, started: time.Now()}
}

// Register 註冊路由
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.HealthCheck)
	r.GET("/ready", h.ReadinessCheck)
	r.GET("/live", h.LivenessCheck)
}

// HealthCheck 健康檢查處理器
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.info.Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Model:     h.info.Model,
		Store:     h.info.Store,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.sessions != nil {
		response.Sessions = h.sessions.Len()
	}
	if h.queue != nil {
		response.Queue = h.queue.GetQueueStatus()
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.Int("sessions", response.Sessions),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck 儲存後端可用時才回報就緒
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			common.LogWarn("Readiness check failed", zap.String("store", h.info.Store), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"store":  h.info.Store,
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"store":  h.info.Store,
	})
}

// LivenessCheck 存活檢查處理器
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
