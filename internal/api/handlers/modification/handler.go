// Package modification 提供食譜與 AI 修改流程的 HTTP 處理程序
package modification

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-modifier/internal/api/middleware"
	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// SubmitRequest 修改請求
type SubmitRequest struct {
	Request string `json:"request" binding:"required"`
	// Immediate 省略時使用伺服器預設
	Immediate *bool `json:"immediate,omitempty"`
}

// SubmitResponse 送出修改後的回應
type SubmitResponse struct {
	AttemptID string            `json:"attemptId"`
	Settled   bool              `json:"settled"`
	View      modification.View `json:"view"`
}

// ConfirmRequest 確認套用請求
type ConfirmRequest struct {
	AllowDuplicates bool `json:"allowDuplicates"`
}

// ConfirmResponse 確認套用後的新版本
type ConfirmResponse struct {
	Recipe *recipe.Recipe    `json:"recipe"`
	View   modification.View `json:"view"`
}

// CancelResponse 取消結果
type CancelResponse struct {
	Canceled bool              `json:"canceled"`
	View     modification.View `json:"view"`
}

// VersionsResponse 版本鏈，最新版本在前
type VersionsResponse struct {
	Versions []*recipe.Recipe `json:"versions"`
}

// Options 處理程序設定
type Options struct {
	// DefaultImmediate 請求未指定 immediate 時的預設值
	DefaultImmediate bool
	// WaitTimeout ?wait=true 時最長等待時間
	WaitTimeout time.Duration
}

// Handler 食譜修改處理程序
type Handler struct {
	registry *modification.Registry
	opts     Options
}

// NewHandler 創建處理程序
func NewHandler(registry *modification.Registry, opts Options) *Handler {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 60 * time.Second
	}
	return &Handler{registry: registry, opts: opts}
}

// Register 註冊路由
func (h *Handler) Register(rg *gin.RouterGroup) {
	recipes := rg.Group("/recipes")
	recipes.POST("", h.CreateRecipe)
	recipes.GET("/:id", h.GetRecipe)
	recipes.GET("/:id/versions", h.ListVersions)

	mods := recipes.Group("/:id/modifications")
	mods.GET("", h.GetModifications)
	mods.POST("", h.SubmitModification)
	mods.POST("/confirm", h.ConfirmModification)
	mods.POST("/cancel", h.CancelModification)
}

// CreateRecipe 建立食譜的第一個版本
func (h *Handler) CreateRecipe(c *gin.Context) {
	if !middleware.Authorized(c) {
		common.WriteError(c, common.ErrUnauthorized)
		return
	}

	var rec recipe.Recipe
	if err := c.ShouldBindJSON(&rec); err != nil {
		common.LogWarn("請求格式無效", zap.Error(err), zap.String("request_id", requestid.Get(c)))
		common.WriteError(c, common.ErrInvalidRequest.Wrap(err))
		return
	}

	s, err := h.registry.Create(c.Request.Context(), &rec)
	if err != nil {
		h.fail(c, "建立食譜失敗", err)
		return
	}
	c.JSON(http.StatusCreated, s.View())
}

// GetRecipe 取得食譜系列的最新版本
func (h *Handler) GetRecipe(c *gin.Context) {
	s, ok := h.open(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View().Recipe)
}

// ListVersions 列出整條版本鏈
func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.registry.Versions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "讀取版本失敗", err)
		return
	}
	c.JSON(http.StatusOK, VersionsResponse{Versions: versions})
}

// GetModifications 取得修改流程狀態與紀錄
func (h *Handler) GetModifications(c *gin.Context) {
	s, ok := h.open(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

// SubmitModification 送出修改請求
//
// 預設立即回傳 202，?wait=true 時等到 AI 回應處理完成才回傳 200。
func (h *Handler) SubmitModification(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.LogWarn("請求格式無效", zap.Error(err), zap.String("request_id", requestid.Get(c)))
		common.WriteError(c, common.NewValidationError("request is required"))
		return
	}

	s, ok := h.open(c)
	if !ok {
		return
	}

	immediate := h.opts.DefaultImmediate
	if req.Immediate != nil {
		immediate = *req.Immediate
	}

	attempt, err := s.Submit(c.Request.Context(), modification.Submission{
		Request:    req.Request,
		Immediate:  immediate,
		Authorized: middleware.Authorized(c),
	})
	if err != nil {
		h.fail(c, "送出修改失敗", err)
		return
	}

	resp := SubmitResponse{AttemptID: attempt.ID}
	if c.Query("wait") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.WaitTimeout)
		defer cancel()
		resp.Settled = attempt.Wait(ctx) == nil
	}
	resp.View = s.View()

	if resp.Settled {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// ConfirmModification 套用等待確認的修改
func (h *Handler) ConfirmModification(c *gin.Context) {
	if !middleware.Authorized(c) {
		common.WriteError(c, common.ErrUnauthorized)
		return
	}

	var req ConfirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.WriteError(c, common.ErrInvalidRequest.Wrap(err))
			return
		}
	}

	s, ok := h.open(c)
	if !ok {
		return
	}

	merged, err := s.Confirm(c.Request.Context(), modification.ConfirmOptions{AllowDuplicates: req.AllowDuplicates})
	if err != nil {
		h.fail(c, "套用修改失敗", err)
		return
	}
	c.JSON(http.StatusOK, ConfirmResponse{Recipe: merged, View: s.View()})
}

// CancelModification 取消進行中或等待確認的修改
func (h *Handler) CancelModification(c *gin.Context) {
	if !middleware.Authorized(c) {
		common.WriteError(c, common.ErrUnauthorized)
		return
	}

	s, ok := h.open(c)
	if !ok {
		return
	}
	canceled := s.Cancel()
	c.JSON(http.StatusOK, CancelResponse{Canceled: canceled, View: s.View()})
}

func (h *Handler) open(c *gin.Context) (*modification.Session, bool) {
	s, err := h.registry.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "讀取食譜失敗", err)
		return nil, false
	}
	return s, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("recipe_id", c.Param("id")),
		zap.String("request_id", requestid.Get(c)),
	}
	if errors.Is(err, modification.ErrCanceled) {
		err = common.ErrConflict.Wrap(err)
	}
	if common.StatusOf(err) >= http.StatusInternalServerError {
		common.LogError(msg, fields...)
	} else {
		common.LogWarn(msg, fields...)
	}
	common.WriteError(c, err)
}
