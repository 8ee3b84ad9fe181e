package provider

import (
	"context"
	"time"

	"recipe-modifier/internal/pkg/common"
)

// 對話角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 表示與 AI 模型的對話消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 表示發送到 AI 提供者的請求
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Usage token 使用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 表示從 AI 提供者收到的響應
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Provider 定義 AI 提供者介面
type Provider interface {
	// Generate 生成 AI 響應；提供者不存在或模型未部署時回傳 common.ErrAINotDeployed
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GetModel 獲取當前使用的模型名稱
	GetModel() string

	// GetTimeout 獲取請求超時時間
	GetTimeout() time.Duration

	// Close 關閉提供者連接
	Close() error
}

// Config 定義 AI 提供者配置
type Config struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	BaseURL     string
}

// Unavailable 未設定任何提供者時使用，所有請求都回報未部署
type Unavailable struct {
	Reason string
}

// Generate 一律回傳 ErrAINotDeployed
func (u Unavailable) Generate(ctx context.Context, req *Request) (*Response, error) {
	return nil, common.ErrAINotDeployed.Wrap(&unavailableError{reason: u.Reason})
}

// GetModel 無模型
func (u Unavailable) GetModel() string { return "none" }

// GetTimeout 無超時
func (u Unavailable) GetTimeout() time.Duration { return 0 }

// Close 無需關閉
func (u Unavailable) Close() error { return nil }

type unavailableError struct {
	reason string
}

func (e *unavailableError) Error() string {
	if e.reason == "" {
		return "no AI provider configured"
	}
	return e.reason
}
