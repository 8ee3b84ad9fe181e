package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

var _ provider.Provider = (*Client)(nil)

// Client OpenRouter API 客戶端
type Client struct {
	client *resty.Client
	config provider.Config
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage provider.Usage `json:"usage"`
}

// apiError 表示 API 錯誤
type apiError struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

// NewClient 創建新的 OpenRouter 客戶端
func NewClient(cfg provider.Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("HTTP-Referer", "https://recipe-modifier.app").
		SetHeader("X-Title", "Recipe Modifier")

	return &Client{client: client, config: cfg}
}

// Generate 生成回應
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	body := chatRequest{
		Model:       c.config.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.config.MaxTokens
	}
	if body.Temperature == 0 {
		body.Temperature = c.config.Temperature
	}

	common.LogDebug("Sending request to OpenRouter",
		zap.String("model", body.Model),
		zap.Int("messages", len(body.Messages)),
	)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("failed to send request to OpenRouter: %w", err))
	}

	if err := classifyStatus(resp); err != nil {
		common.LogError("OpenRouter returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("model", body.Model),
			zap.Error(err),
		)
		return nil, err
	}

	var result chatResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, common.ErrAIServiceError.Wrap(fmt.Errorf("failed to parse OpenRouter response: %w", err))
	}
	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, common.ErrAIServiceError.Wrap(errors.New("empty choices in OpenRouter response"))
	}

	return &provider.Response{
		Content: result.Choices[0].Message.Content,
		Usage:   result.Usage,
	}, nil
}

// classifyStatus 模型或端點不存在視為未部署，其他非 200 為一般錯誤
func classifyStatus(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusOK {
		return nil
	}

	msg := resp.Status()
	var apiErr apiError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	cause := fmt.Errorf("OpenRouter status %d: %s", resp.StatusCode(), msg)

	switch resp.StatusCode() {
	case http.StatusNotFound, http.StatusNotImplemented:
		return common.ErrAINotDeployed.Wrap(cause)
	case http.StatusTooManyRequests:
		return common.ErrTooManyRequests.Wrap(cause)
	default:
		return common.ErrAIServiceError.Wrap(cause)
	}
}

// GetModel 獲取模型名稱
func (c *Client) GetModel() string {
	return c.config.Model
}

// GetTimeout 獲取超時時間
func (c *Client) GetTimeout() time.Duration {
	return c.config.Timeout
}

// Close 關閉客戶端
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}
