package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"
)

var _ provider.Provider = (*Client)(nil)

// Client Gemini 提供者
type Client struct {
	client *genai.Client
	config provider.Config
}

// NewClient 創建 Gemini 客戶端
func NewClient(ctx context.Context, cfg provider.Config) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	return &Client{client: client, config: cfg}, nil
}

// Generate 發送對話，system 訊息作為系統指示，最後一則訊息作為新的提問
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	system, turns := splitMessages(req.Messages)
	if len(turns) == 0 {
		return nil, fmt.Errorf("gemini request has no user message")
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	model := c.client.GenerativeModel(c.config.Model)

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	model.SetTemperature(float32(temperature))
	if maxTokens := max(req.MaxTokens, c.config.MaxTokens); maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	if len(req.Stop) > 0 {
		model.StopSequences = req.Stop
	}

	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	chat := model.StartChat()
	chat.History = turns[:len(turns)-1]
	resp, err := chat.SendMessage(ctx, turns[len(turns)-1].Parts...)
	if err != nil {
		return nil, classify(ctx, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, common.ErrAIServiceError.Wrap(errors.New("empty response from Gemini"))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return nil, common.ErrAIServiceError.Wrap(errors.New("unexpected response format from Gemini"))
	}

	out := &provider.Response{Content: b.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = provider.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// splitMessages 分出系統指示與對話輪次，assistant 對應 Gemini 的 model 角色
func splitMessages(messages []provider.Message) (string, []*genai.Content) {
	var system []string
	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			system = append(system, m.Content)
		case provider.RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	return strings.Join(system, "\n\n"), turns
}

// classify 模型不存在或端點未實作視為未部署
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound, codes.Unimplemented:
			return common.ErrAINotDeployed.Wrap(err)
		case codes.ResourceExhausted:
			return common.ErrTooManyRequests.Wrap(err)
		}
	}
	return common.ErrAIServiceError.Wrap(err)
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
	return c.client.Close()
}
