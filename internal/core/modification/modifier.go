package modification

import (
	"context"
	"fmt"
	"strings"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/ai/service"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// historyContextLimit 提示詞中最多帶入的歷史紀錄筆數
const historyContextLimit = 10

// Generator 執行 AI 對話請求
type Generator interface {
	ProcessRequest(ctx context.Context, messages []provider.Message) (*service.Response, error)
}

// AIModifier 透過 AI 服務取得修改建議
type AIModifier struct {
	generator Generator
}

var _ Modifier = (*AIModifier)(nil)

// NewAIModifier 創建 AIModifier
func NewAIModifier(g Generator) *AIModifier {
	return &AIModifier{generator: g}
}

// Modify 呼叫 AI 並回傳原始文字
func (m *AIModifier) Modify(ctx context.Context, req ModifyRequest) (string, error) {
	messages, err := BuildMessages(req)
	if err != nil {
		return "", err
	}
	resp, err := m.generator.ProcessRequest(ctx, messages)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

const systemPrompt = `You are a culinary assistant that edits existing recipes.
Reply with a single JSON object and nothing else:
{
  "textResponse": "short explanation for the cook",
  "followUpQuestions": ["optional question"],
  "changes": {
    "title": "new title (omit to keep)",
    "ingredients": {
      "mode": "add | replace | none",
      "items": [{"quantity": {"metric": {"amount": 200, "unit": "g"}, "imperial": {"amount": 7, "unit": "oz"}}, "unit": "g", "item": "name", "notes": "optional"}]
    },
    "instructions": [{"action": "step text", "explanation": "why", "step": 1}],
    "scienceNotes": ["optional note"]
  }
}
Rules:
- Use mode "replace" only when returning the complete ingredient list; "add" appends; "none" leaves ingredients unchanged.
- Quantities must be positive numbers.
- "step" is the 1-based instruction to replace; omit it to append.
- Set "changes" to null when the request is only a question.
- Put "warning" in an ingredient's notes when it introduces an allergen or safety concern.`

// BuildMessages 組合送給 AI 的對話內容
func BuildMessages(req ModifyRequest) ([]provider.Message, error) {
	if req.Recipe == nil {
		return nil, fmt.Errorf("recipe is required")
	}
	recipeJSON, err := common.ToJSON(promptRecipe(req.Recipe))
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipe: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Current recipe (JSON):\n")
	sb.WriteString(recipeJSON)
	sb.WriteString("\n")

	if history := recentHistory(req.History); len(history) > 0 {
		sb.WriteString("\nPrevious modification requests (oldest first):\n")
		for _, h := range history {
			fmt.Fprintf(&sb, "- %q: %s", h.Request, h.Outcome)
			if h.Response != nil && h.Response.TextResponse != "" {
				fmt.Fprintf(&sb, " (assistant: %s)", truncate(h.Response.TextResponse, 200))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nUser request:\n")
	sb.WriteString(req.Request)

	return []provider.Message{
		{Role: provider.RoleSystem, Content: systemPrompt},
		{Role: provider.RoleUser, Content: sb.String()},
	}, nil
}

// promptRecipe 去掉與修改無關的欄位
func promptRecipe(r *recipe.Recipe) map[string]interface{} {
	return map[string]interface{}{
		"title":        r.Title,
		"tagline":      r.Tagline,
		"servings":     r.Servings,
		"unitSystem":   r.System(),
		"ingredients":  r.Ingredients,
		"instructions": r.Instructions,
		"scienceNotes": r.ScienceNotes,
		"timing":       r.Timing,
		"nutrition":    r.Nutrition,
	}
}

func recentHistory(history []HistoryEntry) []HistoryEntry {
	if len(history) > historyContextLimit {
		return history[len(history)-historyContextLimit:]
	}
	return history
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
