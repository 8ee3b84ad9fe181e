// Package parser 將 AI 回應字串轉為結構化的修改建議
package parser

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// Source 回應的解析來源
type Source string

const (
	SourceJSON       Source = "json"
	SourceFencedJSON Source = "fenced-json"
	SourceText       Source = "text"
)

// Response 解析後的 AI 回應
type Response struct {
	TextResponse      string            `json:"textResponse"`
	FollowUpQuestions []string          `json:"followUpQuestions"`
	Changes           *recipe.ChangeSet `json:"changes"`
	Source            Source            `json:"source"`
}

// HasChanges 是否帶有變更內容
func (r *Response) HasChanges() bool {
	return r != nil && r.Changes != nil
}

type payload struct {
	TextResponse      json.RawMessage `json:"textResponse"`
	FollowUpQuestions json.RawMessage `json:"followUpQuestions"`
	Changes           json.RawMessage `json:"changes"`
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fieldNamePattern  = regexp.MustCompile(`"?(textResponse|followUpQuestions|changes)"?\s*:\s*`)
)

// Parse 解析 AI 回應，僅在輸入為空白時回傳 nil
//
// 依序嘗試整段 JSON、```json 區塊，最後退回純文字。
func Parse(raw string) *Response {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		resp, err := decode(trimmed)
		if err == nil {
			resp.Source = SourceJSON
			return resp
		}
		common.LogDebug("AI 回應 JSON 解析失敗", zap.Error(err))
	}

	if m := fencedJSONPattern.FindStringSubmatch(trimmed); m != nil {
		resp, err := decode(m[1])
		if err == nil {
			resp.Source = SourceFencedJSON
			return resp
		}
		common.LogDebug("AI 回應 JSON 區塊解析失敗", zap.Error(err))
	}

	common.LogWarn("AI 回應無法解析為 JSON，改用純文字", zap.Int("length", len(trimmed)))
	return &Response{
		TextResponse:      cleanText(trimmed),
		FollowUpQuestions: []string{},
		Source:            SourceText,
	}
}

// decode 解析 JSON，失敗時補上鍵的雙引號再試一次
func decode(text string) (*Response, error) {
	var p payload
	if err := common.ParseJSON(text, &p); err != nil {
		if retryErr := common.ParseJSON(common.QuoteJSONKeys(text), &p); retryErr != nil {
			return nil, err
		}
	}

	resp := &Response{
		TextResponse:      decodeText(p.TextResponse),
		FollowUpQuestions: decodeQuestions(p.FollowUpQuestions),
	}

	if !isNull(p.Changes) {
		var cs recipe.ChangeSet
		if err := json.Unmarshal(p.Changes, &cs); err != nil {
			common.LogWarn("AI 回應的 changes 欄位無法解析，忽略變更", zap.Error(err))
		} else {
			normalizeChanges(&cs)
			resp.Changes = &cs
		}
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// decodeQuestions 字串轉為單一問題，陣列只保留字串元素，其他型別回傳空列表
func decodeQuestions(raw json.RawMessage) []string {
	questions := []string{}
	if isNull(raw) {
		return questions
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			questions = append(questions, single)
		}
		return questions
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		common.LogDebug("followUpQuestions 格式錯誤", zap.Error(err))
		return questions
	}
	for _, item := range items {
		var q string
		if err := json.Unmarshal(item, &q); err == nil && strings.TrimSpace(q) != "" {
			questions = append(questions, q)
		}
	}
	return questions
}

// normalizeChanges 統一模式大小寫，未指定模式時依是否有食材推斷
func normalizeChanges(cs *recipe.ChangeSet) {
	if cs.Ingredients == nil {
		return
	}
	mode := recipe.Mode(strings.ToLower(strings.TrimSpace(string(cs.Ingredients.Mode))))
	if mode == "" {
		mode = recipe.ModeNone
		if len(cs.Ingredients.Items) > 0 {
			mode = recipe.ModeAdd
		}
	}
	cs.Ingredients.Mode = mode
}

// cleanText 移除殘留的 JSON 標點，讓文字可以直接顯示
func cleanText(text string) string {
	text = strings.TrimPrefix(text, "{")
	text = strings.TrimSuffix(text, "}")
	text = fieldNamePattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, ",")
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = text[1 : len(text)-1]
	}
	text = strings.NewReplacer(`\n`, "\n", `\"`, `"`).Replace(text)
	return strings.TrimSpace(text)
}
