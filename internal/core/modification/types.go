package modification

import (
	"context"
	"time"

	"recipe-modifier/internal/core/ai/parser"
	"recipe-modifier/internal/core/recipe"
)

// Status 修改流程狀態
type Status string

const (
	StatusIdle        Status = "idle"
	StatusLoading     Status = "loading"
	StatusApplying    Status = "applying"
	StatusError       Status = "error"
	StatusNotDeployed Status = "not-deployed"
	StatusCanceled    Status = "canceled"
)

// Busy 是否有進行中的修改
func (s Status) Busy() bool {
	return s == StatusLoading || s == StatusApplying
}

// Outcome 修改嘗試的結果
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeNoChanges   Outcome = "no_changes"
	OutcomeInvalid     Outcome = "validation_failed"
	OutcomeFailed      Outcome = "failed"
	OutcomeNotDeployed Outcome = "not_deployed"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeSuperseded  Outcome = "superseded"
)

// HistoryEntry 修改紀錄，只會附加不會修改
type HistoryEntry struct {
	ID        string           `json:"id"`
	AttemptID string           `json:"attemptId"`
	Request   string           `json:"request"`
	Timestamp time.Time        `json:"timestamp"`
	Response  *parser.Response `json:"response,omitempty"`
	Applied   bool             `json:"applied"`
	Outcome   Outcome          `json:"outcome"`
	Error     string           `json:"error,omitempty"`
	VersionID string           `json:"versionId,omitempty"`
}

// Pending 等待使用者確認的修改
type Pending struct {
	AttemptID  string                 `json:"attemptId"`
	Request    string                 `json:"request"`
	Response   *parser.Response       `json:"response"`
	Summary    *recipe.Summary        `json:"summary"`
	Duplicates []recipe.DuplicatePair `json:"duplicates,omitempty"`
	Warnings   bool                   `json:"warnings"`
}

// View 對外呈現的修改流程狀態
type View struct {
	Key     string         `json:"key"`
	Status  Status         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Recipe  *recipe.Recipe `json:"recipe"`
	History []HistoryEntry `json:"history"`
	Pending *Pending       `json:"pending,omitempty"`
}

// ModifyRequest 送給 AI 的修改請求
type ModifyRequest struct {
	Recipe  *recipe.Recipe
	Request string
	History []HistoryEntry
}

// Modifier 取得 AI 對修改請求的原始回應
type Modifier interface {
	Modify(ctx context.Context, req ModifyRequest) (string, error)
}

// Repository 食譜版本與修改紀錄的儲存介面，key 為食譜系列的第一個版本 ID
type Repository interface {
	SaveRecipe(ctx context.Context, r *recipe.Recipe) error
	// GetRecipe 找不到時回傳 common.ErrRecipeNotFound
	GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error)
	SetHead(ctx context.Context, key, recipeID string) error
	// GetHead 找不到時回傳 common.ErrRecipeNotFound
	GetHead(ctx context.Context, key string) (string, error)
	AppendHistory(ctx context.Context, key string, entry HistoryEntry) error
	ListHistory(ctx context.Context, key string) ([]HistoryEntry, error)
}

// Submission 使用者送出的修改請求
type Submission struct {
	Request string
	// Immediate 為 true 時自動套用，否則等待 Confirm
	Immediate  bool
	Authorized bool
}

// ConfirmOptions 確認套用選項
type ConfirmOptions struct {
	// AllowDuplicates 保留與既有食材重複的新食材
	AllowDuplicates bool
}
