package modification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recipe-modifier/internal/core/ai/parser"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// ErrCanceled 修改在套用前被取消
var ErrCanceled = errors.New("modification canceled")

// Options Session 設定
type Options struct {
	// Timeout AI 呼叫的最長等待時間
	Timeout time.Duration
	// PersistTimeout 寫入儲存層的最長時間
	PersistTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 45 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	return o
}

// Attempt 一次修改嘗試
type Attempt struct {
	ID        string
	Request   string
	Immediate bool
	Submitted time.Time

	cancel   context.CancelFunc
	settled  chan struct{}
	once     sync.Once
	canceled bool
	response *parser.Response
}

// Done AI 呼叫結束且結果已處理（套用、失敗、取消或等待確認）時關閉
func (a *Attempt) Done() <-chan struct{} {
	return a.settled
}

// Wait 等待 Done 或 ctx 結束
func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Attempt) settle() {
	a.once.Do(func() { close(a.settled) })
}

// Session 單一食譜系列的修改流程，同一時間只允許一個進行中的修改
type Session struct {
	key      string
	repo     Repository
	modifier Modifier
	opts     Options

	mu      sync.Mutex
	status  Status
	lastErr string
	current *recipe.Recipe
	history []HistoryEntry
	// attempt 進行中或等待確認的嘗試
	attempt *Attempt
	pending *Pending
}

// NewSession 建立 Session，current 為目前的食譜版本
func NewSession(key string, current *recipe.Recipe, history []HistoryEntry, repo Repository, modifier Modifier, opts Options) *Session {
	return &Session{
		key:      key,
		repo:     repo,
		modifier: modifier,
		opts:     opts.withDefaults(),
		status:   StatusIdle,
		current:  current,
		history:  append([]HistoryEntry(nil), history...),
	}
}

// Key 食譜系列 key
func (s *Session) Key() string {
	return s.key
}

// View 取得目前狀態
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Key:     s.key,
		Status:  s.status,
		Error:   s.lastErr,
		Recipe:  s.current,
		History: append([]HistoryEntry{}, s.history...),
	}
	if s.pending != nil {
		p := *s.pending
		v.Pending = &p
	}
	return v
}

// Submit 送出修改請求，AI 呼叫在背景執行
func (s *Session) Submit(ctx context.Context, sub Submission) (*Attempt, error) {
	if !sub.Authorized {
		return nil, common.ErrUnauthorized
	}
	request := strings.TrimSpace(sub.Request)
	if request == "" {
		return nil, common.NewValidationError("modification request is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Busy() {
		return nil, common.ErrModificationBusy
	}
	if s.current == nil {
		return nil, common.ErrRecipeNotFound
	}

	if s.pending != nil {
		prev := s.attempt
		s.resolveLocked(prev, HistoryEntry{Response: prev.response, Outcome: OutcomeSuperseded})
	}

	attempt := &Attempt{
		ID:        s.opts.NewID(),
		Request:   request,
		Immediate: sub.Immediate,
		Submitted: s.opts.Now(),
		settled:   make(chan struct{}),
	}
	// 請求結束不影響背景中的 AI 呼叫，只有 Cancel 或逾時會中止
	aiCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	attempt.cancel = cancel

	s.attempt = attempt
	s.status = StatusLoading
	s.lastErr = ""

	base := s.current
	history := append([]HistoryEntry(nil), s.history...)
	go s.run(aiCtx, attempt, base, history)

	common.LogInfo("食譜修改請求已送出",
		zap.String("key", s.key),
		zap.String("attempt_id", attempt.ID),
		zap.Bool("immediate", attempt.Immediate),
	)
	return attempt, nil
}

func (s *Session) run(ctx context.Context, a *Attempt, base *recipe.Recipe, history []HistoryEntry) {
	defer a.cancel()

	raw, err := s.modifier.Modify(ctx, ModifyRequest{Recipe: base, Request: a.Request, History: history})
	if err != nil {
		s.fail(a, err)
		return
	}

	resp := parser.Parse(raw)
	if resp == nil {
		s.fail(a, common.ErrAIServiceError.Wrap(errors.New("empty AI response")))
		return
	}

	s.mu.Lock()
	if a.canceled {
		s.mu.Unlock()
		return
	}
	a.response = resp

	summary := recipe.Summarize(resp.Changes)
	if summary.Empty() {
		s.resolveLocked(a, HistoryEntry{Response: resp, Outcome: OutcomeNoChanges})
		s.status = StatusIdle
		s.mu.Unlock()
		return
	}

	var duplicates []recipe.DuplicatePair
	if summary.HasIngredients && resp.Changes.Ingredients.Mode == recipe.ModeAdd {
		duplicates = recipe.FindDuplicates(base.Ingredients, resp.Changes.Ingredients.Items)
	}

	if !a.Immediate {
		s.pending = &Pending{
			AttemptID:  a.ID,
			Request:    a.Request,
			Response:   resp,
			Summary:    summary,
			Duplicates: duplicates,
			Warnings:   recipe.CheckIngredientWarnings(resp.Changes),
		}
		s.status = StatusIdle
		a.settle()
		s.mu.Unlock()
		return
	}

	s.status = StatusApplying
	s.mu.Unlock()

	_, _ = s.commit(ctx, a, base, resp, duplicates, false)
}

// fail AI 呼叫失敗，逾時或明確未部署時進入 not-deployed
func (s *Session) fail(a *Attempt, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.canceled {
		return
	}

	entry := HistoryEntry{Error: err.Error()}
	if errors.Is(err, common.ErrAINotDeployed) || errors.Is(err, context.DeadlineExceeded) {
		entry.Outcome = OutcomeNotDeployed
		s.status = StatusNotDeployed
	} else {
		entry.Outcome = OutcomeFailed
		s.status = StatusError
	}
	s.lastErr = err.Error()
	s.resolveLocked(a, entry)

	common.LogWarn("食譜修改失敗",
		zap.String("key", s.key),
		zap.String("attempt_id", a.ID),
		zap.String("status", string(s.status)),
		zap.Error(err),
	)
}

// Confirm 套用等待確認的修改
func (s *Session) Confirm(ctx context.Context, opts ConfirmOptions) (*recipe.Recipe, error) {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil, common.ErrNothingPending
	}
	p, a, base := s.pending, s.attempt, s.current
	s.pending = nil
	s.status = StatusApplying
	s.mu.Unlock()

	return s.commit(ctx, a, base, p.Response, p.Duplicates, opts.AllowDuplicates)
}

// commit 驗證份量、合併並寫入新版本
func (s *Session) commit(ctx context.Context, a *Attempt, base *recipe.Recipe, resp *parser.Response, duplicates []recipe.DuplicatePair, allowDuplicates bool) (*recipe.Recipe, error) {
	changes := resp.Changes
	if changes.Ingredients != nil {
		check := recipe.ValidateQuantities(base, changes.Ingredients.Items, changes.Ingredients.Mode)
		if !check.Valid {
			err := common.NewValidationError(check.Message)
			return nil, s.reject(a, resp, OutcomeInvalid, err)
		}
	}

	merged, err := recipe.Merge(base, changes, recipe.MergeOptions{
		Duplicates:      duplicates,
		AllowDuplicates: allowDuplicates,
		NewID:           s.opts.NewID(),
		Now:             s.opts.Now(),
	})
	if err != nil {
		return nil, s.reject(a, resp, OutcomeFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.canceled {
		return nil, ErrCanceled
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PersistTimeout)
	defer cancel()

	if err := s.repo.SaveRecipe(ctx, merged); err != nil {
		return nil, s.rejectLocked(a, resp, OutcomeFailed, err)
	}
	if err := s.repo.SetHead(ctx, s.key, merged.ID); err != nil {
		return nil, s.rejectLocked(a, resp, OutcomeFailed, err)
	}

	s.current = merged
	s.status = StatusIdle
	s.lastErr = ""
	s.resolveLocked(a, HistoryEntry{Response: resp, Applied: true, Outcome: OutcomeApplied, VersionID: merged.ID})

	common.LogInfo("食譜修改已套用",
		zap.String("key", s.key),
		zap.String("attempt_id", a.ID),
		zap.String("version_id", merged.ID),
		zap.Int("version", merged.VersionNumber),
	)
	return merged, nil
}

func (s *Session) reject(a *Attempt, resp *parser.Response, outcome Outcome, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.canceled {
		return ErrCanceled
	}
	return s.rejectLocked(a, resp, outcome, err)
}

func (s *Session) rejectLocked(a *Attempt, resp *parser.Response, outcome Outcome, err error) error {
	s.status = StatusError
	s.lastErr = err.Error()
	s.resolveLocked(a, HistoryEntry{Response: resp, Outcome: outcome, Error: err.Error()})
	common.LogWarn("食譜修改未套用",
		zap.String("key", s.key),
		zap.String("attempt_id", a.ID),
		zap.String("outcome", string(outcome)),
		zap.Error(err),
	)
	return err
}

// Cancel 取消進行中或等待確認的修改，沒有可取消的修改時回傳 false
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.attempt
	if a == nil || (!s.status.Busy() && s.pending == nil) {
		return false
	}

	a.canceled = true
	a.cancel()
	s.resolveLocked(a, HistoryEntry{Response: a.response, Outcome: OutcomeCanceled})
	s.status = StatusCanceled
	s.lastErr = ""

	common.LogInfo("食譜修改已取消",
		zap.String("key", s.key),
		zap.String("attempt_id", a.ID),
	)
	return true
}

// resolveLocked 結束嘗試並附加一筆紀錄，呼叫端需持有鎖
func (s *Session) resolveLocked(a *Attempt, entry HistoryEntry) {
	entry.ID = s.opts.NewID()
	entry.AttemptID = a.ID
	entry.Request = a.Request
	entry.Timestamp = a.Submitted

	s.history = append(s.history, entry)
	if s.attempt == a {
		s.attempt = nil
		s.pending = nil
	}
	defer a.settle()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
	defer cancel()
	if err := s.repo.AppendHistory(ctx, s.key, entry); err != nil {
		common.LogError("寫入修改紀錄失敗",
			zap.String("key", s.key),
			zap.String("attempt_id", a.ID),
			zap.Error(err),
		)
	}
}
