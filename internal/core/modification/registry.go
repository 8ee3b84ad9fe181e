package modification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

// maxVersionWalk 版本鏈回溯上限
const maxVersionWalk = 1000

// Registry 依食譜系列管理 Session
type Registry struct {
	repo     Repository
	modifier Modifier
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry 創建 Registry
func NewRegistry(repo Repository, modifier Modifier, opts Options) *Registry {
	return &Registry{
		repo:     repo,
		modifier: modifier,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Create 儲存第一個版本並建立 Session
func (r *Registry) Create(ctx context.Context, rec *recipe.Recipe) (*Session, error) {
	if rec == nil {
		return nil, common.NewValidationError("recipe is required")
	}
	if strings.TrimSpace(rec.Title) == "" {
		return nil, common.NewValidationError("recipe title is required")
	}

	first := rec.Clone()
	if first.ID == "" {
		first.ID = r.opts.NewID()
	}
	first.VersionNumber = 1
	first.PreviousVersionID = ""
	if first.CreatedAt.IsZero() {
		first.CreatedAt = r.opts.Now()
	}

	if _, err := r.repo.GetHead(ctx, first.ID); err == nil {
		return nil, common.ErrConflict.Wrap(fmt.Errorf("recipe %s already exists", first.ID))
	} else if !errors.Is(err, common.ErrRecipeNotFound) {
		return nil, err
	}

	if err := r.repo.SaveRecipe(ctx, first); err != nil {
		return nil, fmt.Errorf("failed to save recipe: %w", err)
	}
	if err := r.repo.SetHead(ctx, first.ID, first.ID); err != nil {
		return nil, fmt.Errorf("failed to set recipe head: %w", err)
	}

	s := NewSession(first.ID, first, nil, r.repo, r.modifier, r.opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[first.ID] = s

	common.LogInfo("食譜已建立", zap.String("key", first.ID), zap.String("title", first.Title))
	return s, nil
}

// Open 取得食譜系列的 Session，不存在時從儲存層載入
func (r *Registry) Open(ctx context.Context, key string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	headID, err := r.repo.GetHead(ctx, key)
	if err != nil {
		return nil, err
	}
	head, err := r.repo.GetRecipe(ctx, headID)
	if err != nil {
		return nil, err
	}
	history, err := r.repo.ListHistory(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load modification history: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, nil
	}
	s := NewSession(key, head, history, r.repo, r.modifier, r.opts)
	r.sessions[key] = s
	return s, nil
}

// Versions 從最新版本沿 PreviousVersionID 回溯整條版本鏈
func (r *Registry) Versions(ctx context.Context, key string) ([]*recipe.Recipe, error) {
	s, err := r.Open(ctx, key)
	if err != nil {
		return nil, err
	}

	var versions []*recipe.Recipe
	for cur := s.View().Recipe; cur != nil && len(versions) < maxVersionWalk; {
		versions = append(versions, cur)
		if cur.PreviousVersionID == "" {
			break
		}
		prev, err := r.repo.GetRecipe(ctx, cur.PreviousVersionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load version %s: %w", cur.PreviousVersionID, err)
		}
		cur = prev
	}
	return versions, nil
}

// Len 目前載入的 Session 數量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll 取消所有進行中的修改，關閉服務時使用
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	canceled := 0
	for _, s := range sessions {
		if s.Cancel() {
			canceled++
		}
	}
	return canceled
}
