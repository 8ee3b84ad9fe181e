// Package memory 提供記憶體版的食譜儲存，適合開發與測試
package memory

import (
	"context"
	"sync"

	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

var _ modification.Repository = (*Store)(nil)

// Store 記憶體儲存，可並行存取
type Store struct {
	mu      sync.RWMutex
	recipes map[string]*recipe.Recipe
	heads   map[string]string
	history map[string][]modification.HistoryEntry
}

// New 建立空的記憶體儲存
func New() *Store {
	return &Store{
		recipes: make(map[string]*recipe.Recipe),
		heads:   make(map[string]string),
		history: make(map[string][]modification.HistoryEntry),
	}
}

// SaveRecipe 保存食譜快照的副本
func (s *Store) SaveRecipe(ctx context.Context, r *recipe.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[r.ID] = r.Clone()
	return nil
}

// GetRecipe 依 ID 取得食譜
func (s *Store) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[id]
	if !ok {
		return nil, common.ErrRecipeNotFound
	}
	return r.Clone(), nil
}

// SetHead 設定食譜系列的最新版本
func (s *Store) SetHead(ctx context.Context, key, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[key] = recipeID
	return nil
}

// GetHead 取得食譜系列的最新版本 ID
func (s *Store) GetHead(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.heads[key]
	if !ok {
		return "", common.ErrRecipeNotFound
	}
	return id, nil
}

// AppendHistory 附加修改紀錄
func (s *Store) AppendHistory(ctx context.Context, key string, entry modification.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[key] = append(s.history[key], entry)
	return nil
}

// ListHistory 依附加順序列出修改紀錄
func (s *Store) ListHistory(ctx context.Context, key string) ([]modification.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]modification.HistoryEntry(nil), s.history[key]...), nil
}
