// Package postgres 以 PostgreSQL 保存食譜版本與修改紀錄
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/config"
	"recipe-modifier/internal/pkg/common"
)

var _ modification.Repository = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS recipes (
	id TEXT PRIMARY KEY,
	previous_version_id TEXT,
	version_number INTEGER NOT NULL,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recipe_heads (
	recipe_key TEXT PRIMARY KEY,
	recipe_id TEXT NOT NULL REFERENCES recipes(id),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS modification_history (
	seq BIGSERIAL PRIMARY KEY,
	recipe_key TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	data JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_modification_history_key ON modification_history (recipe_key, seq);
`

// Store PostgreSQL 儲存
type Store struct {
	db *sqlx.DB
}

type recipeRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

type historyRow struct {
	Seq  int64  `db:"seq"`
	Data []byte `db:"data"`
}

// New 連線並建立資料表
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB 使用既有連線，不建立資料表
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping 檢查連線
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 關閉連線
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecipe 保存食譜快照，相同 ID 時覆寫
func (s *Store) SaveRecipe(ctx context.Context, r *recipe.Recipe) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe: %w", err)
	}

	query := `
	INSERT INTO recipes (id, previous_version_id, version_number, data, created_at)
	VALUES ($1, NULLIF($2, ''), $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data;
	`
	if _, err := s.db.ExecContext(ctx, query, r.ID, r.PreviousVersionID, r.VersionNumber, data, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// GetRecipe 依 ID 取得食譜
func (s *Store) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	var row recipeRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, data FROM recipes WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRecipeNotFound
		}
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}

	var r recipe.Recipe
	if err := json.Unmarshal(row.Data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipe: %w", err)
	}
	return &r, nil
}

// SetHead 設定食譜系列的最新版本
func (s *Store) SetHead(ctx context.Context, key, recipeID string) error {
	query := `
	INSERT INTO recipe_heads (recipe_key, recipe_id, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (recipe_key) DO UPDATE SET recipe_id = EXCLUDED.recipe_id, updated_at = NOW();
	`
	if _, err := s.db.ExecContext(ctx, query, key, recipeID); err != nil {
		return fmt.Errorf("failed to set head: %w", err)
	}
	return nil
}

// GetHead 取得食譜系列的最新版本 ID
func (s *Store) GetHead(ctx context.Context, key string) (string, error) {
	var id string
	if err := s.db.GetContext(ctx, &id, `SELECT recipe_id FROM recipe_heads WHERE recipe_key = $1`, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrRecipeNotFound
		}
		return "", fmt.Errorf("failed to get head: %w", err)
	}
	return id, nil
}

// AppendHistory 附加修改紀錄
func (s *Store) AppendHistory(ctx context.Context, key string, entry modification.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	query := `INSERT INTO modification_history (recipe_key, entry_id, data) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, key, entry.ID, data); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory 依附加順序列出修改紀錄
func (s *Store) ListHistory(ctx context.Context, key string) ([]modification.HistoryEntry, error) {
	var rows []historyRow
	query := `SELECT seq, data FROM modification_history WHERE recipe_key = $1 ORDER BY seq`
	if err := s.db.SelectContext(ctx, &rows, query, key); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	entries := make([]modification.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		var e modification.HistoryEntry
		if err := json.Unmarshal(row.Data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry %d: %w", row.Seq, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
