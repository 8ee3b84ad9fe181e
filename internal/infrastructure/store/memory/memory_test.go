package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/pkg/common"
)

func TestStoreRecipes(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetRecipe(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrRecipeNotFound)

	r := &recipe.Recipe{ID: "r1", Title: "Pasta", Instructions: []string{"boil"}}
	require.NoError(t, s.SaveRecipe(ctx, r))

	// 儲存的是副本
	r.Instructions[0] = "changed"
	got, err := s.GetRecipe(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "boil", got.Instructions[0])

	got.Title = "mutated"
	again, err := s.GetRecipe(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Pasta", again.Title)
}

func TestStoreHeadsAndHistory(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetHead(ctx, "k")
	assert.ErrorIs(t, err, common.ErrRecipeNotFound)

	require.NoError(t, s.SetHead(ctx, "k", "v1"))
	require.NoError(t, s.SetHead(ctx, "k", "v2"))
	head, err := s.GetHead(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", head)

	entries, err := s.ListHistory(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.AppendHistory(ctx, "k", modification.HistoryEntry{ID: "h1"}))
	require.NoError(t, s.AppendHistory(ctx, "k", modification.HistoryEntry{ID: "h2"}))
	entries, err = s.ListHistory(ctx, "k")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h1", entries[0].ID)
	assert.Equal(t, "h2", entries[1].ID)
}
