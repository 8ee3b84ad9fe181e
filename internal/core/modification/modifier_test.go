package modification_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-modifier/internal/core/ai/parser"
	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/core/ai/service"
	"recipe-modifier/internal/core/modification"
)

type generatorFunc func(ctx context.Context, messages []provider.Message) (*service.Response, error)

func (f generatorFunc) ProcessRequest(ctx context.Context, messages []provider.Message) (*service.Response, error) {
	return f(ctx, messages)
}

func TestBuildMessages(t *testing.T) {
	var history []modification.HistoryEntry
	for i := 0; i < 12; i++ {
		history = append(history, modification.HistoryEntry{
			Request:  fmt.Sprintf("req %d", i),
			Outcome:  modification.OutcomeApplied,
			Response: &parser.Response{TextResponse: strings.Repeat("x", 300)},
		})
	}

	msgs, err := modification.BuildMessages(modification.ModifyRequest{
		Recipe:  pancakes(),
		Request: "make it vegan",
		History: history,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, provider.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"textResponse"`)

	user := msgs[1].Content
	assert.Equal(t, provider.RoleUser, msgs[1].Role)
	assert.Contains(t, user, `"title":"Pancakes"`)
	assert.Contains(t, user, `"item":"milk"`)
	assert.True(t, strings.HasSuffix(user, "make it vegan"))

	// 只帶入最近 10 筆
	assert.NotContains(t, user, `"req 0"`)
	assert.NotContains(t, user, `"req 1"`)
	assert.Contains(t, user, `"req 2"`)
	assert.Contains(t, user, `"req 11"`)
	assert.NotContains(t, user, strings.Repeat("x", 201))
}

func TestBuildMessagesRequiresRecipe(t *testing.T) {
	_, err := modification.BuildMessages(modification.ModifyRequest{Request: "vegan"})
	assert.Error(t, err)
}

func TestAIModifier(t *testing.T) {
	var seen []provider.Message
	m := modification.NewAIModifier(generatorFunc(func(_ context.Context, messages []provider.Message) (*service.Response, error) {
		seen = messages
		return &service.Response{Content: veganResponse}, nil
	}))

	out, err := m.Modify(context.Background(), modification.ModifyRequest{Recipe: pancakes(), Request: "make it vegan"})
	require.NoError(t, err)
	assert.Equal(t, veganResponse, out)
	assert.Len(t, seen, 2)

	boom := errors.New("upstream down")
	m = modification.NewAIModifier(generatorFunc(func(context.Context, []provider.Message) (*service.Response, error) {
		return nil, boom
	}))
	_, err = m.Modify(context.Background(), modification.ModifyRequest{Recipe: pancakes(), Request: "make it vegan"})
	assert.ErrorIs(t, err, boom)
}
