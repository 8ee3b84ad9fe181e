package modification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-modifier/internal/core/modification"
	"recipe-modifier/internal/core/recipe"
	"recipe-modifier/internal/infrastructure/store/memory"
	"recipe-modifier/internal/pkg/common"
)

const veganResponse = `{
  "textResponse": "Swapped the dairy and eggs for plant-based versions.",
  "followUpQuestions": ["Do you want it gluten free too?"],
  "changes": {
    "title": "Vegan Pancakes",
    "ingredients": {"mode": "replace", "items": [{"item": "flour"}, {"item": "oat milk"}, {"item": "flax egg"}]},
    "instructions": [{"action": "Prepare flax eggs and let them gel", "step": 1}]
  }
}`

type modifierFunc func(ctx context.Context, req modification.ModifyRequest) (string, error)

func (f modifierFunc) Modify(ctx context.Context, req modification.ModifyRequest) (string, error) {
	return f(ctx, req)
}

func respond(raw string) modifierFunc {
	return func(context.Context, modification.ModifyRequest) (string, error) {
		return raw, nil
	}
}

// blockUntilDone 等到 ctx 結束才回傳
func blockUntilDone(started chan<- struct{}, stopped chan<- error) modifierFunc {
	return func(ctx context.Context, _ modification.ModifyRequest) (string, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return "", ctx.Err()
	}
}

func ing(name string, amount float64, unit string) recipe.Ingredient {
	return recipe.Ingredient{Quantity: recipe.Qty(amount, unit), Unit: unit, Item: recipe.NewItem(name)}
}

func pancakes() *recipe.Recipe {
	return &recipe.Recipe{
		Title:        "Pancakes",
		Ingredients:  []recipe.Ingredient{ing("flour", 200, "g"), ing("milk", 300, "ml"), ing("egg", 2, "")},
		Instructions: []string{"Mix dry ingredients", "Add milk and eggs", "Cook on a hot pan"},
		UnitSystem:   recipe.UnitMetric,
	}
}

func newSession(t *testing.T, mod modification.Modifier, opts modification.Options) (*modification.Session, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := modification.NewRegistry(store, mod, opts)
	s, err := reg.Create(context.Background(), pancakes())
	require.NoError(t, err)
	return s, store
}

func wait(t *testing.T, a *modification.Attempt) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
}

func submit(t *testing.T, s *modification.Session, request string, immediate bool) *modification.Attempt {
	t.Helper()
	a, err := s.Submit(context.Background(), modification.Submission{Request: request, Immediate: immediate, Authorized: true})
	require.NoError(t, err)
	return a
}

func TestSubmitImmediateApplies(t *testing.T) {
	s, store := newSession(t, respond(veganResponse), modification.Options{})
	original := s.View().Recipe

	a := submit(t, s, "make it vegan", true)
	wait(t, a)

	v := s.View()
	assert.Equal(t, modification.StatusIdle, v.Status)
	assert.Empty(t, v.Error)
	assert.Nil(t, v.Pending)

	require.NotNil(t, v.Recipe)
	assert.Equal(t, "Vegan Pancakes", v.Recipe.Title)
	assert.Equal(t, 2, v.Recipe.VersionNumber)
	assert.Equal(t, original.ID, v.Recipe.PreviousVersionID)
	assert.Equal(t, "oat milk", v.Recipe.Ingredients[1].Name())
	assert.Equal(t, "Prepare flax eggs and let them gel", v.Recipe.Instructions[0])

	require.Len(t, v.History, 1)
	entry := v.History[0]
	assert.True(t, entry.Applied)
	assert.Equal(t, modification.OutcomeApplied, entry.Outcome)
	assert.Equal(t, a.ID, entry.AttemptID)
	assert.Equal(t, "make it vegan", entry.Request)
	assert.Equal(t, v.Recipe.ID, entry.VersionID)
	require.NotNil(t, entry.Response)
	assert.Equal(t, []string{"Do you want it gluten free too?"}, entry.Response.FollowUpQuestions)

	ctx := context.Background()
	head, err := store.GetHead(ctx, s.Key())
	require.NoError(t, err)
	assert.Equal(t, v.Recipe.ID, head)

	// 舊版本仍可讀取且未被修改
	old, err := store.GetRecipe(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pancakes", old.Title)
	assert.Equal(t, 1, old.VersionNumber)

	stored, err := store.ListHistory(ctx, s.Key())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSubmitInstructionWithoutStepAppends(t *testing.T) {
	s, _ := newSession(t, respond(`{"changes":{"instructions":[{"action":"Garnish with berries"}]}}`), modification.Options{})

	a := submit(t, s, "add a garnish", true)
	wait(t, a)

	v := s.View()
	assert.Equal(t, modification.StatusIdle, v.Status)
	require.NotNil(t, v.Recipe)
	assert.Equal(t, []string{
		"Mix dry ingredients",
		"Add milk and eggs",
		"Cook on a hot pan",
		"Garnish with berries",
	}, v.Recipe.Instructions)
	assert.Equal(t, 2, v.Recipe.VersionNumber)
}

func TestSubmitPassesRecipeAndHistory(t *testing.T) {
	var got []modification.ModifyRequest
	mod := modifierFunc(func(_ context.Context, req modification.ModifyRequest) (string, error) {
		got = append(got, req)
		return `{"textResponse": "Noted.", "changes": null}`, nil
	})
	s, _ := newSession(t, mod, modification.Options{})

	wait(t, submit(t, s, "first", true))
	wait(t, submit(t, s, "second", true))

	require.Len(t, got, 2)
	assert.Equal(t, "Pancakes", got[0].Recipe.Title)
	assert.Empty(t, got[0].History)
	require.Len(t, got[1].History, 1)
	assert.Equal(t, "first", got[1].History[0].Request)
	assert.Equal(t, "second", got[1].Request)
}

func TestSubmitManualWaitsForConfirm(t *testing.T) {
	s, _ := newSession(t, respond(veganResponse), modification.Options{})

	a := submit(t, s, "make it vegan", false)
	wait(t, a)

	v := s.View()
	assert.Equal(t, modification.StatusIdle, v.Status)
	assert.Equal(t, 1, v.Recipe.VersionNumber)
	assert.Empty(t, v.History)
	require.NotNil(t, v.Pending)
	assert.Equal(t, a.ID, v.Pending.AttemptID)
	assert.True(t, v.Pending.Summary.HasTitle)
	assert.Equal(t, recipe.ModeReplace, v.Pending.Summary.Mode)

	merged, err := s.Confirm(context.Background(), modification.ConfirmOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Vegan Pancakes", merged.Title)

	v = s.View()
	assert.Nil(t, v.Pending)
	assert.Equal(t, 2, v.Recipe.VersionNumber)
	require.Len(t, v.History, 1)
	assert.True(t, v.History[0].Applied)

	_, err = s.Confirm(context.Background(), modification.ConfirmOptions{})
	assert.ErrorIs(t, err, common.ErrNothingPending)
}

func TestCancelAfterResponseKeepsVersion(t *testing.T) {
	s, _ := newSession(t, respond(veganResponse), modification.Options{})

	wait(t, submit(t, s, "make it vegan", false))
	require.True(t, s.Cancel())

	v := s.View()
	assert.Equal(t, modification.StatusCanceled, v.Status)
	assert.Equal(t, 1, v.Recipe.VersionNumber)
	assert.Equal(t, "Pancakes", v.Recipe.Title)
	assert.Nil(t, v.Pending)
	require.Len(t, v.History, 1)
	assert.False(t, v.History[0].Applied)
	assert.Equal(t, modification.OutcomeCanceled, v.History[0].Outcome)
	assert.NotNil(t, v.History[0].Response)

	assert.False(t, s.Cancel())
	_, err := s.Confirm(context.Background(), modification.ConfirmOptions{})
	assert.ErrorIs(t, err, common.ErrNothingPending)
}

func TestCancelWhileLoadingAbortsCall(t *testing.T) {
	started, stopped := make(chan struct{}), make(chan error, 1)
	s, _ := newSession(t, blockUntilDone(started, stopped), modification.Options{Timeout: time.Minute})

	a := submit(t, s, "make it spicy", true)
	<-started
	assert.Equal(t, modification.StatusLoading, s.View().Status)

	require.True(t, s.Cancel())
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("AI call was not canceled")
	}
	wait(t, a)

	v := s.View()
	assert.Equal(t, modification.StatusCanceled, v.Status)
	assert.Equal(t, 1, v.Recipe.VersionNumber)
	require.Len(t, v.History, 1)
	assert.Equal(t, modification.OutcomeCanceled, v.History[0].Outcome)
	assert.Nil(t, v.History[0].Response)
}

func TestCancelWithoutAttempt(t *testing.T) {
	s, _ := newSession(t, respond(veganResponse), modification.Options{})
	assert.False(t, s.Cancel())
	assert.Equal(t, modification.StatusIdle, s.View().Status)
}

func TestSubmitRejections(t *testing.T) {
	started, stopped := make(chan struct{}), make(chan error, 1)
	s, _ := newSession(t, blockUntilDone(started, stopped), modification.Options{Timeout: time.Minute})
	ctx := context.Background()

	_, err := s.Submit(ctx, modification.Submission{Request: "make it vegan", Authorized: false})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = s.Submit(ctx, modification.Submission{Request: "   ", Authorized: true})
	assert.True(t, common.IsValidationError(err))

	submit(t, s, "make it vegan", true)
	<-started
	_, err = s.Submit(ctx, modification.Submission{Request: "and spicy", Authorized: true})
	assert.ErrorIs(t, err, common.ErrModificationBusy)

	require.True(t, s.Cancel())
	<-stopped
	assert.Len(t, s.View().History, 1)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		mod     modifierFunc
		status  modification.Status
		outcome modification.Outcome
	}{
		{
			name:    "not deployed",
			mod:     func(context.Context, modification.ModifyRequest) (string, error) { return "", common.ErrAINotDeployed.Wrap(errors.New("404")) },
			status:  modification.StatusNotDeployed,
			outcome: modification.OutcomeNotDeployed,
		},
		{
			name: "timeout",
			mod: func(ctx context.Context, _ modification.ModifyRequest) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			status:  modification.StatusNotDeployed,
			outcome: modification.OutcomeNotDeployed,
		},
		{
			name:    "service error",
			mod:     func(context.Context, modification.ModifyRequest) (string, error) { return "", errors.New("boom") },
			status:  modification.StatusError,
			outcome: modification.OutcomeFailed,
		},
		{
			name:    "empty response",
			mod:     respond("   "),
			status:  modification.StatusError,
			outcome: modification.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSession(t, tt.mod, modification.Options{Timeout: 20 * time.Millisecond})

			wait(t, submit(t, s, "make it vegan", true))

			v := s.View()
			assert.Equal(t, tt.status, v.Status)
			assert.NotEmpty(t, v.Error)
			assert.Equal(t, 1, v.Recipe.VersionNumber)
			require.Len(t, v.History, 1)
			assert.Equal(t, tt.outcome, v.History[0].Outcome)
			assert.False(t, v.History[0].Applied)
			assert.NotEmpty(t, v.History[0].Error)

			// 失敗後可以重新送出
			_, err := s.Submit(context.Background(), modification.Submission{Request: "again", Authorized: true})
			assert.NoError(t, err)
			s.Cancel()
		})
	}
}

func TestSubmitInvalidQuantities(t *testing.T) {
	raw := `{"textResponse": "Added salt.", "changes": {"ingredients": {"mode": "add", "items": [{"quantity": -1, "unit": "tsp", "item": "salt"}]}}}`
	s, store := newSession(t, respond(raw), modification.Options{})

	wait(t, submit(t, s, "add salt", true))

	v := s.View()
	assert.Equal(t, modification.StatusError, v.Status)
	assert.Contains(t, v.Error, "salt")
	assert.Equal(t, 1, v.Recipe.VersionNumber)
	assert.Len(t, v.Recipe.Ingredients, 3)
	require.Len(t, v.History, 1)
	assert.Equal(t, modification.OutcomeInvalid, v.History[0].Outcome)
	assert.False(t, v.History[0].Applied)

	head, err := store.GetHead(context.Background(), s.Key())
	require.NoError(t, err)
	assert.Equal(t, v.Recipe.ID, head)
}

func TestSubmitWithoutChanges(t *testing.T) {
	raw := `{"textResponse": "It is already vegetarian.", "followUpQuestions": "Want a vegan version?", "changes": null}`
	s, _ := newSession(t, respond(raw), modification.Options{})

	wait(t, submit(t, s, "is this vegetarian?", false))

	v := s.View()
	assert.Equal(t, modification.StatusIdle, v.Status)
	assert.Nil(t, v.Pending)
	assert.Equal(t, 1, v.Recipe.VersionNumber)
	require.Len(t, v.History, 1)
	assert.Equal(t, modification.OutcomeNoChanges, v.History[0].Outcome)
	assert.Equal(t, []string{"Want a vegan version?"}, v.History[0].Response.FollowUpQuestions)
}

func TestSubmitSupersedesPending(t *testing.T) {
	s, _ := newSession(t, respond(veganResponse), modification.Options{})

	first := submit(t, s, "make it vegan", false)
	wait(t, first)

	second := submit(t, s, "make it vegan please", false)
	v := s.View()
	require.Len(t, v.History, 1)
	assert.Equal(t, first.ID, v.History[0].AttemptID)
	assert.Equal(t, modification.OutcomeSuperseded, v.History[0].Outcome)

	wait(t, second)
	v = s.View()
	require.NotNil(t, v.Pending)
	assert.Equal(t, second.ID, v.Pending.AttemptID)
}

func TestConfirmDuplicates(t *testing.T) {
	raw := `{"textResponse": "Richer batter.", "changes": {"ingredients": {"mode": "add", "items": [
		{"quantity": 100, "unit": "ml", "item": "whole milk"},
		{"quantity": 20, "unit": "g", "item": "sugar"}
	]}}}`

	tests := []struct {
		name  string
		allow bool
		want  int
	}{
		{"skip duplicates", false, 4},
		{"allow duplicates", true, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newSession(t, respond(raw), modification.Options{})
			wait(t, submit(t, s, "richer", false))

			p := s.View().Pending
			require.NotNil(t, p)
			require.Len(t, p.Duplicates, 1)
			assert.Equal(t, "milk", p.Duplicates[0].Existing.Name())
			assert.Equal(t, 0, p.Duplicates[0].ProposedIndex)

			merged, err := s.Confirm(context.Background(), modification.ConfirmOptions{AllowDuplicates: tt.allow})
			require.NoError(t, err)
			assert.Len(t, merged.Ingredients, tt.want)
			assert.Equal(t, "sugar", merged.Ingredients[len(merged.Ingredients)-1].Name())
		})
	}
}

func TestImmediateAddSkipsDuplicates(t *testing.T) {
	raw := `{"textResponse": "Sweeter.", "changes": {"ingredients": {"mode": "add", "items": [{"quantity": 1, "item": "Egg"}, {"quantity": 10, "unit": "g", "item": "sugar"}]}}}`
	s, _ := newSession(t, respond(raw), modification.Options{})

	wait(t, submit(t, s, "sweeter", true))

	v := s.View()
	require.Len(t, v.Recipe.Ingredients, 4)
	assert.Equal(t, "sugar", v.Recipe.Ingredients[3].Name())
}
