package recipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRecipe() *Recipe {
	return &Recipe{
		ID:            "r1",
		Title:         "Pancakes",
		Ingredients:   []Ingredient{ing("flour", 200, "g"), ing("milk", 300, "ml"), ing("egg", 2, "")},
		Instructions:  []string{"Mix dry ingredients", "Add milk and eggs", "Cook on a hot pan"},
		ScienceNotes:  []string{"Gluten forms when flour meets water."},
		UnitSystem:    UnitMetric,
		VersionNumber: 1,
	}
}

func TestMergeVeganScenario(t *testing.T) {
	r := baseRecipe()
	title := "Vegan Pancakes"
	cs := &ChangeSet{
		Title: &title,
		Ingredients: &IngredientChanges{Mode: ModeReplace, Items: []Ingredient{
			ing("flour", 200, "g"), ing("oat milk", 300, "ml"), ing("flax egg", 2, ""),
		}},
		Instructions: []InstructionChange{{Action: "Prepare flax eggs and let them gel", Step: 1}},
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := Merge(r, cs, MergeOptions{NewID: "r2", Now: now})
	require.NoError(t, err)

	assert.Equal(t, "r2", out.ID)
	assert.Equal(t, "Vegan Pancakes", out.Title)
	assert.Equal(t, 2, out.VersionNumber)
	assert.Equal(t, "r1", out.PreviousVersionID)
	assert.Equal(t, now, out.CreatedAt)
	require.Len(t, out.Ingredients, 3)
	assert.Equal(t, "oat milk", out.Ingredients[1].Name())
	assert.Equal(t, []string{"Prepare flax eggs and let them gel", "Add milk and eggs", "Cook on a hot pan"}, out.Instructions)

	// 原版本不變
	assert.Equal(t, "Pancakes", r.Title)
	assert.Equal(t, "milk", r.Ingredients[1].Name())
	assert.Equal(t, "Mix dry ingredients", r.Instructions[0])
	assert.Equal(t, 1, r.VersionNumber)
}

func TestMergeAddSkipsDuplicates(t *testing.T) {
	r := baseRecipe()
	proposed := []Ingredient{ing("whole milk", 100, "ml"), ing("sugar", 20, "g")}
	dups := FindDuplicates(r.Ingredients, proposed)
	require.Len(t, dups, 1)

	cs := &ChangeSet{Ingredients: &IngredientChanges{Mode: ModeAdd, Items: proposed}}

	out, err := Merge(r, cs, MergeOptions{Duplicates: dups})
	require.NoError(t, err)
	require.Len(t, out.Ingredients, 4)
	assert.Equal(t, "milk", out.Ingredients[1].Name())
	assert.Equal(t, "sugar", out.Ingredients[3].Name())
	assert.NotEmpty(t, out.ID)
	assert.NotEqual(t, r.ID, out.ID)

	out, err = Merge(r, cs, MergeOptions{Duplicates: dups, AllowDuplicates: true})
	require.NoError(t, err)
	assert.Len(t, out.Ingredients, 5)
	assert.Len(t, r.Ingredients, 3)
}

func TestMergeModeNoneKeepsIngredients(t *testing.T) {
	r := baseRecipe()
	cs := &ChangeSet{Ingredients: &IngredientChanges{Mode: ModeNone, Items: []Ingredient{ing("salt", 1, "tsp")}}}

	out, err := Merge(r, cs, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, r.Ingredients, out.Ingredients)
	assert.Equal(t, r.Title, out.Title)
}

func TestMergeInstructionPositions(t *testing.T) {
	r := baseRecipe()
	cs := &ChangeSet{Instructions: []InstructionChange{
		{Action: "Sift the flour"},
		{Action: "Rest the batter for 10 minutes", Step: 7},
		{Action: "Flip once bubbles form", Step: 3},
	}}

	out, err := Merge(r, cs, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Mix dry ingredients",
		"Add milk and eggs",
		"Flip once bubbles form",
		"Sift the flour",
		"Rest the batter for 10 minutes",
	}, out.Instructions)
}

func TestMergeInstructionWithoutStepAppends(t *testing.T) {
	r := baseRecipe()
	cs := &ChangeSet{Instructions: []InstructionChange{
		{Action: "Garnish with berries"},
		{Action: "Serve warm"},
	}}

	out, err := Merge(r, cs, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, append(append([]string{}, r.Instructions...), "Garnish with berries", "Serve warm"), out.Instructions)
	assert.Len(t, r.Instructions, 3)
}

func TestMergeScienceNotesAppendUnique(t *testing.T) {
	r := baseRecipe()
	cs := &ChangeSet{ScienceNotes: []string{"gluten forms when flour meets  WATER.", "Flax mucilage binds like egg."}}

	out, err := Merge(r, cs, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Gluten forms when flour meets water.", "Flax mucilage binds like egg."}, out.ScienceNotes)
	assert.Len(t, r.ScienceNotes, 1)
}

func TestMergeErrors(t *testing.T) {
	_, err := Merge(nil, &ChangeSet{}, MergeOptions{})
	assert.ErrorIs(t, err, ErrNilRecipe)

	_, err = Merge(baseRecipe(), nil, MergeOptions{})
	assert.ErrorIs(t, err, ErrNilChanges)

	_, err = Merge(baseRecipe(), &ChangeSet{Ingredients: &IngredientChanges{Mode: "swap"}}, MergeOptions{})
	assert.Error(t, err)
}
