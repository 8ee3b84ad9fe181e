package recipe

import "strings"

// Summary 變更摘要
type Summary struct {
	HasTitle         bool `json:"hasTitle"`
	HasIngredients   bool `json:"hasIngredients"`
	HasInstructions  bool `json:"hasInstructions"`
	HasScienceNotes  bool `json:"hasScienceNotes"`
	Mode             Mode `json:"mode,omitempty"`
	IngredientCount  int  `json:"ingredientCount"`
	InstructionCount int  `json:"instructionCount"`
	ScienceNoteCount int  `json:"scienceNoteCount"`
}

// Empty 沒有任何可套用的變更
func (s *Summary) Empty() bool {
	return s == nil || !(s.HasTitle || s.HasIngredients || s.HasInstructions || s.HasScienceNotes)
}

// Summarize 統計變更內容，nil 輸入回傳 nil
func Summarize(cs *ChangeSet) *Summary {
	if cs == nil {
		return nil
	}

	s := &Summary{
		HasTitle:         cs.Title != nil,
		HasInstructions:  len(cs.Instructions) > 0,
		HasScienceNotes:  len(cs.ScienceNotes) > 0,
		InstructionCount: len(cs.Instructions),
		ScienceNoteCount: len(cs.ScienceNotes),
	}
	if cs.Ingredients != nil {
		s.Mode = cs.Ingredients.Mode
		s.IngredientCount = len(cs.Ingredients.Items)
		s.HasIngredients = cs.Ingredients.Mode != ModeNone && len(cs.Ingredients.Items) > 0
	}
	return s
}

// CheckIngredientWarnings 新食材備註中是否帶有 warning
func CheckIngredientWarnings(cs *ChangeSet) bool {
	if cs == nil || cs.Ingredients == nil {
		return false
	}
	for _, ing := range cs.Ingredients.Items {
		if strings.Contains(strings.ToLower(ing.Notes), "warning") {
			return true
		}
	}
	return false
}
