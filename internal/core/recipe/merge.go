package recipe

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNilRecipe 合併時缺少原始食譜
	ErrNilRecipe = errors.New("recipe is nil")
	// ErrNilChanges 合併時缺少變更內容
	ErrNilChanges = errors.New("change set is nil")
)

// MergeOptions 合併選項
type MergeOptions struct {
	// Duplicates 由 FindDuplicates 取得，add 模式下預設略過這些新食材
	Duplicates      []DuplicatePair
	AllowDuplicates bool
	// NewID 新版本 ID，空字串時自動產生
	NewID string
	Now   time.Time
}

// Merge 將變更套用到食譜並回傳新版本，原食譜不會被修改
//
// 份量驗證由呼叫端先行完成。
func Merge(r *Recipe, cs *ChangeSet, opts MergeOptions) (*Recipe, error) {
	if r == nil {
		return nil, ErrNilRecipe
	}
	if cs == nil {
		return nil, ErrNilChanges
	}

	out := r.Clone()
	if cs.Title != nil {
		out.Title = *cs.Title
	}

	if cs.Ingredients != nil {
		ingredients, err := mergeIngredients(out.Ingredients, cs.Ingredients, opts)
		if err != nil {
			return nil, err
		}
		out.Ingredients = ingredients
	}

	if len(cs.Instructions) > 0 {
		steps := make([]positioned, len(cs.Instructions))
		for i, c := range cs.Instructions {
			steps[i] = positioned{text: c.Action, step: c.Step}
		}
		out.Instructions = applyPositional(out.Instructions, steps)
	}

	out.ScienceNotes = appendNotes(out.ScienceNotes, cs.ScienceNotes)

	out.ID = opts.NewID
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = opts.Now
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	out.VersionNumber = r.VersionNumber + 1
	out.PreviousVersionID = r.ID
	out.DeletedAt = nil

	return out, nil
}

func mergeIngredients(current []Ingredient, changes *IngredientChanges, opts MergeOptions) ([]Ingredient, error) {
	switch changes.Mode {
	case ModeNone:
		return current, nil
	case ModeReplace:
		out := make([]Ingredient, len(changes.Items))
		for i, ing := range changes.Items {
			out[i] = ing.clone()
		}
		return out, nil
	case ModeAdd:
		skip := make(map[int]bool, len(opts.Duplicates))
		if !opts.AllowDuplicates {
			for _, d := range opts.Duplicates {
				skip[d.ProposedIndex] = true
			}
		}
		out := current
		for i, ing := range changes.Items {
			if skip[i] {
				continue
			}
			out = append(out, ing.clone())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown ingredient mode %q", changes.Mode)
	}
}

type positioned struct {
	text string
	// step 1 起算，0 表示附加新步驟
	step int
}

// applyPositional 指定步驟存在時取代，未指定或超出範圍時附加在最後
func applyPositional(current []string, changes []positioned) []string {
	out := current
	for _, c := range changes {
		if pos := c.step - 1; c.step > 0 && pos < len(out) {
			out[pos] = c.text
			continue
		}
		out = append(out, c.text)
	}
	return out
}

// appendNotes 附加新的科學筆記，正規化後相同的筆記不重複加入
func appendNotes(current, proposed []string) []string {
	seen := make(map[string]bool, len(current))
	for _, n := range current {
		seen[Normalize(n)] = true
	}
	out := current
	for _, n := range proposed {
		key := Normalize(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
