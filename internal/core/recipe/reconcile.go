package recipe

import (
	"fmt"
	"strings"
)

// QuantityValidation 份量驗證結果
type QuantityValidation struct {
	Valid   bool     `json:"valid"`
	Message string   `json:"message,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
}

// FindDuplicates 找出與既有食材重複的新食材
//
// 比對正規化後的名稱，任一方包含另一方即視為重複。每個新食材只取第一個命中的既有食材。
func FindDuplicates(existing, proposed []Ingredient) []DuplicatePair {
	if len(existing) == 0 || len(proposed) == 0 {
		return nil
	}

	keys := make([]string, len(existing))
	for i, ing := range existing {
		keys[i] = Normalize(ing.Item.Text())
	}

	var pairs []DuplicatePair
	for pi, p := range proposed {
		key := Normalize(p.Item.Text())
		if key == "" {
			continue
		}
		for ei, existingKey := range keys {
			if existingKey == "" {
				continue
			}
			if strings.Contains(existingKey, key) || strings.Contains(key, existingKey) {
				pairs = append(pairs, DuplicatePair{
					Existing:      existing[ei],
					Proposed:      p,
					ProposedIndex: pi,
				})
				break
			}
		}
	}
	return pairs
}

// ValidateQuantities 檢查新食材的份量是否為有限正數
//
// 完全未提供份量的食材不檢查；有提供但無法解析、非有限值或不大於 0 皆視為無效。
func ValidateQuantities(r *Recipe, items []Ingredient, mode Mode) QuantityValidation {
	if mode == ModeNone || len(items) == 0 {
		return QuantityValidation{Valid: true}
	}

	system := r.System()
	var invalid []string
	for _, ing := range items {
		if !ing.Quantity.Specified() {
			continue
		}
		if !ing.Quantity.In(system).Valid() {
			invalid = append(invalid, ing.Name())
		}
	}
	if len(invalid) == 0 {
		return QuantityValidation{Valid: true}
	}
	return QuantityValidation{
		Valid:   false,
		Message: fmt.Sprintf("invalid quantities for: %s", strings.Join(invalid, ", ")),
		Invalid: invalid,
	}
}
