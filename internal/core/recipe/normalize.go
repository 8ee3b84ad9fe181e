package recipe

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize 轉小寫、去除前後空白、合併連續空白並移除重音符號
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	decomposed := norm.NFD.String(strings.ToLower(text))

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
