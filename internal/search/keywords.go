package search

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"
)

const maxKeywords = 5

var (
	punctRE = regexp.MustCompile(`[,.!?;:"'()\[\]<>，。！？、；：“”‘’（）【】《》…]`)

	keywordStopWords = map[string]struct{}{
		"的": {}, "了": {}, "是": {}, "在": {}, "有": {}, "和": {}, "与": {}, "或": {}, "但": {},
		"因为": {}, "所以": {}, "这": {}, "那": {}, "什么": {}, "如何": {}, "怎么": {}, "为什么": {}, "哪里": {},
	}
)

// ExtractKeywords turns a chat message into a short search query: punctuation
// becomes whitespace, single-rune words and stop words are dropped, and at
// most five words are kept. If nothing survives, the trimmed message is used.
func ExtractKeywords(message string) string {
	folded := width.Fold.String(message)
	words := strings.Fields(punctRE.ReplaceAllString(folded, " "))

	kept := make([]string, 0, maxKeywords)
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		if _, stop := keywordStopWords[w]; stop {
			continue
		}
		kept = append(kept, w)
		if len(kept) == maxKeywords {
			break
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(message)
	}
	return strings.Join(kept, " ")
}
