package search

import (
	"strings"
	"unicode/utf8"
)

// Snippet returns at most maxRunes runes of text, starting a little before the first occurrence
// of any query term so the match is visible. "..." marks cut ends.
func Snippet(text, query string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	start := 0
	lower := strings.ToLower(text)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if i := strings.Index(lower, term); i >= 0 {
			start = utf8.RuneCountInString(lower[:i])
			break
		}
	}
	// Show some context before the match.
	start -= maxRunes / 4
	if start < 0 {
		start = 0
	}
	end := start + maxRunes
	if end > len(runes) {
		end = len(runes)
		start = end - maxRunes
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
