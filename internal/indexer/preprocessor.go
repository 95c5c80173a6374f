package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: CRLF and CR become LF, control
// characters other than newline and tab are dropped, trailing spaces are stripped from each
// line, and the text is trimmed. Line structure is kept because headings are detected per line.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
