// Package utils provides shared utilities for text, vectors and logging.
package utils

import "unicode/utf8"

// Truncate returns s cut to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	cut := TruncateRunes(s, maxLen)
	if len(cut) == len(s) {
		return s
	}
	return cut + "..."
}

// TruncateRunes returns the first maxLen characters of s. If maxLen is 0 or negative,
// returns s unchanged.
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}

// SanitizeUTF8 drops invalid UTF-8 bytes. Extracted PDF text occasionally contains them and
// both SQLite FTS and Postgres reject such strings.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		out = append(out, r)
	}
	return string(out)
}
