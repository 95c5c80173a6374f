package search

import (
	"strings"
	"testing"
)

func TestSnippet(t *testing.T) {
	if Snippet("short", "x", 10) != "short" {
		t.Error("short text should be unchanged")
	}
	if Snippet("anything", "x", 0) != "anything" {
		t.Error("maxRunes 0 should return as-is")
	}

	text := strings.Repeat("filler ", 40) + "the indemnification clause is broad " + strings.Repeat("tail ", 40)
	got := Snippet(text, "Indemnification", 60)
	if !strings.Contains(got, "indemnification") {
		t.Errorf("snippet should contain the match: %q", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet should mark both cut ends: %q", got)
	}

	got = Snippet(strings.Repeat("§ü", 50), "missing", 10)
	if got != strings.Repeat("§ü", 5)+"..." {
		t.Errorf("no match should start at the beginning: %q", got)
	}
}
