package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Indemnify the Licensor", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != 101 || ids[4] != 102 {
		t.Errorf("expected CLS at 0 and SEP at 4, got %v", ids)
	}
	for i, want := range []int64{1, 1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
	lower, _, _ := tok.Tokenize("indemnify the licensor", 10)
	if lower[1] != ids[1] {
		t.Error("tokenizer should be case-insensitive")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, _, _ := tok.Tokenize("a b c d e f g h i j k l", 5)
	if len(ids) != 5 {
		t.Fatalf("len = %d", len(ids))
	}
	if ids[4] != 102 {
		t.Errorf("last position should be SEP, got %d", ids[4])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b\tc\n ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different words should hash differently")
	}
	long := "supercalifragilisticexpialidocious-termination-for-convenience"
	if HashString(long) < 0 {
		t.Error("hash must be non-negative")
	}
}
