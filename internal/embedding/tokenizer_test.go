package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("tenant rights", 10)
	if len(ids) != 10 || len(types) != 10 {
		t.Errorf("len(ids)=%d len(types)=%d", len(ids), len(types))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS %d, got %d", clsToken, ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	for i := 1; i <= 2; i++ {
		if ids[i] < 1000 || ids[i] >= vocabSize {
			t.Errorf("word id %d out of range: %d", i, ids[i])
		}
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("unexpected attention mask %v", attn)
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[3] != sepToken || attn[3] != 1 {
		t.Errorf("expected SEP in last slot, got %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  Section 3,  Minimum-Wages  ")
	want := []string{"section", "3", "minimum", "wages"}
	if len(words) != len(want) {
		t.Fatalf("expected %v, got %v", want, words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
	if got := SplitWords("किरायेदार के अधिकार"); len(got) != 3 {
		t.Errorf("expected 3 Devanagari words, got %v", got)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should hash differently")
	}
	if HashString("") < 0 {
		t.Error("hash should be non-negative")
	}
}
