package vocab

import "testing"

func buildVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	v := New()
	entries := []struct {
		tok   string
		score float32
	}{
		{"a", -1},
		{"b", -1},
		{"ab", -0.5}, // longer piece, better score than a+b combined
		{"c", -1},
	}
	for i, e := range entries {
		if err := v.Push(TokenID(i), []byte(e.tok), e.score); err != nil {
			t.Fatalf("Push(%q): %v", e.tok, err)
		}
	}
	return v
}

func TestVocabularyPushRejectsNonDenseIDs(t *testing.T) {
	v := New()
	if err := v.Push(1, []byte("x"), 0); err == nil {
		t.Error("Push with id 1 on an empty vocabulary should fail (expected 0)")
	}
}

func TestVocabularyRoundTrip(t *testing.T) {
	v := buildVocabulary(t)
	if v.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", v.Len())
	}
	tok, err := v.IDToToken(2)
	if err != nil || string(tok) != "ab" {
		t.Fatalf("IDToToken(2) = %q, %v, want \"ab\", nil", tok, err)
	}
	id, ok := v.TokenToID([]byte("ab"))
	if !ok || id != 2 {
		t.Fatalf("TokenToID(\"ab\") = %d, %v, want 2, true", id, ok)
	}
	if _, err := v.IDToToken(99); err == nil {
		t.Error("IDToToken(99) should fail for an out-of-range id")
	}
}

func TestTokenizePrefersHigherScoringPath(t *testing.T) {
	v := buildVocabulary(t)
	ids, err := Tokenize(v, []byte("ab"), false, 0)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("Tokenize(\"ab\") = %v, want [2] (the single \"ab\" piece)", ids)
	}
}

func TestTokenizePrependsBOS(t *testing.T) {
	v := buildVocabulary(t)
	const bos = TokenID(7)
	ids, err := Tokenize(v, []byte("c"), true, bos)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(ids) != 2 || ids[0] != bos || ids[1] != 3 {
		t.Fatalf("Tokenize with BOS = %v, want [%d 3]", ids, bos)
	}
}

func TestTokenizeFailsOnUncoveredByte(t *testing.T) {
	v := buildVocabulary(t)
	if _, err := Tokenize(v, []byte("z"), false, 0); err == nil {
		t.Error("Tokenize(\"z\") should fail: no vocabulary entry covers it")
	} else if _, ok := err.(*TokenizationFailedError); !ok {
		t.Errorf("error type = %T, want *TokenizationFailedError", err)
	}
}
