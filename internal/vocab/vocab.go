// Package vocab implements the dense token vocabulary and the
// greedy longest-match-scored tokenizer of §4.3.
package vocab

import "fmt"

// TokenID is a non-negative integer identifying a vocabulary entry.
type TokenID int32

// Vocabulary is an ordered sequence of (token-bytes, score) pairs
// whose position is the token id; ids are dense in [0, n_vocab).
type Vocabulary struct {
	tokens  [][]byte
	scores  []float32
	byBytes map[string]TokenID
}

// New returns an empty vocabulary ready to be populated in id order.
func New() *Vocabulary {
	return &Vocabulary{byBytes: make(map[string]TokenID)}
}

// Push appends the next token; id must equal Len() (ids are assigned
// by the loader in file order, which the format guarantees is dense).
func (v *Vocabulary) Push(id TokenID, tok []byte, score float32) error {
	if int(id) != len(v.tokens) {
		return fmt.Errorf("vocab: token id %d is not dense (expected %d)", id, len(v.tokens))
	}
	stored := append([]byte(nil), tok...)
	v.tokens = append(v.tokens, stored)
	v.scores = append(v.scores, score)
	v.byBytes[string(stored)] = id
	return nil
}

// Len returns n_vocab.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// IDToToken returns the byte-piece for id.
func (v *Vocabulary) IDToToken(id TokenID) ([]byte, error) {
	if id < 0 || int(id) >= len(v.tokens) {
		return nil, fmt.Errorf("vocab: id %d out of range [0,%d)", id, len(v.tokens))
	}
	return v.tokens[id], nil
}

// Score returns the score associated with id.
func (v *Vocabulary) Score(id TokenID) (float32, error) {
	if id < 0 || int(id) >= len(v.scores) {
		return 0, fmt.Errorf("vocab: id %d out of range [0,%d)", id, len(v.scores))
	}
	return v.scores[id], nil
}

// TokenToID performs the reverse byte-piece lookup used by the
// tokenizer's dynamic program.
func (v *Vocabulary) TokenToID(tok []byte) (TokenID, bool) {
	id, ok := v.byBytes[string(tok)]
	return id, ok
}
