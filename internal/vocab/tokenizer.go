package vocab

import "fmt"

// TokenizationFailedError is returned when some byte of the input is
// covered by no vocabulary entry reachable from the start of the
// string.
type TokenizationFailedError struct {
	Position int
}

func (e *TokenizationFailedError) Error() string {
	return fmt.Sprintf("tokenization failed: no vocabulary entry covers byte position %d", e.Position)
}

// edge records, for the best path ending at a given byte offset, the
// predecessor offset and the token chosen.
type edge struct {
	from    int
	id      TokenID
	length  int
	hasEdge bool
}

// Tokenize implements the greedy longest-match-scored tokenizer of
// §4.3: the standard BPE-style dynamic program over byte positions,
// maximising cumulative token score, breaking ties by longest piece
// then by smallest id. If prependBOS is true, bosID is prepended to
// the result (the session passes true when n_past == 0).
func Tokenize(v *Vocabulary, s []byte, prependBOS bool, bosID TokenID) ([]TokenID, error) {
	n := len(s)
	bestScore := make([]float32, n+1)
	reachable := make([]bool, n+1)
	edges := make([]edge, n+1)

	reachable[0] = true
	const negInf = float32(-1e30)
	for i := 1; i <= n; i++ {
		bestScore[i] = negInf
	}

	for i := 1; i <= n; i++ {
		for j := 0; j < i; j++ {
			if !reachable[j] {
				continue
			}
			id, ok := v.TokenToID(s[j:i])
			if !ok {
				continue
			}
			score, err := v.Score(id)
			if err != nil {
				return nil, err
			}
			candidate := bestScore[j] + score
			length := i - j
			better := !reachable[i] ||
				candidate > bestScore[i] ||
				(candidate == bestScore[i] && length > edges[i].length) ||
				(candidate == bestScore[i] && length == edges[i].length && id < edges[i].id)
			if better {
				bestScore[i] = candidate
				edges[i] = edge{from: j, id: id, length: length, hasEdge: true}
				reachable[i] = true
			}
		}
	}

	if !reachable[n] {
		for i := 1; i <= n; i++ {
			if !reachable[i] {
				return nil, &TokenizationFailedError{Position: i - 1}
			}
		}
	}

	var reversed []TokenID
	for i := n; i > 0; i = edges[i].from {
		reversed = append(reversed, edges[i].id)
	}

	out := make([]TokenID, 0, len(reversed)+1)
	if prependBOS {
		out = append(out, bosID)
	}
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out, nil
}
