// Package sampler implements the logits-to-token-id pipeline of §4.5
// sample_next: repetition penalty, bias overrides, temperature,
// top-k, top-p, and a final categorical draw.
package sampler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/edgerun/ggufrt/internal/vocab"
)

// Params configures one Sample call, mirroring §4.5's numbered steps.
type Params struct {
	RepeatPenalty   float32
	RepeatLastN     int
	BiasTokens      map[vocab.TokenID]float32 // additive overrides, e.g. -Inf to ban
	Temperature     float32
	TopK            int
	TopP            float64
}

type candidate struct {
	id    vocab.TokenID
	logit float32
}

// Sample runs the full pipeline over logits (length n_vocab, not
// mutated) and returns the chosen token id. history is the most
// recent tokens already emitted, used for the repetition penalty;
// rng drives every random choice so callers control reproducibility.
func Sample(logits []float32, history []vocab.TokenID, p Params, rng *rand.Rand) vocab.TokenID {
	work := make([]float32, len(logits))
	copy(work, logits)

	applyRepeatPenalty(work, history, p.RepeatPenalty, p.RepeatLastN)
	applyBias(work, p.BiasTokens)
	applyTemperature(work, p.Temperature)

	cands := make([]candidate, len(work))
	for i, v := range work {
		cands[i] = candidate{id: vocab.TokenID(i), logit: v}
	}
	cands = topK(cands, p.TopK)
	cands = topP(cands, p.TopP)

	return drawCategorical(cands, rng)
}

// applyRepeatPenalty implements §4.5 step 1: for each id among the
// last repeatLastN history tokens, divide positive logits or multiply
// negative ones by penalty, discouraging immediate repetition
// symmetrically around zero.
func applyRepeatPenalty(logits []float32, history []vocab.TokenID, penalty float32, lastN int) {
	if penalty == 0 || penalty == 1 || lastN <= 0 {
		return
	}
	start := len(history) - lastN
	if start < 0 {
		start = 0
	}
	seen := make(map[vocab.TokenID]struct{})
	for _, id := range history[start:] {
		seen[id] = struct{}{}
	}
	for id := range seen {
		if int(id) < 0 || int(id) >= len(logits) {
			continue
		}
		v := logits[id]
		if v > 0 {
			logits[id] = v / penalty
		} else {
			logits[id] = v * penalty
		}
	}
}

// applyBias implements §4.5 step 2: additive per-id overrides.
func applyBias(logits []float32, bias map[vocab.TokenID]float32) {
	for id, delta := range bias {
		if int(id) < 0 || int(id) >= len(logits) {
			continue
		}
		logits[id] += delta
	}
}

// applyTemperature implements §4.5 step 3.
func applyTemperature(logits []float32, temp float32) {
	if temp <= 0 || temp == 1 {
		return
	}
	for i := range logits {
		logits[i] /= temp
	}
}

// topK implements §4.5 step 4: keep the k largest logits.
func topK(cands []candidate, k int) []candidate {
	if k <= 0 || k >= len(cands) {
		return cands
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].logit > cands[j].logit })
	return cands[:k]
}

// topP implements §4.5 step 5: sort descending, keep the smallest
// prefix whose softmax mass is at least p.
func topP(cands []candidate, p float64) []candidate {
	if p <= 0 || p >= 1 {
		return cands
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].logit > cands[j].logit })

	probs := softmax(cands)
	var cum float64
	cut := len(cands)
	for i, pr := range probs {
		cum += pr
		if cum >= p {
			cut = i + 1
			break
		}
	}
	return cands[:cut]
}

// drawCategorical implements §4.5 step 6: sample from the softmax
// over the surviving candidates.
func drawCategorical(cands []candidate, rng *rand.Rand) vocab.TokenID {
	if len(cands) == 0 {
		return 0
	}
	if len(cands) == 1 {
		return cands[0].id
	}
	probs := softmax(cands)
	r := rng.Float64()
	var cum float64
	for i, pr := range probs {
		cum += pr
		if r <= cum {
			return cands[i].id
		}
	}
	return cands[len(cands)-1].id
}

func softmax(cands []candidate) []float64 {
	max := float32(math.Inf(-1))
	for _, c := range cands {
		if c.logit > max {
			max = c.logit
		}
	}
	out := make([]float64, len(cands))
	var sum float64
	for i, c := range cands {
		e := math.Exp(float64(c.logit - max))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
