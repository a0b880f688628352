package sampler

import (
	"math"
	"math/rand"
	"testing"

	"github.com/edgerun/ggufrt/internal/vocab"
)

func TestSampleGreedyArgmaxWithDegenerateParams(t *testing.T) {
	// Temperature 1, no top-k/top-p, no penalty, no bias: the
	// categorical draw still applies, so pin the rng so the highest
	// logit's overwhelming softmax mass is the only realistic draw.
	logits := []float32{0, 0, 10, 0}
	rng := rand.New(rand.NewSource(1))
	got := Sample(logits, nil, Params{Temperature: 1}, rng)
	if got != 2 {
		t.Errorf("Sample with a dominant logit = %d, want 2", got)
	}
}

func TestSampleRepeatPenaltyPushesDownRecentToken(t *testing.T) {
	logits := []float32{5, 5, 5}
	history := []vocab.TokenID{0}
	work := make([]float32, len(logits))
	copy(work, logits)
	applyRepeatPenalty(work, history, 2.0, 64)

	if work[0] != 2.5 {
		t.Errorf("penalized positive logit = %v, want 2.5", work[0])
	}
	if work[1] != 5 || work[2] != 5 {
		t.Errorf("untouched logits changed: %v", work)
	}
}

func TestSampleRepeatPenaltyIgnoresOutsideWindow(t *testing.T) {
	logits := []float32{5, 5}
	history := []vocab.TokenID{0, 0, 0, 1}
	work := make([]float32, len(logits))
	copy(work, logits)
	applyRepeatPenalty(work, history, 2.0, 1) // only the last token (id 1) counts

	if work[0] != 5 {
		t.Errorf("id 0 outside the repeat window was penalized: %v", work[0])
	}
	if work[1] != 2.5 {
		t.Errorf("id 1 inside the repeat window = %v, want 2.5", work[1])
	}
}

func TestSampleBiasBansToken(t *testing.T) {
	logits := []float32{1, 1, 1}
	bias := map[vocab.TokenID]float32{1: float32(math.Inf(-1))}
	work := make([]float32, len(logits))
	copy(work, logits)
	applyBias(work, bias)

	if !math.IsInf(float64(work[1]), -1) {
		t.Errorf("biased logit = %v, want -Inf", work[1])
	}
}

func TestSampleTemperatureScalesLogits(t *testing.T) {
	logits := []float32{2, 4}
	applyTemperature(logits, 2)
	if logits[0] != 1 || logits[1] != 2 {
		t.Errorf("applyTemperature(2) = %v, want [1 2]", logits)
	}
}

func TestSampleTemperatureNoopAtOne(t *testing.T) {
	logits := []float32{2, 4}
	applyTemperature(logits, 1)
	if logits[0] != 2 || logits[1] != 4 {
		t.Errorf("applyTemperature(1) should be a no-op, got %v", logits)
	}
}

func TestTopKKeepsOnlyLargest(t *testing.T) {
	cands := []candidate{{0, 1}, {1, 5}, {2, 3}, {3, 4}}
	got := topK(cands, 2)
	if len(got) != 2 {
		t.Fatalf("len(topK) = %d, want 2", len(got))
	}
	if got[0].id != 1 || got[1].id != 3 {
		t.Errorf("topK(2) = %+v, want ids [1 3] in descending order", got)
	}
}

func TestTopKNoopWhenKExceedsLength(t *testing.T) {
	cands := []candidate{{0, 1}, {1, 2}}
	got := topK(cands, 10)
	if len(got) != 2 {
		t.Errorf("topK(10) over 2 candidates = %d, want 2", len(got))
	}
}

func TestTopPKeepsSmallestSufficientPrefix(t *testing.T) {
	// One dominant candidate: softmax mass concentrates almost
	// entirely on it, so p=0.5 should keep just that one.
	cands := []candidate{{0, 0}, {1, 100}, {2, 0}}
	got := topP(cands, 0.5)
	if len(got) != 1 || got[0].id != 1 {
		t.Fatalf("topP(0.5) = %+v, want only id 1", got)
	}
}

func TestTopPNoopOutOfRange(t *testing.T) {
	cands := []candidate{{0, 1}, {1, 2}}
	if got := topP(cands, 0); len(got) != 2 {
		t.Errorf("topP(0) should be a no-op, got %+v", got)
	}
	if got := topP(cands, 1); len(got) != 2 {
		t.Errorf("topP(1) should be a no-op, got %+v", got)
	}
}

func TestDrawCategoricalSingleCandidateIsDeterministic(t *testing.T) {
	cands := []candidate{{7, 1}}
	rng := rand.New(rand.NewSource(42))
	if got := drawCategorical(cands, rng); got != 7 {
		t.Errorf("drawCategorical with one candidate = %d, want 7", got)
	}
}

func TestDrawCategoricalRespectsRngSeed(t *testing.T) {
	cands := []candidate{{0, 1}, {1, 1}, {2, 1}}
	rng1 := rand.New(rand.NewSource(99))
	rng2 := rand.New(rand.NewSource(99))
	got1 := drawCategorical(cands, rng1)
	got2 := drawCategorical(cands, rng2)
	if got1 != got2 {
		t.Errorf("same seed produced different draws: %d vs %d", got1, got2)
	}
}

func TestSoftmaxSumsToOne(t *testing.T) {
	cands := []candidate{{0, 1}, {1, 2}, {2, 3}}
	probs := softmax(cands)
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("softmax sums to %v, want 1", sum)
	}
}
