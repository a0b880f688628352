package ops

import (
	"math"
	"testing"
)

func TestMatMulIdentity(t *testing.T) {
	// 2x2 identity weight, two token columns.
	w := []float32{1, 0, 0, 1}
	x := []float32{3, 4, 5, 6}
	got := MatMul(w, 2, 2, x, 2)
	want := []float32{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MatMul = %v, want %v", got, want)
		}
	}
}

func TestRMSNormUnitScale(t *testing.T) {
	x := []float32{3, 4}
	weight := []float32{1, 1}
	out := RMSNorm(x, 2, 1, weight, 0)
	// rms = sqrt((9+16)/2) = sqrt(12.5)
	rms := math.Sqrt(12.5)
	wantA := float32(3 / rms)
	wantB := float32(4 / rms)
	if math.Abs(float64(out[0]-wantA)) > 1e-5 || math.Abs(float64(out[1]-wantB)) > 1e-5 {
		t.Errorf("RMSNorm = %v, want [%v %v]", out, wantA, wantB)
	}
}

func TestLayerNormZeroMeanUnitVariance(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	weight := []float32{1, 1, 1, 1}
	bias := []float32{0, 0, 0, 0}
	out := LayerNorm(x, 4, 1, weight, bias, 1e-5)
	var mean float32
	for _, v := range out {
		mean += v
	}
	mean /= 4
	if math.Abs(float64(mean)) > 1e-3 {
		t.Errorf("LayerNorm output mean = %v, want ~0", mean)
	}
}

func TestSoftmaxRowsSumsToOne(t *testing.T) {
	scores := []float32{1, 2, 3, 1, 1, 1}
	SoftmaxRows(scores, 2, 3)
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += scores[r*3+c]
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("row %d sums to %v, want 1", r, sum)
		}
	}
}

func TestCausalMaskZeroesFutureWeight(t *testing.T) {
	// n=2 queries, nPast=0, so keys=2. Row 0 (absolute pos 0) cannot
	// see key 1.
	scores := []float32{0, 0, 0, 0}
	CausalMaskInPlace(scores, 0, 2)
	if !math.IsInf(float64(scores[1]), -1) {
		t.Errorf("scores[1] = %v, want -Inf (query 0 attending to future key 1)", scores[1])
	}
	SoftmaxRows(scores, 2, 2)
	if scores[1] != 0 {
		t.Errorf("post-softmax weight on masked key = %v, want 0", scores[1])
	}
}

func TestALiBiSlopeDecreasesPerHead(t *testing.T) {
	s0 := ALiBiSlope(0, 8)
	s1 := ALiBiSlope(1, 8)
	if s1 >= s0 {
		t.Errorf("ALiBiSlope(1,8)=%v should be smaller than ALiBiSlope(0,8)=%v", s1, s0)
	}
}

func TestApplyRotaryPreservesNorm(t *testing.T) {
	headDim := 4
	x := []float32{1, 2, 3, 4}
	before := l2norm(x)
	ApplyRotary(x, headDim, 1, 1, 5)
	after := l2norm(x)
	if math.Abs(before-after) > 1e-4 {
		t.Errorf("rotary changed vector norm: before=%v after=%v", before, after)
	}
}

func l2norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestSiLUGatedZeroGateIsZero(t *testing.T) {
	gate := []float32{0}
	up := []float32{42}
	SiLUGatedInPlace(gate, up)
	if gate[0] != 0 {
		t.Errorf("SiLU(0)*up = %v, want 0", gate[0])
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	tests := []float32{0, 1, -1, 0.5, 100, -100, 65504}
	for _, v := range tests {
		h := Float32ToFloat16(v)
		got := Float16ToFloat32(h)
		if math.Abs(float64(got-v)) > float64(v)*0.01+1e-3 {
			t.Errorf("round trip %v -> %x -> %v, too lossy", v, h, got)
		}
	}
}
