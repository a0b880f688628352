package ops

import (
	"math"
	"testing"

	"github.com/edgerun/ggufrt/internal/tensor"
)

func rampBlock() []float32 {
	values := make([]float32, 32)
	for i := range values {
		values[i] = float32(i-16) * 0.25
	}
	return values
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	types := []tensor.ElementType{tensor.Q4_0, tensor.Q4_1, tensor.Q4_2, tensor.Q5_0, tensor.Q5_1, tensor.Q8_0}
	values := rampBlock()

	for _, et := range types {
		t.Run(et.String(), func(t *testing.T) {
			encoded, stats, err := QuantizeBlock(et, values)
			if err != nil {
				t.Fatalf("QuantizeBlock: %v", err)
			}
			size, _ := et.BytesPerBlock()
			if len(encoded) != size {
				t.Fatalf("encoded len = %d, want %d", len(encoded), size)
			}

			decoded, err := DequantizeBlock(et, encoded)
			if err != nil {
				t.Fatalf("DequantizeBlock: %v", err)
			}
			if len(decoded) != 32 {
				t.Fatalf("decoded len = %d, want 32", len(decoded))
			}

			// 4-bit types only resolve 16 levels over the value range;
			// tolerate their quantization step rather than exact match.
			tol := float32(0.3)
			for i, v := range values {
				if math.Abs(float64(decoded[i]-v)) > float64(tol) {
					t.Errorf("%s element %d: got %v, want ~%v", et, i, decoded[i], v)
				}
			}
			if stats.SumAbsErr < 0 {
				t.Errorf("SumAbsErr should never be negative, got %v", stats.SumAbsErr)
			}
		})
	}
}

func TestQuantizeBlockWrongLength(t *testing.T) {
	if _, _, err := QuantizeBlock(tensor.Q4_0, make([]float32, 31)); err == nil {
		t.Error("QuantizeBlock with 31 values should fail for a 32-wide block")
	}
}

func TestMaterializeF32PassesThroughF32(t *testing.T) {
	data := make([]byte, 8)
	putU32(data[0:4], math.Float32bits(1.5))
	putU32(data[4:8], math.Float32bits(-2.5))
	tr := tensor.New("t", tensor.F32, []int{2}, data)

	got, err := MaterializeF32(tr)
	if err != nil {
		t.Fatalf("MaterializeF32: %v", err)
	}
	if got[0] != 1.5 || got[1] != -2.5 {
		t.Errorf("MaterializeF32(f32) = %v, want [1.5 -2.5]", got)
	}
}

func TestMaterializeF32DecodesQuantizedBlocks(t *testing.T) {
	values := rampBlock()
	encoded, _, err := QuantizeBlock(tensor.Q8_0, values)
	if err != nil {
		t.Fatalf("QuantizeBlock: %v", err)
	}
	tr := tensor.New("t", tensor.Q8_0, []int{32}, encoded)

	got, err := MaterializeF32(tr)
	if err != nil {
		t.Fatalf("MaterializeF32: %v", err)
	}
	if len(got) != 32 {
		t.Fatalf("len = %d, want 32", len(got))
	}
	for i, v := range values {
		if math.Abs(float64(got[i]-v)) > 0.05 {
			t.Errorf("element %d: got %v, want ~%v", i, got[i], v)
		}
	}
}
