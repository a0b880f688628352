package ops

import (
	"fmt"
	"math"

	"github.com/edgerun/ggufrt/internal/tensor"
)

// MaterializeF32 decodes an entire tensor into a flat float32 slice in
// the tensor's own (row-major, dims[0] fastest) order, regardless of
// its on-disk element encoding. The forward evaluator calls this once
// per weight per graph build rather than maintaining a specialized
// quantized matmul kernel per target type — a correctness-first
// tradeoff explicit in the non-goals around kernel optimization.
func MaterializeF32(t *tensor.Tensor) ([]float32, error) {
	data := t.Data()
	switch t.ElementType {
	case tensor.F32:
		n := t.NElements()
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(
				uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24,
			)
		}
		return out, nil

	case tensor.F16:
		n := t.NElements()
		out := make([]float32, n)
		for i := range out {
			h := uint16(data[i*2]) | uint16(data[i*2+1])<<8
			out[i] = Float16ToFloat32(h)
		}
		return out, nil

	default:
		if !t.ElementType.IsQuantized() {
			return nil, fmt.Errorf("ops: %s has no known materialization", t.ElementType)
		}
		block := t.ElementType.BlockSize()
		bytesPerBlock, err := t.ElementType.BytesPerBlock()
		if err != nil {
			return nil, err
		}
		n := t.NElements()
		if n%int64(block) != 0 {
			return nil, fmt.Errorf("ops: tensor %q element count %d is not a multiple of block size %d", t.Name, n, block)
		}
		nBlocks := int(n) / block
		out := make([]float32, n)
		for b := 0; b < nBlocks; b++ {
			chunk := data[b*bytesPerBlock : (b+1)*bytesPerBlock]
			values, err := DequantizeBlock(t.ElementType, chunk)
			if err != nil {
				return nil, fmt.Errorf("ops: materialize %q block %d: %w", t.Name, b, err)
			}
			copy(out[b*block:(b+1)*block], values)
		}
		return out, nil
	}
}
