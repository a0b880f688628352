package ops

import (
	"fmt"
	"math"

	"github.com/edgerun/ggufrt/internal/tensor"
)

// BlockStats is the per-block diagnostic the quantizer reports
// alongside each tensor (§4.7 "history is a per-block stats vector").
type BlockStats struct {
	Min       float32
	Max       float32
	SumAbsErr float32
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absMax(values []float32) float32 {
	var m float32
	for _, v := range values {
		a := v
		if a < 0 {
			a = -a
		}
		if a > m {
			m = a
		}
	}
	return m
}

func minMax(values []float32) (float32, float32) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// QuantizeBlock encodes exactly et.BlockSize() f32 values into one
// on-disk block of the target quantized element type, returning the
// encoded bytes and the block's diagnostic stats.
func QuantizeBlock(et tensor.ElementType, values []float32) ([]byte, BlockStats, error) {
	block := et.BlockSize()
	if len(values) != block {
		return nil, BlockStats{}, fmt.Errorf("ops: quantize block expects %d values, got %d", block, len(values))
	}
	size, err := et.BytesPerBlock()
	if err != nil {
		return nil, BlockStats{}, err
	}
	out := make([]byte, size)
	stats := BlockStats{Min: float32(math.Inf(1)), Max: float32(math.Inf(-1))}

	switch et {
	case tensor.Q4_0, tensor.Q4_2:
		amax := absMax(values)
		scale := amax / 7
		putF16(out[0:2], scale)
		for i := 0; i < block; i += 2 {
			lo := quantizeSymmetric(values[i], scale, 8, 7)
			hi := quantizeSymmetric(values[i+1], scale, 8, 7)
			out[2+i/2] = byte((hi+8)<<4 | (lo + 8))
			accumErr(&stats, values[i], float32(lo)*scale)
			accumErr(&stats, values[i+1], float32(hi)*scale)
		}

	case tensor.Q4_1:
		lo, hi := minMax(values)
		scale := (hi - lo) / 15
		putF16(out[0:2], scale)
		putF16(out[2:4], lo)
		for i := 0; i < block; i += 2 {
			q0 := quantizeAsymmetric(values[i], lo, scale, 15)
			q1 := quantizeAsymmetric(values[i+1], lo, scale, 15)
			out[4+i/2] = byte(q1<<4 | q0)
			accumErr(&stats, values[i], lo+float32(q0)*scale)
			accumErr(&stats, values[i+1], lo+float32(q1)*scale)
		}

	case tensor.Q5_0:
		amax := absMax(values)
		scale := amax / 15
		putF16(out[0:2], scale)
		var mask uint32
		for i := 0; i < block; i++ {
			q := quantizeSymmetric(values[i], scale, 16, 15) + 16 // 0..31
			low := byte(q & 0xf)
			highBit := uint32((q >> 4) & 1)
			mask |= highBit << uint(i)
			byteIdx := 6 + i/2
			if i%2 == 0 {
				out[byteIdx] = low
			} else {
				out[byteIdx] |= low << 4
			}
			accumErr(&stats, values[i], float32(q-16)*scale)
		}
		putU32(out[2:6], mask)

	case tensor.Q5_1:
		lo, hi := minMax(values)
		scale := (hi - lo) / 31
		putF16(out[0:2], scale)
		putF16(out[2:4], lo)
		var mask uint32
		for i := 0; i < block; i++ {
			q := quantizeAsymmetric(values[i], lo, scale, 31) // 0..31
			low := byte(q & 0xf)
			highBit := uint32((q >> 4) & 1)
			mask |= highBit << uint(i)
			byteIdx := 8 + i/2
			if i%2 == 0 {
				out[byteIdx] = low
			} else {
				out[byteIdx] |= low << 4
			}
			accumErr(&stats, values[i], lo+float32(q)*scale)
		}
		putU32(out[4:8], mask)

	case tensor.Q8_0:
		amax := absMax(values)
		scale := amax / 127
		putF16(out[0:2], scale)
		for i := 0; i < block; i++ {
			q := quantizeSymmetric(values[i], scale, 128, 127)
			out[2+i] = byte(int8(q))
			accumErr(&stats, values[i], float32(q)*scale)
		}

	default:
		return nil, BlockStats{}, fmt.Errorf("ops: %s is not a quantization target", et)
	}

	return out, stats, nil
}

// DequantizeBlock decodes one on-disk block into et.BlockSize() f32
// values.
func DequantizeBlock(et tensor.ElementType, data []byte) ([]float32, error) {
	block := et.BlockSize()
	size, err := et.BytesPerBlock()
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("ops: dequantize block expects %d bytes, got %d", size, len(data))
	}
	out := make([]float32, block)

	switch et {
	case tensor.Q4_0, tensor.Q4_2:
		scale := getF16(data[0:2])
		for i := 0; i < block; i += 2 {
			b := data[2+i/2]
			out[i] = float32(int(b&0xf)-8) * scale
			out[i+1] = float32(int(b>>4)-8) * scale
		}

	case tensor.Q4_1:
		scale := getF16(data[0:2])
		minV := getF16(data[2:4])
		for i := 0; i < block; i += 2 {
			b := data[4+i/2]
			out[i] = minV + float32(b&0xf)*scale
			out[i+1] = minV + float32(b>>4)*scale
		}

	case tensor.Q5_0:
		scale := getF16(data[0:2])
		mask := getU32(data[2:6])
		for i := 0; i < block; i++ {
			byteIdx := 6 + i/2
			var low byte
			if i%2 == 0 {
				low = data[byteIdx] & 0xf
			} else {
				low = data[byteIdx] >> 4
			}
			highBit := byte((mask >> uint(i)) & 1)
			q := int(low) | int(highBit)<<4
			out[i] = float32(q-16) * scale
		}

	case tensor.Q5_1:
		scale := getF16(data[0:2])
		minV := getF16(data[2:4])
		mask := getU32(data[4:8])
		for i := 0; i < block; i++ {
			byteIdx := 8 + i/2
			var low byte
			if i%2 == 0 {
				low = data[byteIdx] & 0xf
			} else {
				low = data[byteIdx] >> 4
			}
			highBit := byte((mask >> uint(i)) & 1)
			q := int(low) | int(highBit)<<4
			out[i] = minV + float32(q)*scale
		}

	case tensor.Q8_0:
		scale := getF16(data[0:2])
		for i := 0; i < block; i++ {
			out[i] = float32(int8(data[2+i])) * scale
		}

	default:
		return nil, fmt.Errorf("ops: %s is not a dequantizable type", et)
	}

	return out, nil
}

func quantizeSymmetric(v, scale float32, bias, max int) int {
	if scale == 0 {
		return 0
	}
	q := int(math.Round(float64(v / scale)))
	return clampInt(q, -bias, max)
}

func quantizeAsymmetric(v, lo, scale float32, max int) int {
	if scale == 0 {
		return 0
	}
	q := int(math.Round(float64((v - lo) / scale)))
	return clampInt(q, 0, max)
}

func accumErr(stats *BlockStats, original, reconstructed float32) {
	if original < stats.Min {
		stats.Min = original
	}
	if original > stats.Max {
		stats.Max = original
	}
	diff := original - reconstructed
	if diff < 0 {
		diff = -diff
	}
	stats.SumAbsErr += diff
}

func putF16(dst []byte, v float32) {
	putU16(dst, Float32ToFloat16(v))
}

func getF16(src []byte) float32 {
	return Float16ToFloat32(getU16(src))
}

func putU16(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func getU16(src []byte) uint16 {
	return uint16(src[0]) | uint16(src[1])<<8
}

func putU32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func getU32(src []byte) uint32 {
	return uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16 | uint32(src[3])<<24
}
