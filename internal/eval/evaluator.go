package eval

import (
	"fmt"
	"math"

	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/ops"
	"github.com/edgerun/ggufrt/internal/vocab"
)

const normEps = 1e-5

// Evaluate runs the forward pass of §4.4 for one batch of tokens
// against model m, reading and mutating st in place. It fills
// lastLogits (length n_vocab, caller-owned) with the final token's
// logits and, when requested, the optional all-logits/embeddings
// sinks. st.NPast advances by exactly len(tokens) on success.
func Evaluate(m *model.Model, st *State, params Params, tokens []vocab.TokenID, lastLogits []float32, out *OutputRequest) error {
	n := len(tokens)
	if n == 0 {
		return nil
	}
	nPast := st.NPast
	if nPast+n > st.NContext {
		return &ContextFullError{NPast: nPast, N: n, NContext: st.NContext}
	}

	nEmbd := int(m.HP.NEmbd)
	nHead := int(m.HP.NHead)
	nVocab := int(m.HP.NVocab)
	headDim := nEmbd / nHead
	keys := nPast + n

	// Grow the scratch buffer ahead of building the graph, from the
	// PREVIOUS call's measured bytes-per-token (§4.4's "grows via
	// 1.1 * mem_per_token * n"). A call with a stable n then reuses
	// st.Scratch's backing array instead of reallocating.
	if st.MemPerToken > 0 {
		if estimate := st.MemPerToken * int64(n); estimate > st.ScratchBudget {
			before := st.ScratchGrowths
			st.growScratch(int64(1.1 * float64(st.MemPerToken) * float64(n)))
			if st.ScratchGrowths != before {
				logging.DebugLogf("eval: scratch budget grown to %d bytes (mem_per_token=%d, n=%d)", st.ScratchBudget, st.MemPerToken, n)
			}
		}
	}
	st.resetScratch()

	var scratch int64
	track := func(count int) []float32 {
		scratch += int64(count) * 4
		return st.allocScratch(count)
	}

	embTab, err := ops.MaterializeF32(m.TokEmbeddings)
	if err != nil {
		return fmt.Errorf("eval: materialize token embeddings: %w", err)
	}
	x := track(nEmbd * n)
	for t, id := range tokens {
		if int(id) < 0 || int(id) >= nVocab {
			return fmt.Errorf("eval: token id %d out of range [0,%d)", id, nVocab)
		}
		copy(x[t*nEmbd:(t+1)*nEmbd], embTab[int(id)*nEmbd:(int(id)+1)*nEmbd])
	}

	if m.Spec.WordEmbedNorm {
		wn, err := ops.MaterializeF32(m.WordEmbedNorm)
		if err != nil {
			return err
		}
		wb, err := ops.MaterializeF32(m.WordEmbedBias)
		if err != nil {
			return err
		}
		x = ops.LayerNorm(x, nEmbd, n, wn, wb, normEps)
	}

	for l := 0; l < int(m.HP.NLayer); l++ {
		layer := m.Layers[l]

		attnNormW, err := ops.MaterializeF32(layer.AttnNorm)
		if err != nil {
			return err
		}
		var normed []float32
		if m.Spec.Norm == model.NormRMS {
			normed = ops.RMSNorm(x, nEmbd, n, attnNormW, normEps)
		} else {
			attnNormB, err := ops.MaterializeF32(layer.AttnNormBias)
			if err != nil {
				return err
			}
			normed = ops.LayerNorm(x, nEmbd, n, attnNormW, attnNormB, normEps)
		}

		attnOut, err := attend(m, st, layer, normed, nEmbd, nHead, headDim, n, nPast, keys, l, track)
		if err != nil {
			return err
		}

		var x1, ffnIn []float32
		if m.Spec.ParallelResidual {
			ffnIn = normed
		} else {
			x1 = track(nEmbd * n)
			copy(x1, x)
			ops.AddInPlace(x1, attnOut)

			ffnNormW, err := ops.MaterializeF32(layer.FFNNorm)
			if err != nil {
				return err
			}
			if m.Spec.Norm == model.NormRMS {
				ffnIn = ops.RMSNorm(x1, nEmbd, n, ffnNormW, normEps)
			} else {
				ffnNormB, err := ops.MaterializeF32(layer.FFNNormBias)
				if err != nil {
					return err
				}
				ffnIn = ops.LayerNorm(x1, nEmbd, n, ffnNormW, ffnNormB, normEps)
			}
		}

		ffnOut, err := feedForward(m.Spec, layer, ffnIn, nEmbd, n, track)
		if err != nil {
			return err
		}

		if m.Spec.ParallelResidual {
			next := track(nEmbd * n)
			copy(next, x)
			ops.AddInPlace(next, attnOut)
			ops.AddInPlace(next, ffnOut)
			x = next
		} else {
			ops.AddInPlace(x1, ffnOut)
			x = x1
		}
	}

	embedCols := x // "input-to-output-norm column(s)" captured before the final norm

	outNormW, err := ops.MaterializeF32(m.OutputNorm)
	if err != nil {
		return err
	}
	var finalNormed []float32
	if m.Spec.Norm == model.NormRMS {
		finalNormed = ops.RMSNorm(x, nEmbd, n, outNormW, normEps)
	} else {
		outNormB, err := ops.MaterializeF32(m.OutputNormBias)
		if err != nil {
			return err
		}
		finalNormed = ops.LayerNorm(x, nEmbd, n, outNormW, outNormB, normEps)
	}

	wOut, err := ops.MaterializeF32(m.WOut)
	if err != nil {
		return err
	}
	logits := ops.MatMul(wOut, nVocab, nEmbd, finalNormed, n)
	scratch += int64(len(logits)) * 4

	copy(lastLogits, logits[(n-1)*nVocab:n*nVocab])
	if out != nil {
		if out.WantAllLogits {
			out.AllLogits = append(out.AllLogits[:0], logits...)
		}
		if out.WantEmbeddings {
			out.Embeddings = append(out.Embeddings[:0], embedCols...)
		}
	}

	st.NPast += n
	st.MemPerToken = scratch / int64(n)

	return nil
}

// attend runs one layer's self-attention: fused QKV projection,
// KV-cache write, positional encoding, scaled dot-product attention
// with a causal mask, and the output projection (§4.4 steps b-i).
func attend(m *model.Model, st *State, layer model.LayerWeights, normed []float32, nEmbd, nHead, headDim, n, nPast, keys, l int, track func(int) []float32) ([]float32, error) {
	wQkv, err := ops.MaterializeF32(layer.Wqkv)
	if err != nil {
		return nil, err
	}
	qkv := ops.MatMul(wQkv, 3*nEmbd, nEmbd, normed, n)
	if m.Spec.BiasedLinear {
		bQkv, err := ops.MaterializeF32(layer.Bqkv)
		if err != nil {
			return nil, err
		}
		ops.AddBiasInPlace(qkv, 3*nEmbd, n, bQkv)
	}

	q := extractSub(qkv, 3*nEmbd, n, 0, nEmbd, track)
	k := extractSub(qkv, 3*nEmbd, n, nEmbd, nEmbd, track)
	v := extractSub(qkv, 3*nEmbd, n, 2*nEmbd, nEmbd, track)

	if m.Spec.Position == model.PositionRotary {
		ops.ApplyRotary(q, headDim, nHead, n, nPast)
		ops.ApplyRotary(k, headDim, nHead, n, nPast)
	}

	st.writeRange(st.MemK, l, nPast, k, n)
	st.writeRange(st.MemV, l, nPast, v, n)

	kFull := st.readRange(st.MemK, l, keys)
	vFull := st.readRange(st.MemV, l, keys)

	out := track(nEmbd * n)
	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	for h := 0; h < nHead; h++ {
		qh := extractHead(q, nEmbd, n, headDim, h)
		kh := extractHead(kFull, nEmbd, keys, headDim, h)
		vh := extractHead(vFull, nEmbd, keys, headDim, h)

		scores := headScores(qh, kh, n, keys, headDim)
		ops.ScaleInPlace(scores, scale)
		if m.Spec.Position == model.PositionALiBi {
			ops.ALiBiBias(scores, nPast, n, ops.ALiBiSlope(h, nHead))
		}
		ops.CausalMaskInPlace(scores, nPast, n)
		ops.SoftmaxRows(scores, n, keys)

		headOut := attendHead(scores, vh, n, keys, headDim)
		for t := 0; t < n; t++ {
			copy(out[t*nEmbd+h*headDim:t*nEmbd+h*headDim+headDim], headOut[t*headDim:(t+1)*headDim])
		}
	}

	wo, err := ops.MaterializeF32(layer.Wo)
	if err != nil {
		return nil, err
	}
	proj := ops.MatMul(wo, nEmbd, nEmbd, out, n)
	if m.Spec.BiasedLinear {
		bo, err := ops.MaterializeF32(layer.Bo)
		if err != nil {
			return nil, err
		}
		ops.AddBiasInPlace(proj, nEmbd, n, bo)
	}
	return proj, nil
}

// feedForward runs one layer's FFN block (§4.4 step j): LLaMA's
// gated SiLU with separate gate/up projections, or the shared
// up/GeLU/down path every other architecture here uses.
func feedForward(spec model.ArchSpec, layer model.LayerWeights, x []float32, nEmbd, n int, track func(int) []float32) ([]float32, error) {
	w1, err := ops.MaterializeF32(layer.W1)
	if err != nil {
		return nil, err
	}
	ffnDim := layer.W1.Dim(1)

	if spec.SeparateGateUp {
		w3, err := ops.MaterializeF32(layer.W3)
		if err != nil {
			return nil, err
		}
		gate := ops.MatMul(w1, ffnDim, nEmbd, x, n)
		up := ops.MatMul(w3, ffnDim, nEmbd, x, n)
		ops.SiLUGatedInPlace(gate, up)
		w2, err := ops.MaterializeF32(layer.W2)
		if err != nil {
			return nil, err
		}
		return ops.MatMul(w2, nEmbd, ffnDim, gate, n), nil
	}

	hidden := ops.MatMul(w1, ffnDim, nEmbd, x, n)
	if spec.BiasedLinear {
		b1, err := ops.MaterializeF32(layer.B1)
		if err != nil {
			return nil, err
		}
		ops.AddBiasInPlace(hidden, ffnDim, n, b1)
	}
	ops.GeLUInPlace(hidden)

	w2, err := ops.MaterializeF32(layer.W2)
	if err != nil {
		return nil, err
	}
	down := ops.MatMul(w2, nEmbd, ffnDim, hidden, n)
	if spec.BiasedLinear {
		b2, err := ops.MaterializeF32(layer.B2)
		if err != nil {
			return nil, err
		}
		ops.AddBiasInPlace(down, nEmbd, n, b2)
	}
	return down, nil
}

// extractSub copies the width-wide slice at column-offset off out of
// a (stride x n) column-major matrix into its own (width x n) buffer.
func extractSub(src []float32, stride, n, off, width int, track func(int) []float32) []float32 {
	out := track(width * n)
	for t := 0; t < n; t++ {
		copy(out[t*width:(t+1)*width], src[t*stride+off:t*stride+off+width])
	}
	return out
}

// extractHead pulls one head's headDim-wide slice out of a (nEmbd x
// n) column-major matrix.
func extractHead(src []float32, nEmbd, n, headDim, h int) []float32 {
	out := make([]float32, headDim*n)
	for t := 0; t < n; t++ {
		copy(out[t*headDim:(t+1)*headDim], src[t*nEmbd+h*headDim:t*nEmbd+h*headDim+headDim])
	}
	return out
}

// headScores computes the unscaled (n x keys) row-major attention
// score matrix for one head: scores[i][j] = dot(q_i, k_j).
func headScores(q, k []float32, n, keys, headDim int) []float32 {
	out := make([]float32, n*keys)
	for i := 0; i < n; i++ {
		qi := q[i*headDim : (i+1)*headDim]
		row := out[i*keys : (i+1)*keys]
		for j := 0; j < keys; j++ {
			kj := k[j*headDim : (j+1)*headDim]
			var sum float32
			for d := 0; d < headDim; d++ {
				sum += qi[d] * kj[d]
			}
			row[j] = sum
		}
	}
	return out
}

// attendHead computes o = V * softmax(scores) for one head: a
// (headDim x n) column-major result from a (keys x headDim)
// column-major V and an (n x keys) row-major weight matrix.
func attendHead(scores, v []float32, n, keys, headDim int) []float32 {
	out := make([]float32, headDim*n)
	for i := 0; i < n; i++ {
		row := scores[i*keys : (i+1)*keys]
		dst := out[i*headDim : (i+1)*headDim]
		for j := 0; j < keys; j++ {
			w := row[j]
			if w == 0 {
				continue
			}
			vj := v[j*headDim : (j+1)*headDim]
			for d := 0; d < headDim; d++ {
				dst[d] += w * vj[d]
			}
		}
	}
	return out
}
