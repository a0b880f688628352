// Package eval builds and runs the per-call forward-pass graph of
// §4.4: token embedding, per-layer attention with a growing KV cache,
// and the output projection. It is the only package that mutates a
// session's KV cache; internal/session owns the cache's lifetime but
// delegates every read/write of it to the State type defined here,
// which keeps internal/session from needing to import internal/ops.
package eval

import (
	"fmt"
	"math"

	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/ops"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// defaultScratchBudget is the generous first-call scratch budget of
// §4.4 ("First call uses a generous default (1 GiB)"). Scaled down
// from the spec's illustrative 1 GiB: ggml's C allocator sizes one
// malloc'd context once and reuses it for the process lifetime, but
// this reference kernel backs the same policy with a Go slice that
// every test-sized model would otherwise have to eagerly allocate a
// full gigabyte of on session open. The growth formula and its
// effect (the backing buffer is reused, not reallocated, across calls
// with a stable token count) are unchanged from §4.4.
const defaultScratchBudget = 1 << 20

// State is the mutable per-session evaluator state: the two KV-cache
// tensors (§3 "InferenceSession owns... memory_k, memory_v"), the
// count of committed positions, and the scratch-sizing heuristic's
// bookkeeping.
type State struct {
	KVType   tensor.ElementType // F16 or F32
	NLayer   int
	NContext int
	NEmbd    int

	MemK []byte
	MemV []byte

	NPast         int
	MemPerToken   int64
	ScratchBudget int64

	// Scratch is the reusable bump-allocated buffer Evaluate's track()
	// closure carves temporaries out of. It grows, never shrinks,
	// following ScratchBudget; scratchPos resets to 0 at the start of
	// every Evaluate call. ScratchGrowths counts actual reallocations
	// of the backing array, for tests asserting the heuristic holds
	// (§9: "test that the second evaluate never re-allocates when
	// token count is stable").
	Scratch        []float32
	scratchPos     int
	ScratchGrowths int
}

// NewState allocates zero-initialized KV-cache tensors sized for m
// (§3 "memory_k/v are zero-initialized").
func NewState(m *model.Model, kvType tensor.ElementType) (*State, error) {
	if kvType != tensor.F16 && kvType != tensor.F32 {
		return nil, fmt.Errorf("eval: KV memory type must be F16 or F32, got %s", kvType)
	}
	bpe, err := kvType.BytesPerElement()
	if err != nil {
		return nil, err
	}
	size := int64(m.HP.NLayer) * int64(m.HP.NContext) * int64(m.HP.NEmbd) * int64(bpe)
	return &State{
		KVType:        kvType,
		NLayer:        int(m.HP.NLayer),
		NContext:      int(m.HP.NContext),
		NEmbd:         int(m.HP.NEmbd),
		MemK:          make([]byte, size),
		MemV:          make([]byte, size),
		ScratchBudget: defaultScratchBudget,
		Scratch:       make([]float32, defaultScratchBudget/4),
	}, nil
}

// growScratch reallocates the scratch buffer to at least newBudget
// bytes if it is not already that large.
func (s *State) growScratch(newBudget int64) {
	if newBudget < s.ScratchBudget {
		newBudget = s.ScratchBudget
	}
	if int64(len(s.Scratch))*4 >= newBudget {
		return
	}
	s.ScratchBudget = newBudget
	s.Scratch = make([]float32, newBudget/4)
	s.ScratchGrowths++
}

// resetScratch rewinds the bump allocator for a fresh Evaluate call;
// it does not release or resize the backing array.
func (s *State) resetScratch() {
	s.scratchPos = 0
}

// allocScratch carves count float32s off the scratch buffer, growing
// it defensively (outside the §4.4 heuristic's normal growth path) if
// a single call needs more than the buffer currently holds.
func (s *State) allocScratch(count int) []float32 {
	need := s.scratchPos + count
	if need > len(s.Scratch) {
		s.growScratch(int64(need) * 4)
	}
	out := s.Scratch[s.scratchPos:need:need]
	s.scratchPos = need
	return out
}

// ExpectedMemoryBytes is the byte length a restored snapshot's
// memory_k/memory_v sections must match (§4.6).
func (s *State) ExpectedMemoryBytes() int64 {
	bpe, _ := s.KVType.BytesPerElement()
	return int64(s.NLayer) * int64(s.NContext) * int64(s.NEmbd) * int64(bpe)
}

// writeRange stores n positions worth of NEmbd-length vectors (one
// per token, contiguously in vals) into buf starting at (layer, pos).
func (s *State) writeRange(buf []byte, layer, pos int, vals []float32, n int) {
	bpe, _ := s.KVType.BytesPerElement()
	base := (layer*s.NContext + pos) * s.NEmbd
	for i := 0; i < n*s.NEmbd; i++ {
		idx := base + i
		switch s.KVType {
		case tensor.F32:
			bits := math.Float32bits(vals[i])
			o := idx * bpe
			buf[o] = byte(bits)
			buf[o+1] = byte(bits >> 8)
			buf[o+2] = byte(bits >> 16)
			buf[o+3] = byte(bits >> 24)
		case tensor.F16:
			h := ops.Float32ToFloat16(vals[i])
			o := idx * bpe
			buf[o] = byte(h)
			buf[o+1] = byte(h >> 8)
		}
	}
}

// readRange decodes [0, n) positions worth of NEmbd-length vectors for
// one layer back into float32.
func (s *State) readRange(buf []byte, layer, n int) []float32 {
	bpe, _ := s.KVType.BytesPerElement()
	base := (layer * s.NContext) * s.NEmbd
	out := make([]float32, n*s.NEmbd)
	for i := range out {
		idx := base + i
		o := idx * bpe
		switch s.KVType {
		case tensor.F32:
			bits := uint32(buf[o]) | uint32(buf[o+1])<<8 | uint32(buf[o+2])<<16 | uint32(buf[o+3])<<24
			out[i] = math.Float32frombits(bits)
		case tensor.F16:
			h := uint16(buf[o]) | uint16(buf[o+1])<<8
			out[i] = ops.Float16ToFloat32(h)
		}
	}
	return out
}
