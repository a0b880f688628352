package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/edgerun/ggufrt/internal/eval"
	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

// snapshotVersion is the leading version tag of the serialized format
// (§4.6 "versioned with a leading u32").
const snapshotVersion uint32 = 1

// Save writes a length-prefixed snapshot of s in the section order of
// §3 InferenceSnapshot, with the session id after the version:
// version, id, n_past, session params, tokens, last_logits, raw
// memory_k, raw memory_v.
func (s *Session) Save(w io.Writer) error {
	if err := writeU32(w, snapshotVersion); err != nil {
		return err
	}
	if err := writeUUID(w, s.ID); err != nil {
		return err
	}
	if err := writeU32(w, uint32(s.state.NPast)); err != nil {
		return err
	}
	if err := writeParams(w, s.params); err != nil {
		return err
	}
	if err := writeTokens(w, s.tokens); err != nil {
		return err
	}
	if err := writeF32Slice(w, s.lastLogits); err != nil {
		return err
	}
	if err := writeBytesSection(w, s.state.MemK); err != nil {
		return err
	}
	if err := writeBytesSection(w, s.state.MemV); err != nil {
		return err
	}
	return nil
}

// Restore rebuilds a session bound to m from a snapshot previously
// produced by Save, replaying the original session parameters. It
// fails with *MemorySizeMismatchError if the stored KV-cache sections
// do not match m's expected size (§4.6).
func Restore(r io.Reader, m *model.Model) (*Session, error) {
	version, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("session: read snapshot version: %w", err)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("session: unsupported snapshot version %d", version)
	}

	id, err := readUUID(r)
	if err != nil {
		return nil, fmt.Errorf("session: read snapshot id: %w", err)
	}

	nPast, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("session: read n_past: %w", err)
	}

	params, err := readParams(r)
	if err != nil {
		return nil, err
	}

	tokens, err := readTokens(r)
	if err != nil {
		return nil, err
	}

	lastLogits, err := readF32Slice(r)
	if err != nil {
		return nil, err
	}

	memK, err := readBytesSection(r)
	if err != nil {
		return nil, err
	}
	memV, err := readBytesSection(r)
	if err != nil {
		return nil, err
	}

	st, err := eval.NewState(m, params.KVMemoryType)
	if err != nil {
		return nil, err
	}
	expected := st.ExpectedMemoryBytes()
	if int64(len(memK)) != expected || int64(len(memV)) != expected {
		got := int64(len(memK))
		if int64(len(memV)) > got {
			got = int64(len(memV))
		}
		return nil, &MemorySizeMismatchError{Expected: expected, Got: got}
	}
	st.MemK = memK
	st.MemV = memV
	st.NPast = int(nPast)

	logging.Component("session").Printf("restored %s at n_past=%d", id, nPast)

	return &Session{
		ID:         id,
		model:      m,
		state:      st,
		params:     params,
		tokens:     tokens,
		lastLogits: lastLogits,
		restored:   true,
	}, nil
}

func writeParams(w io.Writer, p Params) error {
	fields := []int32{
		int32(p.NBatch),
		int32(p.NThreads),
		int32(p.KVMemoryType),
		int32(p.Sampler.RepeatLastN),
		int32(p.Sampler.TopK),
		int32(p.MaximumTokenCount),
	}
	for _, f := range fields {
		if err := writeU32(w, uint32(f)); err != nil {
			return err
		}
	}
	floats := []float32{p.Sampler.RepeatPenalty, p.Sampler.Temperature}
	for _, f := range floats {
		if err := writeF32(w, f); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, math.Float64bits(p.Sampler.TopP)); err != nil {
		return err
	}
	var playback uint32
	if p.PlayBackPreviousTokens {
		playback = 1
	}
	if err := writeU32(w, playback); err != nil {
		return err
	}
	return writeBiasTokens(w, p.Sampler.BiasTokens)
}

func readParams(r io.Reader) (Params, error) {
	var p Params
	nBatch, err := readU32(r)
	if err != nil {
		return p, err
	}
	nThreads, err := readU32(r)
	if err != nil {
		return p, err
	}
	kvType, err := readU32(r)
	if err != nil {
		return p, err
	}
	repeatLastN, err := readU32(r)
	if err != nil {
		return p, err
	}
	topK, err := readU32(r)
	if err != nil {
		return p, err
	}
	maxTokens, err := readU32(r)
	if err != nil {
		return p, err
	}
	repeatPenalty, err := readF32(r)
	if err != nil {
		return p, err
	}
	temperature, err := readF32(r)
	if err != nil {
		return p, err
	}
	var topPBits uint64
	if err := binary.Read(r, binary.LittleEndian, &topPBits); err != nil {
		return p, err
	}
	playback, err := readU32(r)
	if err != nil {
		return p, err
	}
	bias, err := readBiasTokens(r)
	if err != nil {
		return p, err
	}

	p.NBatch = int(nBatch)
	p.NThreads = int(nThreads)
	p.KVMemoryType = tensor.ElementType(int32(kvType))
	p.MaximumTokenCount = int(maxTokens)
	p.PlayBackPreviousTokens = playback != 0
	p.Sampler.RepeatLastN = int(repeatLastN)
	p.Sampler.TopK = int(topK)
	p.Sampler.RepeatPenalty = repeatPenalty
	p.Sampler.Temperature = temperature
	p.Sampler.TopP = math.Float64frombits(topPBits)
	p.Sampler.BiasTokens = bias
	return p, nil
}

func writeBiasTokens(w io.Writer, bias map[vocab.TokenID]float32) error {
	if err := writeU32(w, uint32(len(bias))); err != nil {
		return err
	}
	for id, delta := range bias {
		if err := writeU32(w, uint32(id)); err != nil {
			return err
		}
		if err := writeF32(w, delta); err != nil {
			return err
		}
	}
	return nil
}

func readBiasTokens(r io.Reader) (map[vocab.TokenID]float32, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[vocab.TokenID]float32, n)
	for i := uint32(0); i < n; i++ {
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		delta, err := readF32(r)
		if err != nil {
			return nil, err
		}
		out[vocab.TokenID(id)] = delta
	}
	return out, nil
}

func writeTokens(w io.Writer, tokens []vocab.TokenID) error {
	if err := writeU32(w, uint32(len(tokens))); err != nil {
		return err
	}
	for _, id := range tokens {
		if err := writeU32(w, uint32(id)); err != nil {
			return err
		}
	}
	return nil
}

func readTokens(r io.Reader) ([]vocab.TokenID, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]vocab.TokenID, n)
	for i := range out {
		id, err := readU32(r)
		if err != nil {
			return nil, err
		}
		out[i] = vocab.TokenID(id)
	}
	return out, nil
}

func writeF32Slice(w io.Writer, vals []float32) error {
	if err := writeU32(w, uint32(len(vals))); err != nil {
		return err
	}
	for _, v := range vals {
		if err := writeF32(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readF32Slice(r io.Reader) ([]float32, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		v, err := readF32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeBytesSection(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytesSection(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeUUID(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

func readUUID(r io.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := io.ReadFull(r, id[:])
	return id, err
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeF32(w io.Writer, v float32) error {
	return writeU32(w, math.Float32bits(v))
}

func readF32(r io.Reader) (float32, error) {
	v, err := readU32(r)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}
