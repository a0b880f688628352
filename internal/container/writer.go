package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/edgerun/ggufrt/internal/tensor"
)

func f32frombits(b uint32) float32 { return math.Float32frombits(b) }
func f32bits(f float32) uint32     { return math.Float32bits(f) }

// VocabularyEntry is one (bytes, score) pair written by Writer.
type VocabularyEntry struct {
	Bytes []byte
	Score float32
}

// TensorWrite describes one tensor record the Writer emits: the
// header fields plus a payload source. Payload is read in full and
// written verbatim; callers are responsible for having already
// encoded it into the target ElementType.
type TensorWrite struct {
	Name        string
	ElementType tensor.ElementType
	Dims        []int
	Payload     []byte
}

// Writer emits the versioned-aligned container variant (§4.1), the
// only variant worth re-emitting since it is the only mmap-capable
// one. It is used by the quantizer (§4.7) to write a re-encoded
// container alongside the source.
type Writer struct {
	w   io.Writer
	pos int64
}

// NewWriter wraps w, writing the magic and version preamble
// immediately.
func NewWriter(w io.Writer) (*Writer, error) {
	wr := &Writer{w: w}
	if err := wr.writeU32(MagicVersionedAligned); err != nil {
		return nil, err
	}
	if err := wr.writeU32(SupportedVersion); err != nil {
		return nil, err
	}
	return wr, nil
}

// WriteHyperparameters writes an architecture's already-encoded fixed
// hyperparameters record verbatim.
func (w *Writer) WriteHyperparameters(raw []byte) error {
	return w.writeBytes(raw)
}

// WriteVocabulary writes the full vocabulary table.
func (w *Writer) WriteVocabulary(entries []VocabularyEntry) error {
	for _, e := range entries {
		if err := w.writeU32(uint32(len(e.Bytes))); err != nil {
			return err
		}
		if err := w.writeBytes(e.Bytes); err != nil {
			return err
		}
		if err := w.writeU32(f32bits(e.Score)); err != nil {
			return err
		}
	}
	return nil
}

// WriteTensor writes one tensor record, including the alignment
// padding the aligned variant requires before the payload.
func (w *Writer) WriteTensor(t TensorWrite) error {
	if err := w.writeU32(uint32(len(t.Dims))); err != nil {
		return err
	}
	if err := w.writeU32(uint32(len(t.Name))); err != nil {
		return err
	}
	if err := w.writeU32(uint32(t.ElementType)); err != nil {
		return err
	}
	for _, d := range t.Dims {
		if err := w.writeU32(uint32(d)); err != nil {
			return err
		}
	}
	if err := w.writeBytes([]byte(t.Name)); err != nil {
		return err
	}
	if err := w.writePadding(); err != nil {
		return err
	}

	want, err := tensor.ByteSize(t.ElementType, t.Dims)
	if err != nil {
		return err
	}
	if int64(len(t.Payload)) != want {
		return fmt.Errorf("container: tensor %q payload is %d bytes, expected %d", t.Name, len(t.Payload), want)
	}
	return w.writeBytes(t.Payload)
}

func (w *Writer) writePadding() error {
	pad := (alignment - (w.pos % alignment)) % alignment
	if pad == 0 {
		return nil
	}
	return w.writeBytes(make([]byte, pad))
}

func (w *Writer) writeU32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.writeBytes(buf[:])
}

func (w *Writer) writeBytes(b []byte) error {
	n, err := w.w.Write(b)
	w.pos += int64(n)
	return err
}
