package container

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/edgerun/ggufrt/internal/tensor"
)

type recordingHandler struct {
	ct          ContainerType
	hp          []byte
	nVocab      int
	tokens      [][]byte
	scores      []float32
	tensorInfos []tensor.TensorLoadInfo
}

func (h *recordingHandler) ContainerType(ct ContainerType) error {
	h.ct = ct
	return nil
}

func (h *recordingHandler) ReadHyperparameters(r io.Reader) (int, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	h.hp = buf
	h.nVocab = int(binary.LittleEndian.Uint32(buf[0:4]))
	return h.nVocab, nil
}

func (h *recordingHandler) VocabularyToken(i int, tokenBytes []byte, score float32) error {
	h.tokens = append(h.tokens, append([]byte(nil), tokenBytes...))
	h.scores = append(h.scores, score)
	return nil
}

func (h *recordingHandler) TensorBuffer(info tensor.TensorLoadInfo) error {
	h.tensorInfos = append(h.tensorInfos, info)
	return nil
}

func writeFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	hp := make([]byte, 24)
	binary.LittleEndian.PutUint32(hp[0:4], 2) // n_vocab
	binary.LittleEndian.PutUint32(hp[4:8], 32)
	binary.LittleEndian.PutUint32(hp[8:12], 1)
	binary.LittleEndian.PutUint32(hp[12:16], 4)
	binary.LittleEndian.PutUint32(hp[16:20], 128)
	binary.LittleEndian.PutUint32(hp[20:24], 0)
	if err := w.WriteHyperparameters(hp); err != nil {
		t.Fatalf("WriteHyperparameters: %v", err)
	}

	if err := w.WriteVocabulary([]VocabularyEntry{
		{Bytes: []byte("a"), Score: 0},
		{Bytes: []byte("b"), Score: -1.5},
	}); err != nil {
		t.Fatalf("WriteVocabulary: %v", err)
	}

	payload := make([]byte, 32*4)
	if err := w.WriteTensor(TensorWrite{
		Name: "tok_embeddings.weight", ElementType: tensor.F32, Dims: []int{32}, Payload: payload,
	}); err != nil {
		t.Fatalf("WriteTensor: %v", err)
	}

	return buf.Bytes()
}

func TestLoadRoundTrip(t *testing.T) {
	data := writeFixture(t)

	h := &recordingHandler{}
	if err := Load("fixture", bytes.NewReader(data), h); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if h.ct != VersionedAligned {
		t.Errorf("ContainerType = %v, want VersionedAligned", h.ct)
	}
	if h.nVocab != 2 {
		t.Errorf("nVocab = %d, want 2", h.nVocab)
	}
	if len(h.tokens) != 2 || string(h.tokens[0]) != "a" || string(h.tokens[1]) != "b" {
		t.Errorf("tokens = %v, want [a b]", h.tokens)
	}
	if len(h.tensorInfos) != 1 || h.tensorInfos[0].Name != "tok_embeddings.weight" {
		t.Fatalf("tensorInfos = %+v", h.tensorInfos)
	}
	size, err := h.tensorInfos[0].ByteSize()
	if err != nil || size != 128 {
		t.Errorf("ByteSize = %d, %v, want 128, nil", size, err)
	}
}

func TestLoadInvalidMagic(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	err := Load("fixture", bytes.NewReader(data), &recordingHandler{})
	if _, ok := err.(*InvalidMagicError); !ok {
		t.Fatalf("Load with bad magic = %v (%T), want *InvalidMagicError", err, err)
	}
}

func TestLoadInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, MagicVersionedAligned)
	binary.Write(&buf, binary.LittleEndian, uint32(99))

	err := Load("fixture", bytes.NewReader(buf.Bytes()), &recordingHandler{})
	if _, ok := err.(*InvalidFormatVersionError); !ok {
		t.Fatalf("Load with bad version = %v (%T), want *InvalidFormatVersionError", err, err)
	}
}

func TestContainerTypeSupportsMmap(t *testing.T) {
	tests := []struct {
		ct   ContainerType
		want bool
	}{
		{LegacyUnversioned, false},
		{VersionedUnaligned, false},
		{VersionedAligned, true},
	}
	for _, tt := range tests {
		if got := tt.ct.SupportsMmap(); got != tt.want {
			t.Errorf("%v.SupportsMmap() = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
