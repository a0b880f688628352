package quantize

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgerun/ggufrt/internal/container"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// writeFixture writes a tiny F32 container with one rank-1 norm
// tensor (never quantized) and one rank-2 weight tensor sized to a
// whole number of 32-element blocks.
func writeFixture(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	w, err := container.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	hp := make([]byte, 24)
	binary.LittleEndian.PutUint32(hp[0:4], 2)
	binary.LittleEndian.PutUint32(hp[4:8], 32)
	binary.LittleEndian.PutUint32(hp[8:12], 1)
	binary.LittleEndian.PutUint32(hp[12:16], 4)
	binary.LittleEndian.PutUint32(hp[16:20], 16)
	binary.LittleEndian.PutUint32(hp[20:24], 0) // FileTypeF32
	if err := w.WriteHyperparameters(hp); err != nil {
		t.Fatalf("WriteHyperparameters: %v", err)
	}
	if err := w.WriteVocabulary([]container.VocabularyEntry{
		{Bytes: []byte("a")}, {Bytes: []byte("b")},
	}); err != nil {
		t.Fatalf("WriteVocabulary: %v", err)
	}

	normValues := make([]float32, 32)
	for i := range normValues {
		normValues[i] = 1
	}
	normPayload := f32Bytes(normValues)
	if err := w.WriteTensor(container.TensorWrite{
		Name: "layers.0.attention_norm.weight", ElementType: tensor.F32, Dims: []int{32}, Payload: normPayload,
	}); err != nil {
		t.Fatalf("WriteTensor(norm): %v", err)
	}

	weightValues := make([]float32, 64)
	for i := range weightValues {
		weightValues[i] = float32(i%32-16) * 0.25
	}
	weightPayload := f32Bytes(weightValues)
	if err := w.WriteTensor(container.TensorWrite{
		Name: "layers.0.attention.wo.weight", ElementType: tensor.F32, Dims: []int{32, 2}, Payload: weightPayload,
	}); err != nil {
		t.Fatalf("WriteTensor(weight): %v", err)
	}
}

func f32Bytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(v))
	}
	return out
}

func TestQuantizeSkipsNormTensorAndRewritesWeight(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	dstPath := filepath.Join(dir, "dst.bin")
	writeFixture(t, srcPath)

	var events []ProgressEvent
	err := Quantize(srcPath, dstPath, Params{
		Target: model.FileTypeMostlyQ8_0,
		OnProgress: func(ev ProgressEvent) error {
			events = append(events, ev)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}

	var skipped, quantized, finished int
	for _, ev := range events {
		switch ev.Kind {
		case TensorSkipped:
			skipped++
			if ev.TensorName != "layers.0.attention_norm.weight" {
				t.Errorf("unexpected skipped tensor %q", ev.TensorName)
			}
		case TensorQuantized:
			quantized++
			if ev.TensorName != "layers.0.attention.wo.weight" {
				t.Errorf("unexpected quantized tensor %q", ev.TensorName)
			}
			if ev.BytesAfter >= ev.BytesBefore {
				t.Errorf("quantized payload did not shrink: before=%d after=%d", ev.BytesBefore, ev.BytesAfter)
			}
		case Finished:
			finished++
			if ev.TensorCount != 2 {
				t.Errorf("Finished TensorCount = %d, want 2", ev.TensorCount)
			}
		}
	}
	if skipped != 1 {
		t.Errorf("skipped count = %d, want 1", skipped)
	}
	if quantized != 1 {
		t.Errorf("quantized count = %d, want 1", quantized)
	}
	if finished != 1 {
		t.Errorf("finished count = %d, want 1", finished)
	}

	// Re-read the destination container to confirm the file_type field
	// was rewritten and the norm tensor's bytes survived untouched.
	dst, err := os.Open(dstPath)
	if err != nil {
		t.Fatalf("open dest: %v", err)
	}
	defer dst.Close()

	rec := recordHandler{infos: make(map[string]tensor.TensorLoadInfo)}
	if err := container.Load(dstPath, dst, &rec); err != nil {
		t.Fatalf("container.Load(dest): %v", err)
	}
	if rec.fileType != int32(model.FileTypeMostlyQ8_0) {
		t.Errorf("dest file_type = %d, want %d", rec.fileType, model.FileTypeMostlyQ8_0)
	}
	normInfo, ok := rec.infos["layers.0.attention_norm.weight"]
	if !ok {
		t.Fatal("norm tensor missing from destination")
	}
	if normInfo.ElementType != tensor.F32 {
		t.Errorf("norm tensor type = %s, want F32 (never quantized)", normInfo.ElementType)
	}
	weightInfo, ok := rec.infos["layers.0.attention.wo.weight"]
	if !ok {
		t.Fatal("weight tensor missing from destination")
	}
	if weightInfo.ElementType != tensor.Q8_0 {
		t.Errorf("weight tensor type = %s, want Q8_0", weightInfo.ElementType)
	}
}

// recordHandler is a minimal container.Handler used only to verify
// what Quantize actually wrote to disk.
type recordHandler struct {
	fileType int32
	infos    map[string]tensor.TensorLoadInfo
}

func (r *recordHandler) ContainerType(container.ContainerType) error { return nil }

func (r *recordHandler) ReadHyperparameters(rd io.Reader) (int, error) {
	var nVocab int32
	for i := 0; i < 6; i++ {
		var raw uint32
		if err := binary.Read(rd, binary.LittleEndian, &raw); err != nil {
			return 0, err
		}
		if i == 0 {
			nVocab = int32(raw)
		}
		if i == 5 {
			r.fileType = int32(raw)
		}
	}
	return int(nVocab), nil
}

func (r *recordHandler) VocabularyToken(i int, tokenBytes []byte, score float32) error { return nil }

func (r *recordHandler) TensorBuffer(info tensor.TensorLoadInfo) error {
	r.infos[info.Name] = info
	return nil
}
