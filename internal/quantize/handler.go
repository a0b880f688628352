package quantize

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/edgerun/ggufrt/internal/container"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// sourceHandler mirrors internal/loader's handler but keeps the raw
// hyperparameter bytes (so they can be re-emitted with only the
// file_type field rewritten) and every vocabulary entry verbatim,
// since the quantizer re-serializes the whole container rather than
// binding tensors into a live Model.
type sourceHandler struct {
	containerType container.ContainerType
	rawHP         [24]byte
	fileTypeCode  int32
	vocabEntries  []container.VocabularyEntry
	infos         map[string]tensor.TensorLoadInfo
	order         []string
}

func newSourceHandler() *sourceHandler {
	return &sourceHandler{infos: make(map[string]tensor.TensorLoadInfo)}
}

func (h *sourceHandler) ContainerType(ct container.ContainerType) error {
	h.containerType = ct
	return nil
}

func (h *sourceHandler) ReadHyperparameters(r io.Reader) (int, error) {
	var nVocab int32
	for i := 0; i < 6; i++ {
		var raw uint32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return 0, fmt.Errorf("quantize: read hyperparameter field %d: %w", i, err)
		}
		binary.LittleEndian.PutUint32(h.rawHP[i*4:i*4+4], raw)
		if i == 0 {
			nVocab = int32(raw)
		}
		if i == 5 {
			h.fileTypeCode = int32(raw)
			if _, err := model.ParseFileType(h.fileTypeCode); err != nil {
				return 0, err
			}
		}
	}
	return int(nVocab), nil
}

func (h *sourceHandler) VocabularyToken(i int, tokenBytes []byte, score float32) error {
	h.vocabEntries = append(h.vocabEntries, container.VocabularyEntry{
		Bytes: append([]byte(nil), tokenBytes...),
		Score: score,
	})
	return nil
}

func (h *sourceHandler) TensorBuffer(info tensor.TensorLoadInfo) error {
	h.infos[info.Name] = info
	h.order = append(h.order, info.Name)
	return nil
}

// hyperparametersFor rewrites the captured raw record's file_type
// field to target, leaving every other field byte-identical.
func (h *sourceHandler) hyperparametersFor(target model.FileType) []byte {
	out := h.rawHP
	binary.LittleEndian.PutUint32(out[20:24], uint32(target.Int32()))
	return out[:]
}
