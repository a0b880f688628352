package loader

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/edgerun/ggufrt/internal/container"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

// handler drives container.Load and accumulates everything a model
// builder needs: the container variant, the common hyperparameter
// fields, the vocabulary, and a name->TensorLoadInfo map (§4.2
// "Responsibility").
type handler struct {
	onProgress ProgressCallback

	containerType container.ContainerType
	hp            model.Hyperparameters
	vocab         *vocab.Vocabulary
	infos         map[string]tensor.TensorLoadInfo
	order         []string
}

func newHandler(onProgress ProgressCallback) *handler {
	return &handler{
		onProgress: onProgress,
		vocab:      vocab.New(),
		infos:      make(map[string]tensor.TensorLoadInfo),
	}
}

func (h *handler) ContainerType(ct container.ContainerType) error {
	h.containerType = ct
	return nil
}

// ReadHyperparameters reads the common fixed-schema record (§3): six
// little-endian u32/i32 fields in declared order. Every architecture
// this runtime supports shares this schema; architecture-specific
// extra fields are not part of the container this codec reads.
func (h *handler) ReadHyperparameters(r io.Reader) (int, error) {
	fields := make([]int32, 6)
	for i := range fields {
		var raw uint32
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return 0, fmt.Errorf("loader: read hyperparameter field %d: %w", i, err)
		}
		fields[i] = int32(raw)
	}

	ft, err := model.ParseFileType(fields[5])
	if err != nil {
		return 0, err
	}

	h.hp = model.Hyperparameters{
		NVocab:   fields[0],
		NEmbd:    fields[1],
		NLayer:   fields[2],
		NHead:    fields[3],
		NContext: fields[4],
		FileType: ft,
	}

	if h.onProgress != nil {
		if err := h.onProgress(ProgressEvent{Kind: HyperparametersLoaded}); err != nil {
			return 0, err
		}
	}

	return int(h.hp.NVocab), nil
}

func (h *handler) VocabularyToken(i int, tokenBytes []byte, score float32) error {
	return h.vocab.Push(vocab.TokenID(i), tokenBytes, score)
}

func (h *handler) TensorBuffer(info tensor.TensorLoadInfo) error {
	h.infos[info.Name] = info
	h.order = append(h.order, info.Name)
	return nil
}

// totalPayloadBytes sums every tensor's on-disk payload size, the
// basis for the arena size the loader allocates (§4.2 "Compute
// required arena size").
func (h *handler) totalPayloadBytes() (int64, error) {
	var total int64
	for _, info := range h.infos {
		n, err := info.ByteSize()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
