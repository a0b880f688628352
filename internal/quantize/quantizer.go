// Package quantize implements §4.7: a streaming container-to-container
// transform that re-encodes a model's tensors into a target quantized
// element type, leaving 1-D tensors (norms, biases) at their original
// precision.
package quantize

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/edgerun/ggufrt/internal/container"
	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/ops"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// Params configures a Quantize run.
type Params struct {
	Target     model.FileType
	OnProgress ProgressCallback
	Logger     *logrus.Logger // nil uses logrus.StandardLogger()
}

// UnsupportedTargetTypeError is returned when Target has no
// corresponding block-quantized ElementType to re-encode into.
type UnsupportedTargetTypeError struct {
	Target model.FileType
}

func (e *UnsupportedTargetTypeError) Error() string {
	return fmt.Sprintf("quantize: %s has no target tensor encoding", e.Target)
}

// targetElementType maps a FileType profile to the ElementType every
// eligible tensor is re-encoded into (§3 "Mostly" naming).
func targetElementType(ft model.FileType) (tensor.ElementType, error) {
	switch ft {
	case model.FileTypeMostlyQ4_0:
		return tensor.Q4_0, nil
	case model.FileTypeMostlyQ4_1, model.FileTypeMostlyQ4_1SomeF16:
		return tensor.Q4_1, nil
	case model.FileTypeMostlyQ4_2:
		return tensor.Q4_2, nil
	case model.FileTypeMostlyQ8_0:
		return tensor.Q8_0, nil
	case model.FileTypeMostlyQ5_0:
		return tensor.Q5_0, nil
	case model.FileTypeMostlyQ5_1:
		return tensor.Q5_1, nil
	default:
		return 0, &UnsupportedTargetTypeError{Target: ft}
	}
}

// neverQuantize reports whether a tensor must retain its source
// encoding regardless of target: rank-1 tensors (norms and biases)
// carry too little data for block quantization to be worthwhile and
// are disproportionately sensitive to its error (§4.7).
func neverQuantize(info tensor.TensorLoadInfo) bool {
	return info.NDims() == 1
}

// Quantize streams sourcePath's container into a freshly written file
// at destPath, re-encoding every eligible tensor into target's
// ElementType and leaving the rest untouched.
func Quantize(sourcePath, destPath string, params Params) error {
	defer logging.Timed("quantize", fmt.Sprintf("%q -> %q", sourcePath, destPath))()

	log := params.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	targetET, err := targetElementType(params.Target)
	if err != nil {
		return err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("quantize: open source: %w", err)
	}
	defer src.Close()

	h := newSourceHandler()
	if err := container.Load(sourcePath, src, h); err != nil {
		return fmt.Errorf("quantize: read source container: %w", err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("quantize: create destination: %w", err)
	}
	defer dst.Close()

	w, err := container.NewWriter(dst)
	if err != nil {
		return err
	}
	if err := w.WriteHyperparameters(h.hyperparametersFor(params.Target)); err != nil {
		return err
	}
	if err := w.WriteVocabulary(h.vocabEntries); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"source": sourcePath,
		"dest":   destPath,
		"target": params.Target.String(),
		"tensors": len(h.order),
	}).Info("quantize: starting tensor pass")

	total := len(h.order)
	var runHistory []ops.BlockStats
	for i, name := range h.order {
		info := h.infos[name]
		size, err := info.ByteSize()
		if err != nil {
			return err
		}

		raw := make([]byte, size)
		if _, err := src.ReadAt(raw, info.Offset); err != nil {
			return fmt.Errorf("quantize: read tensor %q payload: %w", name, err)
		}

		write := container.TensorWrite{Name: name, Dims: info.Dims}

		skip := neverQuantize(info) || info.ElementType == targetET
		if !skip && info.Dims[0]%targetET.BlockSize() != 0 {
			// Fastest axis does not divide evenly into the target
			// block size; keep the source encoding rather than fail
			// the whole run over one oddly-shaped tensor.
			skip = true
		}

		if skip {
			write.ElementType = info.ElementType
			write.Payload = raw
			log.WithFields(logrus.Fields{"tensor": name, "type": info.ElementType.String()}).Debug("quantize: skipped")
			if err := emit(params.OnProgress, ProgressEvent{
				Kind: TensorSkipped, TensorName: name, Index: i, TensorCount: total,
				SourceType: info.ElementType.String(), TargetType: info.ElementType.String(),
				BytesBefore: size, BytesAfter: size,
			}); err != nil {
				return err
			}
			if err := w.WriteTensor(write); err != nil {
				return err
			}
			continue
		}

		if err := emit(params.OnProgress, ProgressEvent{
			Kind: TensorQuantizing, TensorName: name, Index: i, TensorCount: total,
			SourceType: info.ElementType.String(), TargetType: targetET.String(), BytesBefore: size,
		}); err != nil {
			return err
		}

		srcTensor := tensor.New(name, info.ElementType, info.Dims, raw)
		values, err := ops.MaterializeF32(srcTensor)
		if err != nil {
			return fmt.Errorf("quantize: decode tensor %q: %w", name, err)
		}

		payload, history, err := requantize(targetET, values)
		if err != nil {
			return fmt.Errorf("quantize: encode tensor %q: %w", name, err)
		}
		runHistory = append(runHistory, history...)

		write.ElementType = targetET
		write.Payload = payload
		if err := w.WriteTensor(write); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"tensor": name, "from": info.ElementType.String(), "to": targetET.String(),
			"bytes_before": size, "bytes_after": len(payload),
		}).Debug("quantize: re-encoded")

		if err := emit(params.OnProgress, ProgressEvent{
			Kind: TensorQuantized, TensorName: name, Index: i, TensorCount: total,
			SourceType: info.ElementType.String(), TargetType: targetET.String(),
			BytesBefore: size, BytesAfter: int64(len(payload)), History: history,
		}); err != nil {
			return err
		}
	}

	log.Info("quantize: finished")
	return emit(params.OnProgress, ProgressEvent{Kind: Finished, TensorCount: total, History: runHistory})
}

func requantize(et tensor.ElementType, values []float32) ([]byte, []ops.BlockStats, error) {
	block := et.BlockSize()
	if len(values)%block != 0 {
		return nil, nil, fmt.Errorf("quantize: %d values is not a multiple of block size %d", len(values), block)
	}
	bytesPerBlock, err := et.BytesPerBlock()
	if err != nil {
		return nil, nil, err
	}
	nBlocks := len(values) / block
	out := make([]byte, nBlocks*bytesPerBlock)
	history := make([]ops.BlockStats, nBlocks)
	for b := 0; b < nBlocks; b++ {
		chunk, stats, err := ops.QuantizeBlock(et, values[b*block:(b+1)*block])
		if err != nil {
			return nil, nil, err
		}
		copy(out[b*bytesPerBlock:(b+1)*bytesPerBlock], chunk)
		history[b] = stats
	}
	return out, history, nil
}

func emit(cb ProgressCallback, ev ProgressEvent) error {
	if cb == nil {
		return nil
	}
	return cb(ev)
}
