// Package loader drives the container codec once per model file,
// resolves mmap-vs-owned tensor storage, and hands an architecture
// builder a TensorLoader bound to the result (§4.2).
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edgerun/ggufrt/internal/container"
	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// Params configures a single Load call.
type Params struct {
	Arch       model.Architecture
	PreferMmap bool
	OnProgress ProgressCallback // may be nil
}

// Load opens path, parses its container, and builds a Model for
// Params.Arch.
func Load(path string, params Params) (*model.Model, error) {
	defer logging.Timed("loader", fmt.Sprintf("load %q", path))()

	if err := checkNotMultipart(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %q: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("loader: stat %q: %w", path, err)
	}

	h := newHandler(params.OnProgress)
	if err := container.Load(path, f, h); err != nil {
		return nil, err
	}
	if err := h.hp.Validate(h.vocab.Len()); err != nil {
		return nil, err
	}

	totalBytes, err := h.totalPayloadBytes()
	if err != nil {
		return nil, err
	}
	if err := emit(params.OnProgress, ProgressEvent{Kind: ContextSize, Bytes: totalBytes}); err != nil {
		return nil, err
	}

	useMmap := params.PreferMmap && h.containerType.SupportsMmap()
	var arena tensor.Arena
	if useMmap {
		arena, err = tensor.NewMmapArena(f)
	} else {
		arena, err = tensor.NewOwnedArena(totalBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("loader: allocate tensor storage: %w", err)
	}
	logging.Component("loader").Printf("%q: %s arena, %d bytes", path, map[bool]string{true: "mmap", false: "owned"}[useMmap], totalBytes)

	tl := newTensorLoader(f, arena, h.infos, params.OnProgress)
	m, err := model.Build(params.Arch, h.hp, h.vocab, tl)
	if err != nil {
		arena.Close()
		return nil, err
	}

	if err := emit(params.OnProgress, ProgressEvent{
		Kind:        Loaded,
		FileSize:    info.Size(),
		TensorCount: len(h.infos),
	}); err != nil {
		return m, err
	}

	return m, nil
}

func emit(cb ProgressCallback, ev ProgressEvent) error {
	if cb == nil {
		return nil
	}
	return cb(ev)
}

// checkNotMultipart enforces the non-goal that multi-part/sharded
// model files are unsupported: any sibling file named path + "." +
// any suffix (path.1, but also path.bak) causes a hard failure rather
// than silent partial loading (§4.2 pre-check).
func checkNotMultipart(path string) error {
	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		return fmt.Errorf("loader: scan for multi-part siblings of %q: %w", path, err)
	}
	if len(matches) == 0 {
		return nil
	}
	return &MultipartNotSupportedError{Paths: append([]string{path}, matches...)}
}
