package loader

import (
	"fmt"
	"io"
	"os"

	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/tensor"
)

// tensorLoader implements model.TensorLoader over an already-parsed
// tensor index and an open file. It binds mmap views with no copy
// when the arena supports it, otherwise seeks and reads into the
// owned arena (§4.2 "On load_with_shape").
type tensorLoader struct {
	file   *os.File
	arena  tensor.Arena
	viewer tensor.Viewer // non-nil iff arena is memory-mapped

	infos  map[string]tensor.TensorLoadInfo
	loaded map[string]*tensor.Tensor
	total  int

	onProgress ProgressCallback
}

func newTensorLoader(file *os.File, arena tensor.Arena, infos map[string]tensor.TensorLoadInfo, onProgress ProgressCallback) *tensorLoader {
	viewer, _ := arena.(tensor.Viewer)
	return &tensorLoader{
		file:       file,
		arena:      arena,
		viewer:     viewer,
		infos:      infos,
		loaded:     make(map[string]*tensor.Tensor),
		total:      len(infos),
		onProgress: onProgress,
	}
}

func (l *tensorLoader) Load(name string) (*tensor.Tensor, error) {
	return l.bind(name, nil)
}

func (l *tensorLoader) LoadWithShape(name string, expectedDims []int) (*tensor.Tensor, error) {
	return l.bind(name, expectedDims)
}

func (l *tensorLoader) bind(name string, expectedDims []int) (*tensor.Tensor, error) {
	info, ok := l.infos[name]
	if !ok {
		return nil, fmt.Errorf("loader: %w", &model.UnknownTensorError{Name: name})
	}
	dims := info.Dims
	if expectedDims != nil {
		if len(expectedDims) != len(info.Dims) {
			return nil, &InvariantBrokenError{Tensor: name, Detail: fmt.Sprintf("expected %d dims, file has %d", len(expectedDims), len(info.Dims))}
		}
		dims = expectedDims
	}

	size, err := tensor.ByteSize(info.ElementType, dims)
	if err != nil {
		return nil, err
	}

	var data []byte
	if l.viewer != nil {
		data, err = l.viewer.View(info.Offset, size)
		if err != nil {
			return nil, fmt.Errorf("loader: bind %q to mapping: %w", name, err)
		}
	} else {
		data, err = l.arena.Allocate(size)
		if err != nil {
			return nil, fmt.Errorf("loader: allocate %q: %w", name, err)
		}
		if _, err := l.file.ReadAt(data, info.Offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("loader: read %q payload: %w", name, err)
		}
	}

	t := tensor.New(name, info.ElementType, dims, data)
	l.loaded[name] = t

	if l.onProgress != nil {
		if err := l.onProgress(ProgressEvent{
			Kind:          TensorLoaded,
			CurrentTensor: len(l.loaded),
			TensorCount:   l.total,
		}); err != nil {
			return nil, err
		}
	}

	return t, nil
}

func (l *tensorLoader) Finish() (tensor.Arena, map[string]*tensor.Tensor, error) {
	return l.arena, l.loaded, nil
}

// InvariantBrokenError is raised by LoadWithShape when the requested
// shape's rank does not match the rank recorded in the file (§4.2:
// "failing with InvariantBroken if dimensionality mismatches").
type InvariantBrokenError struct {
	Tensor string
	Detail string
}

func (e *InvariantBrokenError) Error() string {
	return fmt.Sprintf("loader: invariant broken for tensor %q: %s", e.Tensor, e.Detail)
}
