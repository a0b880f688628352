package tensor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapArena wraps a read-only memory mapping of an entire model file.
// Tensors allocated from it do not copy payload bytes; they view
// directly into the mapping (§4.2 "bind its payload pointer to
// mapping_base + info.offset"). The mapping is released only when the
// model (and therefore the arena) is closed (§5 "Memory-mapped
// lifetimes").
type mmapArena struct {
	data   []byte
	closed bool
}

// NewMmapArena maps the given file read-only for its full length.
func NewMmapArena(f *os.File) (Arena, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("tensor: stat for mmap: %w", err)
	}
	if info.Size() == 0 {
		return &mmapArena{data: nil}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("tensor: mmap failed: %w", err)
	}
	return &mmapArena{data: data}, nil
}

// Allocate is unused on the mmap path: View is called instead with an
// explicit offset into the mapping. It exists only so mmapArena
// satisfies Arena for callers that treat all arenas uniformly when no
// tensor happens to reference the mapping.
func (a *mmapArena) Allocate(n int64) ([]byte, error) {
	return nil, fmt.Errorf("tensor: Allocate is not supported on a memory-mapped arena; use View")
}

// View returns a slice into the mapping at [offset, offset+n), valid
// only until Close.
func (a *mmapArena) View(offset, n int64) ([]byte, error) {
	if a.closed {
		return nil, fmt.Errorf("tensor: view into closed mapping")
	}
	if offset < 0 || n < 0 || offset+n > int64(len(a.data)) {
		return nil, fmt.Errorf("tensor: mapping view [%d:%d) out of range (mapping size %d)", offset, offset+n, len(a.data))
	}
	return a.data[offset : offset+n : offset+n], nil
}

func (a *mmapArena) Close() error {
	if a.closed || a.data == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	err := unix.Munmap(a.data)
	a.data = nil
	if err != nil {
		return fmt.Errorf("tensor: munmap failed: %w", err)
	}
	return nil
}

// Viewer is implemented by arenas that can bind a tensor's payload
// pointer directly into existing storage without a copy (the
// mmap-backed arena). The loader type-switches on this to choose
// between View and Allocate+copy per §4.2.
type Viewer interface {
	View(offset, n int64) ([]byte, error)
}
