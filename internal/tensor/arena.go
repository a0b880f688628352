package tensor

import "fmt"

// Arena is the single owner of the bytes a Tensor's Data() points
// into (§3: "either the model's tensor-arena exclusively owns the
// buffer, or a memory-mapped region does"). Exactly one Arena
// implementation backs a given Model for its full lifetime.
type Arena interface {
	// Allocate reserves and returns a zero-initialized slice of n
	// bytes that remains valid until Close.
	Allocate(n int64) ([]byte, error)
	// Close releases the arena. Tensors backed by it must not be used
	// afterwards.
	Close() error
}

// ownedArena is a bump allocator over one pre-sized buffer, used when
// the loader is not memory-mapping the source file.
type ownedArena struct {
	buf    []byte
	offset int64
	closed bool
}

// NewOwnedArena allocates a single buffer of the given size up front;
// the loader sizes it to the sum of all tensor payloads plus object
// overhead before any tensor is read (§4.2).
func NewOwnedArena(size int64) (Arena, error) {
	if size < 0 {
		return nil, fmt.Errorf("tensor: negative arena size %d", size)
	}
	return &ownedArena{buf: make([]byte, size)}, nil
}

func (a *ownedArena) Allocate(n int64) ([]byte, error) {
	if a.closed {
		return nil, fmt.Errorf("tensor: allocate from closed arena")
	}
	if n < 0 || a.offset+n > int64(len(a.buf)) {
		return nil, fmt.Errorf("tensor: arena exhausted: requested %d bytes, %d remaining", n, int64(len(a.buf))-a.offset)
	}
	start := a.offset
	a.offset += n
	return a.buf[start:a.offset:a.offset], nil
}

func (a *ownedArena) Close() error {
	a.closed = true
	a.buf = nil
	return nil
}

// Size reports the arena's total capacity.
func (a *ownedArena) Size() int64 { return int64(len(a.buf)) }
