// Package tensor implements the data model of §3: element-encoding
// tags, the Tensor record itself, and the arena/mmap storage a Tensor
// points into without owning.
package tensor

import "fmt"

// ElementType is the on-disk encoding tag of a tensor's payload. The
// numeric values match the FileType profile codes where applicable
// (§6): a model whose FileType is MostlyQ4_0 stores most of its
// tensors with ElementType Q4_0.
type ElementType int32

const (
	F32  ElementType = 0
	F16  ElementType = 1
	Q4_0 ElementType = 2
	Q4_1 ElementType = 3
	Q4_2 ElementType = 5
	Q8_0 ElementType = 7
	Q5_0 ElementType = 8
	Q5_1 ElementType = 9
)

func (e ElementType) String() string {
	switch e {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case Q4_0:
		return "q4_0"
	case Q4_1:
		return "q4_1"
	case Q4_2:
		return "q4_2"
	case Q8_0:
		return "q8_0"
	case Q5_0:
		return "q5_0"
	case Q5_1:
		return "q5_1"
	default:
		return fmt.Sprintf("elementtype(%d)", int32(e))
	}
}

// IsQuantized reports whether the encoding packs elements into
// block-quantized groups rather than storing them individually.
func (e ElementType) IsQuantized() bool {
	switch e {
	case Q4_0, Q4_1, Q4_2, Q5_0, Q5_1, Q8_0:
		return true
	default:
		return false
	}
}

// BlockSize is the number of logical elements sharing one quantized
// block. Fully-typed encodings have a block size of 1.
func (e ElementType) BlockSize() int {
	if e.IsQuantized() {
		return 32
	}
	return 1
}

// BytesPerBlock returns the number of bytes a single block of
// BlockSize() elements occupies on disk for quantized encodings.
func (e ElementType) BytesPerBlock() (int, error) {
	switch e {
	case Q4_0, Q4_2:
		return 18, nil // 2-byte f16 scale + 16 bytes of packed 4-bit values
	case Q4_1:
		return 20, nil // 2-byte f16 scale + 2-byte f16 min + 16 bytes packed
	case Q5_0:
		return 22, nil // 2-byte f16 scale + 4-byte high-bit mask + 16 bytes packed
	case Q5_1:
		return 24, nil // 2-byte f16 scale + 2-byte f16 min + 4-byte high-bit mask + 16 bytes packed
	case Q8_0:
		return 34, nil // 2-byte f16 scale + 32 signed bytes
	default:
		return 0, fmt.Errorf("tensor: %s is not a block-quantized element type", e)
	}
}

// BytesPerElement returns the per-element byte size of a fully-typed
// (non-quantized) encoding.
func (e ElementType) BytesPerElement() (int, error) {
	switch e {
	case F32:
		return 4, nil
	case F16:
		return 2, nil
	default:
		return 0, fmt.Errorf("tensor: %s is block-quantized, has no fixed per-element size", e)
	}
}

// ErrUnsupportedElementType is wrapped into container-level errors
// when a tensor record names an element_type tag this package does
// not recognize.
type ErrUnsupportedElementType struct {
	TensorName string
	Code       uint32
}

func (e *ErrUnsupportedElementType) Error() string {
	return fmt.Sprintf("unsupported element type %d for tensor %q", e.Code, e.TensorName)
}

// ParseElementType validates a raw on-disk element_type code for the
// named tensor.
func ParseElementType(tensorName string, code uint32) (ElementType, error) {
	et := ElementType(int32(code))
	switch et {
	case F32, F16, Q4_0, Q4_1, Q4_2, Q8_0, Q5_0, Q5_1:
		return et, nil
	default:
		return 0, &ErrUnsupportedElementType{TensorName: tensorName, Code: code}
	}
}

// ByteSize computes the on-disk payload size for a tensor of the
// given element type and shape (§4.1 "Byte size per tensor"). For
// block-quantized encodings the fastest (leading, dims[0]) axis must
// be a multiple of the block size.
func ByteSize(et ElementType, dims []int) (int64, error) {
	n := int64(1)
	for _, d := range dims {
		n *= int64(d)
	}

	if !et.IsQuantized() {
		sz, err := et.BytesPerElement()
		if err != nil {
			return 0, err
		}
		return n * int64(sz), nil
	}

	block := int64(et.BlockSize())
	if len(dims) == 0 || int64(dims[0])%block != 0 {
		return 0, fmt.Errorf("tensor: fastest dimension %d is not a multiple of block size %d for %s", dimsOrZero(dims), block, et)
	}
	bytesPerBlock, err := et.BytesPerBlock()
	if err != nil {
		return 0, err
	}
	return (n / block) * int64(bytesPerBlock), nil
}

func dimsOrZero(dims []int) int {
	if len(dims) == 0 {
		return 0
	}
	return dims[0]
}

// TensorLoadInfo describes a tensor discovered in a container file:
// its name, logical shape, on-disk element encoding, and the absolute
// byte offset of its payload. Emitted by the container codec and
// consumed by the model builder via a TensorLoader.
type TensorLoadInfo struct {
	Name        string
	Dims        []int
	ElementType ElementType
	Offset      int64
}

// NDims reports the dimensionality of the described tensor.
func (ti TensorLoadInfo) NDims() int { return len(ti.Dims) }

// ByteSize computes the payload size described by this record.
func (ti TensorLoadInfo) ByteSize() (int64, error) {
	return ByteSize(ti.ElementType, ti.Dims)
}

// Tensor is a multi-dimensional array over an element-encoding tag.
// It never owns its backing bytes: Data is always a view into an
// Arena (owned buffer) or a memory-mapped file region, both of which
// must outlive the Tensor (§3 ownership invariant).
type Tensor struct {
	Name        string
	ElementType ElementType
	Dims        []int // row-major, Dims[0] is the fastest-varying axis
	data        []byte
}

// New constructs a Tensor whose payload is the given backing slice.
// The caller (loader/arena) guarantees len(data) == ByteSize(et, dims).
func New(name string, et ElementType, dims []int, data []byte) *Tensor {
	return &Tensor{Name: name, ElementType: et, Dims: dims, data: data}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Dims) }

// NElements returns the number of logical elements.
func (t *Tensor) NElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= int64(d)
	}
	return n
}

// NBytes returns the number of payload bytes, recomputed from shape
// and element type rather than len(data) so a caller can sanity-check
// a tensor's backing slice.
func (t *Tensor) NBytes() (int64, error) {
	return ByteSize(t.ElementType, t.Dims)
}

// Data returns the raw backing bytes. Do not retain beyond the
// lifetime of the arena/mapping that produced it.
func (t *Tensor) Data() []byte { return t.data }

// Dim returns the size of axis i, or 1 if the tensor has fewer axes
// (so callers can treat rank-1/2/3 tensors uniformly).
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Dims) {
		return 1
	}
	return t.Dims[i]
}
