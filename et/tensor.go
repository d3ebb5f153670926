package et

import (
	"fmt"
	"sync"
)

// Tensor is a contiguous row-major N-dimensional buffer of fixed-width elements.
//
// A Tensor exclusively owns its bytes: constructors copy caller data, accessors
// return copies, and every transform (Reshape, Slice, Concat) materializes a new
// Tensor. The shape and dtype never change after creation; only the element
// contents can be mutated (SetBytes, SetValue).
//
// Thread-safe: reads and writes of the element buffer are guarded by an RWMutex.
type Tensor struct {
	mu        sync.RWMutex
	dtype     ScalarType
	shape     Shape
	data      []byte
	destroyed bool
}

// NewTensor creates a tensor from raw element bytes. The bytes are copied.
//
// It fails with InvalidArgument when dtype has no fixed byte width or when
// len(data) != dtype.ByteWidth() * product(shape).
func NewTensor(dtype ScalarType, shape Shape, data []byte) (*Tensor, error) {
	shapeCopy, expected, err := tensorByteSize(dtype, shape)
	if err != nil {
		return nil, err
	}
	if len(data) != expected {
		return nil, invalidArgument("data length mismatch: got %d bytes, expected %d for %s%v", len(data), expected, dtype, shapeCopy)
	}

	buf := make([]byte, expected)
	copy(buf, data)
	return newTensorOwned(dtype, shapeCopy, buf), nil
}

// NewEmptyTensor creates a zero-filled tensor with the given shape.
func NewEmptyTensor(dtype ScalarType, shape Shape) (*Tensor, error) {
	shapeCopy, expected, err := tensorByteSize(dtype, shape)
	if err != nil {
		return nil, err
	}
	return newTensorOwned(dtype, shapeCopy, make([]byte, expected)), nil
}

// newTensorOwned wraps a buffer the caller hands over; no validation, no copy.
func newTensorOwned(dtype ScalarType, shape Shape, data []byte) *Tensor {
	return &Tensor{
		dtype: dtype,
		shape: shape,
		data:  data,
	}
}

func tensorByteSize(dtype ScalarType, shape Shape) (Shape, int, error) {
	width := dtype.ByteWidth()
	if width == 0 {
		return nil, 0, invalidArgument("unsupported dtype %s", dtype)
	}

	shapeCopy := cloneShape(shape)
	count, err := ShapeElementCount(shapeCopy)
	if err != nil {
		return nil, 0, err
	}

	maxInt := int(^uint(0) >> 1)
	if count > maxInt/width {
		return nil, 0, invalidArgument("tensor data size overflow: %d elements with element size %d", count, width)
	}
	return shapeCopy, count * width, nil
}

// Tag implements Value.
func (t *Tensor) Tag() Tag { return TagTensor }

func (*Tensor) isValue() {}

// Dtype returns the element scalar type.
func (t *Tensor) Dtype() ScalarType {
	return t.dtype
}

// Shape returns a copy of the tensor shape.
// After Destroy() it returns nil. Calling on a nil receiver also returns nil.
func (t *Tensor) Shape() Shape {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.destroyed {
		return nil
	}
	return cloneShape(t.shape)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.shape)
}

// ElementSize returns the element width in bytes.
func (t *Tensor) ElementSize() int {
	return t.dtype.ByteWidth()
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data) / t.dtype.ByteWidth()
}

// NBytes returns the size of the element buffer in bytes.
func (t *Tensor) NBytes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Bytes returns a copy of the raw element buffer.
func (t *Tensor) Bytes() ([]byte, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out, nil
}

// SetBytes replaces the element buffer. The new data must have exactly NBytes() bytes;
// reinterpretation never resizes a tensor.
func (t *Tensor) SetBytes(data []byte) error {
	if t == nil {
		return invalidArgument("tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return err
	}
	if len(data) != len(t.data) {
		return invalidArgument("data length mismatch: got %d bytes, tensor holds %d", len(data), len(t.data))
	}
	copy(t.data, data)
	return nil
}

// Clone returns an independent deep copy.
func (t *Tensor) Clone() (*Tensor, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	buf := make([]byte, len(t.data))
	copy(buf, t.data)
	return newTensorOwned(t.dtype, cloneShape(t.shape), buf), nil
}

// Destroy releases the element buffer. It is safe to call more than once and on a nil tensor.
func (t *Tensor) Destroy() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = nil
	t.shape = nil
	t.destroyed = true
	return nil
}

func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.destroyed {
		return "Tensor(destroyed)"
	}
	return fmt.Sprintf("Tensor(%s%v)", t.dtype, []int64(t.shape))
}

// checkAlive must be called with t.mu held.
func (t *Tensor) checkAlive() error {
	if t.destroyed {
		return &Error{Code: ErrorCodeInvalidState, Msg: "tensor has been destroyed"}
	}
	return nil
}
