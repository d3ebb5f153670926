package et

import (
	"unsafe"

	"github.com/x448/float16"
)

// Element is a fixed-width type that tensor bytes can be reinterpreted as.
// float16.Float16 satisfies it through ~uint16.
type Element interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64 | ~bool
}

func elementSize[T Element]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func elementBytes[T Element](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	// #nosec G103 -- reinterpreting a Go slice of fixed-width elements as bytes.
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*elementSize[T]())
}

// TensorData copies the tensor buffer out as a slice of T.
// It fails if the buffer length is not a multiple of sizeof(T) instead of truncating.
func TensorData[T Element](t *Tensor) ([]T, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}

	size := elementSize[T]()
	if len(t.data)%size != 0 {
		return nil, invalidArgument("tensor of %d bytes cannot be viewed as %d-byte elements", len(t.data), size)
	}
	out := make([]T, len(t.data)/size)
	copy(elementBytes(out), t.data)
	return out, nil
}

// SetTensorData replaces the tensor buffer with values. The byte length of values
// must equal the tensor's current byte length.
func SetTensorData[T Element](t *Tensor, values []T) error {
	if t == nil {
		return invalidArgument("tensor is nil")
	}
	return t.SetBytes(elementBytes(values))
}

// SetValue overwrites the single element at position. The position must have one
// coordinate per axis, each within bounds, and T must match the element width.
func SetValue[T Element](t *Tensor, position []int64, value T) error {
	if t == nil {
		return invalidArgument("tensor is nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkAlive(); err != nil {
		return err
	}

	size := elementSize[T]()
	if size != t.dtype.ByteWidth() {
		return invalidType("cannot write a %d-byte value into a %s tensor", size, t.dtype)
	}
	offset, err := t.shape.flatOffset(position)
	if err != nil {
		return err
	}
	src := elementBytes([]T{value})
	copy(t.data[offset*size:(offset+1)*size], src)
	return nil
}

// ValueAt reads the single element at position.
func ValueAt[T Element](t *Tensor, position []int64) (T, error) {
	var zero T
	if t == nil {
		return zero, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return zero, err
	}

	size := elementSize[T]()
	if size != t.dtype.ByteWidth() {
		return zero, invalidType("cannot read a %d-byte value from a %s tensor", size, t.dtype)
	}
	offset, err := t.shape.flatOffset(position)
	if err != nil {
		return zero, err
	}
	out := []T{zero}
	copy(elementBytes(out), t.data[offset*size:(offset+1)*size])
	return out[0], nil
}

// Float32Values widens the elements of a Float32 or Float16 tensor to float32.
func Float32Values(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	switch t.Dtype() {
	case Float32:
		return TensorData[float32](t)
	case Float16:
		halves, err := TensorData[float16.Float16](t)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(halves))
		for i, h := range halves {
			out[i] = h.Float32()
		}
		return out, nil
	default:
		return nil, invalidType("expected a float32 or float16 tensor, got %s", t.Dtype())
	}
}

// SetFloat16Value stores f at position of a Float16 tensor, rounding to nearest even.
func SetFloat16Value(t *Tensor, position []int64, f float32) error {
	if t == nil {
		return invalidArgument("tensor is nil")
	}
	if t.Dtype() != Float16 {
		return invalidType("expected a float16 tensor, got %s", t.Dtype())
	}
	return SetValue(t, position, float16.Fromfloat32(f))
}
