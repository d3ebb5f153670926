package et

import (
	"math"
	"runtime"
	"unsafe"
)

// nativeValue mirrors the shim's et_value struct:
//
//	struct et_value {
//	  int32_t  tag;
//	  int32_t  dtype;   // tensors only
//	  void    *data;    // tensor bytes, string bytes or list elements
//	  uint64_t len;     // byte length for tensors and strings, element count for lists
//	  int64_t *shape;   // tensors only
//	  uint64_t rank;
//	  uint64_t scalar;  // int64, float64 bits or 0/1
//	};
type nativeValue struct {
	Tag    int32
	Dtype  int32
	Data   uintptr
	Len    uint64
	Shape  uintptr
	Rank   uint64
	Scalar uint64
}

// inputArena keeps the Go memory handed to the shim alive and pinned for one call.
type inputArena struct {
	pinner runtime.Pinner
	values []nativeValue
}

func (a *inputArena) unpin() {
	a.pinner.Unpin()
}

func (a *inputArena) pinBytes(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	a.pinner.Pin(unsafe.SliceData(b))
	// #nosec G103 -- pinned for the duration of the native call.
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func (a *inputArena) pinInt64s(v []int64) uintptr {
	if len(v) == 0 {
		return 0
	}
	a.pinner.Pin(unsafe.SliceData(v))
	// #nosec G103 -- pinned for the duration of the native call.
	return uintptr(unsafe.Pointer(unsafe.SliceData(v)))
}

func (a *inputArena) pinFloat64s(v []float64) uintptr {
	if len(v) == 0 {
		return 0
	}
	a.pinner.Pin(unsafe.SliceData(v))
	// #nosec G103 -- pinned for the duration of the native call.
	return uintptr(unsafe.Pointer(unsafe.SliceData(v)))
}

// encodeInputs lays out values for et_module_execute. Tensor bytes are copied so
// the caller's tensors stay unlocked during the call.
func encodeInputs(values []Value) (*inputArena, uintptr, error) {
	arena := &inputArena{values: make([]nativeValue, len(values))}
	for i, v := range values {
		if err := arena.encode(&arena.values[i], v); err != nil {
			arena.unpin()
			return nil, 0, err
		}
	}
	if len(arena.values) == 0 {
		return arena, 0, nil
	}
	arena.pinner.Pin(unsafe.SliceData(arena.values))
	// #nosec G103 -- pinned for the duration of the native call.
	return arena, uintptr(unsafe.Pointer(unsafe.SliceData(arena.values))), nil
}

func (a *inputArena) encode(dst *nativeValue, v Value) error {
	if v == nil {
		v = None{}
	}
	dst.Tag = int32(v.Tag())
	switch v := v.(type) {
	case None:
	case *Tensor:
		data, err := v.Bytes()
		if err != nil {
			return err
		}
		shape := []int64(v.Shape())
		dst.Dtype = int32(v.Dtype())
		dst.Data = a.pinBytes(data)
		dst.Len = uint64(len(data))
		dst.Shape = a.pinInt64s(shape)
		dst.Rank = uint64(len(shape))
	case String:
		b := []byte(v)
		dst.Data = a.pinBytes(b)
		dst.Len = uint64(len(b))
	case Double:
		dst.Scalar = math.Float64bits(float64(v))
	case Int:
		dst.Scalar = uint64(v)
	case Bool:
		if v {
			dst.Scalar = 1
		}
	case BoolList:
		b := make([]byte, len(v))
		for i, x := range v {
			if x {
				b[i] = 1
			}
		}
		dst.Data = a.pinBytes(b)
		dst.Len = uint64(len(v))
	case DoubleList:
		dst.Data = a.pinFloat64s(v)
		dst.Len = uint64(len(v))
	case IntList:
		dst.Data = a.pinInt64s(v)
		dst.Len = uint64(len(v))
	default:
		return notSupported("%s inputs cannot be passed to the engine", v.Tag())
	}
	return nil
}

// decodeOutputs copies engine-owned values into Go-owned Values.
// The caller releases the native array afterwards.
func decodeOutputs(ptr uintptr, count uint64) ([]Value, error) {
	if count == 0 {
		return []Value{}, nil
	}
	if ptr == 0 {
		return nil, &Error{Code: ErrorCodeInternal, Msg: "engine returned outputs without data"}
	}
	// #nosec G103 -- the shim owns this array until et_value_release.
	raw := unsafe.Slice((*nativeValue)(unsafe.Pointer(ptr)), count)
	out := make([]Value, 0, count)
	for i := range raw {
		v, err := decodeOutput(&raw[i])
		if err != nil {
			_ = DestroyValues(out...)
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeOutput(src *nativeValue) (Value, error) {
	tag, err := TagFromCode(int64(src.Tag))
	if err != nil {
		return nil, &Error{Code: ErrorCodeInternal, Msg: err.Error()}
	}
	switch tag {
	case TagNone:
		return None{}, nil
	case TagTensor:
		dtype, err := ScalarTypeFromCode(src.Dtype)
		if err != nil {
			return nil, err
		}
		shape := make(Shape, src.Rank)
		copy(shape, nativeSlice[int64](src.Shape, src.Rank))
		// NewTensor copies, so the result no longer refers to engine memory.
		return NewTensor(dtype, shape, nativeSlice[byte](src.Data, src.Len))
	case TagString:
		return String(nativeSlice[byte](src.Data, src.Len)), nil
	case TagDouble:
		return Double(math.Float64frombits(src.Scalar)), nil
	case TagInt:
		return Int(int64(src.Scalar)), nil
	case TagBool:
		return Bool(src.Scalar != 0), nil
	case TagListBool:
		raw := nativeSlice[byte](src.Data, src.Len)
		out := make(BoolList, len(raw))
		for i, b := range raw {
			out[i] = b != 0
		}
		return out, nil
	case TagListDouble:
		return DoubleList(append([]float64(nil), nativeSlice[float64](src.Data, src.Len)...)), nil
	case TagListInt:
		return IntList(append([]int64(nil), nativeSlice[int64](src.Data, src.Len)...)), nil
	default:
		return nil, notSupported("engine output of type %s is not supported", tag)
	}
}

// nativeSlice views n elements at ptr without copying.
func nativeSlice[T any](ptr uintptr, n uint64) []T {
	if ptr == 0 || n == 0 {
		return nil
	}
	// #nosec G103 -- engine-owned memory, copied before the array is released.
	return unsafe.Slice((*T)(unsafe.Pointer(ptr)), n)
}
