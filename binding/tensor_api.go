package binding

import (
	"math"
	"math/big"

	"github.com/amikos-tech/pure-executorch/et"
)

// CreateTensor creates a tensor from a dtype (numeric code or name such as
// "float32"), a shape (array of integers) and raw element bytes, which are copied.
func CreateTensor(dtype, shape, data any) (*TensorHandle, error) {
	st, err := hostDtype(dtype)
	if err != nil {
		return nil, err
	}
	dims, err := hostIntList(shape, "shape")
	if err != nil {
		return nil, err
	}
	raw, ok := data.([]byte)
	if !ok && data != nil {
		return nil, hostError(et.ErrorCodeInvalidArgument, "tensor data must be a byte buffer, got %T", data)
	}
	t, err := et.NewTensor(st, et.Shape(dims), raw)
	if err != nil {
		return nil, err
	}
	return newTensorHandle(t), nil
}

func hostDtype(v any) (et.ScalarType, error) {
	if name, ok := v.(string); ok {
		return et.ParseScalarType(name)
	}
	code, ok := hostInt(v)
	if !ok || code < math.MinInt32 || code > math.MaxInt32 {
		return 0, hostError(et.ErrorCodeInvalidType, "dtype must be a scalar type code or name, got %v", v)
	}
	return et.ScalarTypeFromCode(int32(code))
}

// TensorGetDtype returns the numeric scalar type code.
func TensorGetDtype(h *TensorHandle) (float64, error) {
	t, err := h.Tensor()
	if err != nil {
		return 0, err
	}
	return float64(t.Dtype()), nil
}

// TensorGetShape returns the shape as an array of numbers.
func TensorGetShape(h *TensorHandle) ([]any, error) {
	t, err := h.Tensor()
	if err != nil {
		return nil, err
	}
	return hostIntArray(t.Shape()), nil
}

// TensorGetData returns a copy of the raw element bytes.
func TensorGetData(h *TensorHandle) ([]byte, error) {
	t, err := h.Tensor()
	if err != nil {
		return nil, err
	}
	return t.Bytes()
}

// TensorSetData replaces the element bytes. The length must not change.
func TensorSetData(h *TensorHandle, data any) error {
	t, err := h.Tensor()
	if err != nil {
		return err
	}
	raw, ok := data.([]byte)
	if !ok {
		return hostError(et.ErrorCodeInvalidArgument, "tensor data must be a byte buffer, got %T", data)
	}
	return t.SetBytes(raw)
}

// TensorSetValue writes one element. The accepted host value depends on the
// tensor dtype: a boolean for Boolean tensors, a number for floating point
// tensors, and an integral number or big integer within range for integer tensors.
func TensorSetValue(h *TensorHandle, position, value any) error {
	t, err := h.Tensor()
	if err != nil {
		return err
	}
	pos, err := hostIntList(position, "position")
	if err != nil {
		return err
	}

	dtype := t.Dtype()
	switch dtype {
	case et.Boolean:
		b, ok := value.(bool)
		if !ok {
			return hostError(et.ErrorCodeInvalidArgument, "bool tensor needs a boolean value, got %T", value)
		}
		return et.SetValue(t, pos, b)
	case et.Float16, et.Float32, et.Float64:
		f, ok := value.(float64)
		if !ok {
			return hostError(et.ErrorCodeInvalidArgument, "%s tensor needs a number, got %T", dtype, value)
		}
		switch dtype {
		case et.Float16:
			return et.SetFloat16Value(t, pos, float32(f))
		case et.Float32:
			return et.SetValue(t, pos, float32(f))
		default:
			return et.SetValue(t, pos, f)
		}
	case et.UInt8, et.Int8, et.Int16, et.Int32, et.Int64:
		n, err := integerValue(dtype, value)
		if err != nil {
			return err
		}
		switch dtype {
		case et.UInt8:
			return et.SetValue(t, pos, uint8(n))
		case et.Int8:
			return et.SetValue(t, pos, int8(n))
		case et.Int16:
			return et.SetValue(t, pos, int16(n))
		case et.Int32:
			return et.SetValue(t, pos, int32(n))
		default:
			return et.SetValue(t, pos, n)
		}
	default:
		return hostError(et.ErrorCodeNotSupported, "cannot set values of %s tensors", dtype)
	}
}

var integerRanges = map[et.ScalarType][2]int64{
	et.UInt8: {0, math.MaxUint8},
	et.Int8:  {math.MinInt8, math.MaxInt8},
	et.Int16: {math.MinInt16, math.MaxInt16},
	et.Int32: {math.MinInt32, math.MaxInt32},
	et.Int64: {math.MinInt64, math.MaxInt64},
}

func integerValue(dtype et.ScalarType, value any) (int64, error) {
	if b, ok := value.(*big.Int); ok && (b == nil || !b.IsInt64()) {
		return 0, hostError(et.ErrorCodeInvalidArgument, "value %v is out of range for %s", value, dtype)
	}
	n, ok := hostInt(value)
	if !ok {
		return 0, hostError(et.ErrorCodeInvalidArgument, "%s tensor needs an integer, got %v", dtype, value)
	}
	bounds := integerRanges[dtype]
	if n < bounds[0] || n > bounds[1] {
		return 0, hostError(et.ErrorCodeInvalidArgument, "value %d is out of range for %s", n, dtype)
	}
	return n, nil
}

// TensorConcat joins tensors along axis into a new tensor.
func TensorConcat(tensors any, axis any) (*TensorHandle, error) {
	var handles []*TensorHandle
	switch list := tensors.(type) {
	case []*TensorHandle:
		handles = list
	case []any:
		handles = make([]*TensorHandle, len(list))
		for i, item := range list {
			h, ok := item.(*TensorHandle)
			if !ok {
				return nil, hostError(et.ErrorCodeInvalidArgument, "element %d is %T, not a tensor", i, item)
			}
			handles[i] = h
		}
	default:
		return nil, hostError(et.ErrorCodeInvalidArgument, "expected an array of tensors, got %T", tensors)
	}

	ax, ok := hostInt(axis)
	if !ok || ax < math.MinInt32 || ax > math.MaxInt32 {
		return nil, hostError(et.ErrorCodeInvalidArgument, "axis must be an integer, got %v", axis)
	}

	inputs := make([]*et.Tensor, len(handles))
	for i, h := range handles {
		t, err := h.Tensor()
		if err != nil {
			return nil, err
		}
		inputs[i] = t
	}
	out, err := et.Concat(inputs, int(ax))
	if err != nil {
		return nil, err
	}
	return newTensorHandle(out), nil
}

// TensorSlice extracts a sub-tensor. See ParseSlices for the range syntax.
func TensorSlice(h *TensorHandle, slices any) (*TensorHandle, error) {
	t, err := h.Tensor()
	if err != nil {
		return nil, err
	}
	ranges, err := ParseSlices(slices)
	if err != nil {
		return nil, err
	}
	out, err := t.Slice(ranges...)
	if err != nil {
		return nil, err
	}
	return newTensorHandle(out), nil
}

// TensorReshape returns a reshaped copy.
func TensorReshape(h *TensorHandle, shape any) (*TensorHandle, error) {
	t, err := h.Tensor()
	if err != nil {
		return nil, err
	}
	dims, err := hostIntList(shape, "shape")
	if err != nil {
		return nil, err
	}
	out, err := t.Reshape(et.Shape(dims))
	if err != nil {
		return nil, err
	}
	return newTensorHandle(out), nil
}

// TensorDispose releases the tensor. Disposing twice is a no-op.
func TensorDispose(h *TensorHandle) error {
	return h.dispose()
}
