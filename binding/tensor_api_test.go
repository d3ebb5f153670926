package binding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/amikos-tech/pure-executorch/et"
)

func int32Bytes(values ...int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func TestCreateTensorArguments(t *testing.T) {
	tests := []struct {
		name    string
		dtype   any
		shape   any
		data    any
		wantErr error
	}{
		{name: "numeric dtype", dtype: 0.0, shape: []any{2.0}, data: []byte{1, 2}},
		{name: "named dtype", dtype: "int32", shape: []any{1.0}, data: int32Bytes(7)},
		{name: "typed shape", dtype: "uint8", shape: []int64{2}, data: []byte{1, 2}},
		{name: "unknown dtype code", dtype: 99.0, shape: []any{1.0}, data: []byte{1}, wantErr: et.ErrInvalidType},
		{name: "unknown dtype name", dtype: "float8", shape: []any{1.0}, data: []byte{1}, wantErr: et.ErrInvalidType},
		{name: "packed dtype", dtype: float64(et.QUInt4x2), shape: []any{1.0}, data: []byte{1}, wantErr: et.ErrInvalidArgument},
		{name: "fractional dim", dtype: "uint8", shape: []any{1.5}, data: []byte{1}, wantErr: et.ErrInvalidArgument},
		{name: "shape not array", dtype: "uint8", shape: 2.0, data: []byte{1, 2}, wantErr: et.ErrInvalidArgument},
		{name: "data not bytes", dtype: "uint8", shape: []any{1.0}, data: "a", wantErr: et.ErrInvalidArgument},
		{name: "length mismatch", dtype: "int32", shape: []any{2.0}, data: int32Bytes(7), wantErr: et.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := CreateTensor(tt.dtype, tt.shape, tt.data)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if h != nil {
					t.Fatal("expected no handle on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTensor failed: %v", err)
			}
			data, _ := TensorGetData(h)
			if !bytes.Equal(data, tt.data.([]byte)) {
				t.Fatalf("data mismatch: %v", data)
			}
		})
	}
}

func TestTensorAccessors(t *testing.T) {
	h := mustHandle(t, "int32", []any{2.0, 2.0}, int32Bytes(1, 2, 3, 4))

	dtype, err := TensorGetDtype(h)
	if err != nil || dtype != float64(et.Int32) {
		t.Fatalf("unexpected dtype %v (%v)", dtype, err)
	}
	shape, err := TensorGetShape(h)
	if err != nil || len(shape) != 2 || shape[0] != 2.0 {
		t.Fatalf("unexpected shape %v (%v)", shape, err)
	}

	if err := TensorSetData(h, int32Bytes(5, 6, 7, 8)); err != nil {
		t.Fatalf("TensorSetData failed: %v", err)
	}
	if err := TensorSetData(h, int32Bytes(5)); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for short data, got %v", err)
	}
	data, _ := TensorGetData(h)
	if !bytes.Equal(data, int32Bytes(5, 6, 7, 8)) {
		t.Fatalf("unexpected data %v", data)
	}

	if err := TensorDispose(h); err != nil {
		t.Fatalf("TensorDispose failed: %v", err)
	}
	if err := TensorDispose(h); err != nil {
		t.Fatalf("second TensorDispose failed: %v", err)
	}
	if _, err := TensorGetData(h); !errors.Is(err, et.ErrInvalidState) {
		t.Fatalf("expected InvalidState after dispose, got %v", err)
	}
}

func TestTensorSetValue(t *testing.T) {
	tests := []struct {
		name    string
		dtype   string
		value   any
		want    func(*et.Tensor) bool
		wantErr error
	}{
		{name: "float32", dtype: "float32", value: 5.0, want: func(t *et.Tensor) bool {
			v, _ := et.ValueAt[float32](t, []int64{1, 0})
			return v == 5
		}},
		{name: "float64", dtype: "float64", value: math.E, want: func(t *et.Tensor) bool {
			v, _ := et.ValueAt[float64](t, []int64{1, 0})
			return v == math.E
		}},
		{name: "float16", dtype: "float16", value: 0.5, want: func(t *et.Tensor) bool {
			v, _ := et.Float32Values(t)
			return v[1] == 0.5
		}},
		{name: "int64 big", dtype: "int64", value: big.NewInt(math.MinInt64), want: func(t *et.Tensor) bool {
			v, _ := et.ValueAt[int64](t, []int64{1, 0})
			return v == math.MinInt64
		}},
		{name: "int8 negative", dtype: "int8", value: -128.0, want: func(t *et.Tensor) bool {
			v, _ := et.ValueAt[int8](t, []int64{1, 0})
			return v == -128
		}},
		{name: "bool", dtype: "bool", value: true, want: func(t *et.Tensor) bool {
			v, _ := et.ValueAt[bool](t, []int64{1, 0})
			return v
		}},
		{name: "uint8 overflow", dtype: "uint8", value: 256.0, wantErr: et.ErrInvalidArgument},
		{name: "int16 fractional", dtype: "int16", value: 1.5, wantErr: et.ErrInvalidArgument},
		{name: "int64 too big", dtype: "int64", value: new(big.Int).Lsh(big.NewInt(1), 64), wantErr: et.ErrInvalidArgument},
		{name: "bool from number", dtype: "bool", value: 1.0, wantErr: et.ErrInvalidArgument},
		{name: "float from bool", dtype: "float32", value: true, wantErr: et.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := et.ParseScalarType(tt.dtype)
			if err != nil {
				t.Fatalf("ParseScalarType failed: %v", err)
			}
			empty, _ := et.NewEmptyTensor(st, et.Shape{2, 1})
			h := newTensorHandle(empty)

			err = TensorSetValue(h, []any{1.0, 0.0}, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TensorSetValue failed: %v", err)
			}
			tensor, _ := h.Tensor()
			if !tt.want(tensor) {
				t.Fatal("value was not written")
			}
		})
	}
}

func TestTensorSetValueOutOfBounds(t *testing.T) {
	h := mustHandle(t, "float32", []any{2.0, 3.0}, make([]byte, 24))
	if err := TensorSetValue(h, []any{2.0, 0.0}, 1.0); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if err := TensorSetValue(h, []any{0.0}, 1.0); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for short position, got %v", err)
	}
}

func TestTensorConcat(t *testing.T) {
	a := mustHandle(t, "uint8", []any{1.0, 2.0}, []byte{1, 2})
	b := mustHandle(t, "uint8", []any{1.0, 2.0}, []byte{3, 4})

	out, err := TensorConcat([]any{a, b}, 0.0)
	if err != nil {
		t.Fatalf("TensorConcat failed: %v", err)
	}
	shape, _ := TensorGetShape(out)
	data, _ := TensorGetData(out)
	if len(shape) != 2 || shape[0] != 2.0 || shape[1] != 2.0 || !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected result %v %v", shape, data)
	}

	if _, err := TensorConcat([]any{}, 0.0); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for empty input, got %v", err)
	}
	if _, err := TensorConcat([]any{a, "b"}, 0.0); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for non-tensor, got %v", err)
	}
	if _, err := TensorConcat([]*TensorHandle{a, b}, 2.0); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for axis out of range, got %v", err)
	}
}

func TestTensorSlice(t *testing.T) {
	vec := mustHandle(t, "int32", []any{4.0}, int32Bytes(10, 20, 30, 40))
	mat := mustHandle(t, "int32", []any{2.0, 3.0}, int32Bytes(1, 2, 3, 4, 5, 6))

	tests := []struct {
		name      string
		src       *TensorHandle
		slices    any
		wantShape []any
		want      []byte
		wantErr   bool
	}{
		{name: "pair", src: vec, slices: []any{[]any{1.0, 3.0}}, wantShape: []any{2.0}, want: int32Bytes(20, 30)},
		{name: "open end", src: vec, slices: []any{[]any{2.0}}, wantShape: []any{2.0}, want: int32Bytes(30, 40)},
		{name: "open start", src: vec, slices: []any{[]any{nil, 1.0}}, wantShape: []any{1.0}, want: int32Bytes(10)},
		{name: "index", src: vec, slices: []any{3.0}, wantShape: []any{1.0}, want: int32Bytes(40)},
		{name: "null axis", src: mat, slices: []any{nil, []any{1.0, 2.0}}, wantShape: []any{2.0, 1.0}, want: int32Bytes(2, 5)},
		{name: "missing axes", src: mat, slices: []any{1.0}, wantShape: []any{1.0, 3.0}, want: int32Bytes(4, 5, 6)},
		{name: "no slices", src: mat, slices: nil, wantShape: []any{2.0, 3.0}, want: int32Bytes(1, 2, 3, 4, 5, 6)},
		{name: "too many axes", src: vec, slices: []any{nil, nil}, wantErr: true},
		{name: "bad bound", src: vec, slices: []any{[]any{"1"}}, wantErr: true},
		{name: "three bounds", src: vec, slices: []any{[]any{0.0, 1.0, 2.0}}, wantErr: true},
		{name: "bad entry", src: vec, slices: []any{true}, wantErr: true},
		{name: "out of range", src: vec, slices: []any{[]any{0.0, 5.0}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := TensorSlice(tt.src, tt.slices)
			if tt.wantErr {
				if !errors.Is(err, et.ErrInvalidArgument) {
					t.Fatalf("expected InvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TensorSlice failed: %v", err)
			}
			shape, _ := TensorGetShape(out)
			if len(shape) != len(tt.wantShape) {
				t.Fatalf("expected shape %v, got %v", tt.wantShape, shape)
			}
			for i := range shape {
				if shape[i] != tt.wantShape[i] {
					t.Fatalf("expected shape %v, got %v", tt.wantShape, shape)
				}
			}
			data, _ := TensorGetData(out)
			if !bytes.Equal(data, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, data)
			}
		})
	}
}

func TestTensorReshape(t *testing.T) {
	h := mustHandle(t, "int32", []any{2.0, 3.0}, int32Bytes(1, 2, 3, 4, 5, 6))
	out, err := TensorReshape(h, []any{3.0, 2.0})
	if err != nil {
		t.Fatalf("TensorReshape failed: %v", err)
	}
	shape, _ := TensorGetShape(out)
	if shape[0] != 3.0 || shape[1] != 2.0 {
		t.Fatalf("unexpected shape %v", shape)
	}
	if _, err := TensorReshape(h, []any{4.0}); !errors.Is(err, et.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
