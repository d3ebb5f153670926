package et

import (
	"fmt"
	"strings"
)

// ScalarType identifies the binary representation of a tensor element.
// Codes follow the engine's scalar type enumeration.
type ScalarType int32

const (
	UInt8          ScalarType = 0
	Int8           ScalarType = 1
	Int16          ScalarType = 2
	Int32          ScalarType = 3
	Int64          ScalarType = 4
	Float16        ScalarType = 5
	Float32        ScalarType = 6
	Float64        ScalarType = 7
	ComplexFloat16 ScalarType = 8
	ComplexFloat32 ScalarType = 9
	ComplexFloat64 ScalarType = 10
	Boolean        ScalarType = 11
	QInt8          ScalarType = 12
	QUInt8         ScalarType = 13
	QInt32         ScalarType = 14
	BFloat16       ScalarType = 15
	QUInt4x2       ScalarType = 16
	QUInt2x4       ScalarType = 17
	Bits1x8        ScalarType = 18
	Bits2x4        ScalarType = 19
	Bits4x2        ScalarType = 20
	Bits8          ScalarType = 21
	Bits16         ScalarType = 22
)

var scalarTypeNames = [...]string{
	UInt8:          "uint8",
	Int8:           "int8",
	Int16:          "int16",
	Int32:          "int32",
	Int64:          "int64",
	Float16:        "float16",
	Float32:        "float32",
	Float64:        "float64",
	ComplexFloat16: "complex32",
	ComplexFloat32: "complex64",
	ComplexFloat64: "complex128",
	Boolean:        "bool",
	QInt8:          "qint8",
	QUInt8:         "quint8",
	QInt32:         "qint32",
	BFloat16:       "bfloat16",
	QUInt4x2:       "quint4x2",
	QUInt2x4:       "quint2x4",
	Bits1x8:        "bits1x8",
	Bits2x4:        "bits2x4",
	Bits4x2:        "bits4x2",
	Bits8:          "bits8",
	Bits16:         "bits16",
}

// ScalarTypeFromCode validates an engine scalar type code.
func ScalarTypeFromCode(code int32) (ScalarType, error) {
	if code < 0 || int(code) >= len(scalarTypeNames) {
		return 0, invalidType("unknown scalar type code %d", code)
	}
	return ScalarType(code), nil
}

// ParseScalarType resolves a scalar type by its lowercase name, for example "float32".
func ParseScalarType(name string) (ScalarType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for code, candidate := range scalarTypeNames {
		if candidate == name {
			return ScalarType(code), nil
		}
	}
	return 0, invalidType("unknown scalar type %q", name)
}

// ByteWidth returns the element size in bytes.
// Packed, quantized and complex variants have no direct host representation and return 0;
// callers must reject them before doing buffer arithmetic.
func (s ScalarType) ByteWidth() int {
	switch s {
	case UInt8, Int8, Boolean:
		return 1
	case Int16, Float16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Supported reports whether tensors of this type can be created and manipulated.
func (s ScalarType) Supported() bool {
	return s.ByteWidth() > 0
}

func (s ScalarType) String() string {
	if s >= 0 && int(s) < len(scalarTypeNames) {
		return scalarTypeNames[s]
	}
	return fmt.Sprintf("ScalarType(%d)", int32(s))
}
