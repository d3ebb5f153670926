package et

import (
	"fmt"

	"github.com/amikos-tech/pure-executorch/internal/destroy"
)

// Tag is the numeric discriminant of a Value as exchanged with the engine and the host.
type Tag int32

const (
	TagNone               Tag = 0
	TagTensor             Tag = 1
	TagString             Tag = 2
	TagDouble             Tag = 3
	TagInt                Tag = 4
	TagBool               Tag = 5
	TagListBool           Tag = 6
	TagListDouble         Tag = 7
	TagListInt            Tag = 8
	TagListTensor         Tag = 9
	TagListScalar         Tag = 10
	TagListOptionalTensor Tag = 11
)

var tagNames = [...]string{
	TagNone:               "None",
	TagTensor:             "Tensor",
	TagString:             "String",
	TagDouble:             "Double",
	TagInt:                "Int",
	TagBool:               "Bool",
	TagListBool:           "ListBool",
	TagListDouble:         "ListDouble",
	TagListInt:            "ListInt",
	TagListTensor:         "ListTensor",
	TagListScalar:         "ListScalar",
	TagListOptionalTensor: "ListOptionalTensor",
}

// TagFromCode validates a raw tag code.
func TagFromCode(code int64) (Tag, error) {
	if code < 0 || code >= int64(len(tagNames)) {
		return 0, invalidArgument("unrecognized value tag %d", code)
	}
	return Tag(code), nil
}

func (t Tag) String() string {
	if t >= 0 && int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", int32(t))
}

// Value is the closed set of method inputs and outputs. The tag of a value is
// always derived from its concrete type; no other package can add variants.
type Value interface {
	Tag() Tag
	isValue()
}

type (
	// None is the empty value; freshly allocated output slots hold it.
	None struct{}
	// String is owned text.
	String string
	// Double is a 64-bit float.
	Double float64
	// Int is a 64-bit signed integer.
	Int int64
	// Bool is a boolean.
	Bool bool
	// BoolList is a sequence of booleans.
	BoolList []bool
	// DoubleList is a sequence of 64-bit floats.
	DoubleList []float64
	// IntList is a sequence of 64-bit integers.
	IntList []int64
	// TensorList is a sequence of tensors.
	TensorList []*Tensor
	// ScalarList is a sequence of scalars; each element is a Double, Int or Bool.
	ScalarList []Scalar
	// OptionalTensorList is a sequence of tensors where nil marks an absent entry.
	OptionalTensorList []*Tensor
)

// Scalar is a Double, Int or Bool.
type Scalar interface {
	Value
	isScalar()
}

func (None) Tag() Tag               { return TagNone }
func (String) Tag() Tag             { return TagString }
func (Double) Tag() Tag             { return TagDouble }
func (Int) Tag() Tag                { return TagInt }
func (Bool) Tag() Tag               { return TagBool }
func (BoolList) Tag() Tag           { return TagListBool }
func (DoubleList) Tag() Tag         { return TagListDouble }
func (IntList) Tag() Tag            { return TagListInt }
func (TensorList) Tag() Tag         { return TagListTensor }
func (ScalarList) Tag() Tag         { return TagListScalar }
func (OptionalTensorList) Tag() Tag { return TagListOptionalTensor }

func (None) isValue()               {}
func (String) isValue()             {}
func (Double) isValue()             {}
func (Int) isValue()                {}
func (Bool) isValue()               {}
func (BoolList) isValue()           {}
func (DoubleList) isValue()         {}
func (IntList) isValue()            {}
func (TensorList) isValue()         {}
func (ScalarList) isValue()         {}
func (OptionalTensorList) isValue() {}

func (Double) isScalar() {}
func (Int) isScalar()    {}
func (Bool) isScalar()   {}

// NoneValues returns n None slots.
func NoneValues(n int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = None{}
	}
	return out
}

// DestroyValues releases every tensor carried by values. Nil entries are skipped.
func DestroyValues(values ...Value) error {
	var resources []destroy.Destroyer
	for _, v := range values {
		switch v := v.(type) {
		case *Tensor:
			resources = append(resources, v)
		case TensorList:
			for _, t := range v {
				resources = append(resources, t)
			}
		case OptionalTensorList:
			for _, t := range v {
				resources = append(resources, t)
			}
		}
	}
	return destroy.All(resources...)
}
