package et

import "fmt"

// TensorInfo is the declared dtype and shape of a tensor input or output.
type TensorInfo struct {
	Dtype ScalarType
	Shape Shape
}

// ValueSpec describes one input or output slot of a method.
// TensorInfo is set only when Tag is TagTensor.
type ValueSpec struct {
	Tag        Tag
	TensorInfo *TensorInfo
}

// MethodMeta is a read-only snapshot of a method's declared signature.
type MethodMeta struct {
	name    string
	inputs  []ValueSpec
	outputs []ValueSpec
}

// NewMethodMeta builds a snapshot. Engines use it to report metadata; the slices are copied.
func NewMethodMeta(name string, inputs, outputs []ValueSpec) *MethodMeta {
	return &MethodMeta{
		name:    name,
		inputs:  cloneSpecs(inputs),
		outputs: cloneSpecs(outputs),
	}
}

func cloneSpecs(specs []ValueSpec) []ValueSpec {
	out := make([]ValueSpec, len(specs))
	for i, s := range specs {
		out[i].Tag = s.Tag
		if s.TensorInfo != nil {
			out[i].TensorInfo = &TensorInfo{Dtype: s.TensorInfo.Dtype, Shape: cloneShape(s.TensorInfo.Shape)}
		}
	}
	return out
}

func (m *MethodMeta) Name() string    { return m.name }
func (m *MethodMeta) NumInputs() int  { return len(m.inputs) }
func (m *MethodMeta) NumOutputs() int { return len(m.outputs) }

// InputTag returns the tag of input i. Indexing past NumInputs is a caller bug and panics.
func (m *MethodMeta) InputTag(i int) Tag {
	if i < 0 || i >= len(m.inputs) {
		panic(fmt.Sprintf("et: input index %d out of range for method %q with %d inputs", i, m.name, len(m.inputs)))
	}
	return m.inputs[i].Tag
}

// OutputTag returns the tag of output i. Indexing past NumOutputs is a caller bug and panics.
func (m *MethodMeta) OutputTag(i int) Tag {
	if i < 0 || i >= len(m.outputs) {
		panic(fmt.Sprintf("et: output index %d out of range for method %q with %d outputs", i, m.name, len(m.outputs)))
	}
	return m.outputs[i].Tag
}

// InputTensorInfo returns the declared tensor info of input i.
// It fails with InvalidArgument when the input is not a tensor.
func (m *MethodMeta) InputTensorInfo(i int) (TensorInfo, error) {
	return tensorInfo(m.name, "input", m.inputs, i, m.InputTag(i))
}

// OutputTensorInfo returns the declared tensor info of output i.
func (m *MethodMeta) OutputTensorInfo(i int) (TensorInfo, error) {
	return tensorInfo(m.name, "output", m.outputs, i, m.OutputTag(i))
}

func tensorInfo(method, kind string, specs []ValueSpec, i int, tag Tag) (TensorInfo, error) {
	if tag != TagTensor || specs[i].TensorInfo == nil {
		return TensorInfo{}, invalidArgument("%s %d of method %q is %s, not a tensor", kind, i, method, tag)
	}
	info := specs[i].TensorInfo
	return TensorInfo{Dtype: info.Dtype, Shape: cloneShape(info.Shape)}, nil
}

// Inputs returns a copy of the input specs.
func (m *MethodMeta) Inputs() []ValueSpec { return cloneSpecs(m.inputs) }

// Outputs returns a copy of the output specs.
func (m *MethodMeta) Outputs() []ValueSpec { return cloneSpecs(m.outputs) }
