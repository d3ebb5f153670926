package binding

import (
	"fmt"
	"math/big"

	"github.com/amikos-tech/pure-executorch/et"
)

// Host object keys of an encoded value.
const (
	TagKey  = "tag"
	DataKey = "data"
)

// EncodeValue converts v into a host object {tag, data}.
//
// Tensors become TensorHandles that take ownership of the tensor; a tensor that
// appears more than once gets a cloned buffer for every later handle. Ints are
// carried as *big.Int so no precision is lost above 2^53.
func EncodeValue(v et.Value) (map[string]any, error) {
	return newEncoder().encode(v)
}

// encoder hands each tensor to exactly one TensorHandle. A tensor met again
// is cloned so that disposing one handle never frees another's buffer.
type encoder struct {
	owned map[*et.Tensor]bool
}

func newEncoder() *encoder {
	return &encoder{owned: make(map[*et.Tensor]bool)}
}

func (e *encoder) handle(t *et.Tensor) (*TensorHandle, error) {
	if t == nil || !e.owned[t] {
		if t != nil {
			e.owned[t] = true
		}
		return newTensorHandle(t), nil
	}
	c, err := t.Clone()
	if err != nil {
		return nil, err
	}
	return newTensorHandle(c), nil
}

func (e *encoder) encode(v et.Value) (map[string]any, error) {
	if v == nil {
		v = et.None{}
	}
	data, err := e.payload(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		TagKey:  float64(v.Tag()),
		DataKey: data,
	}, nil
}

func (e *encoder) payload(v et.Value) (any, error) {
	switch v := v.(type) {
	case et.None:
		return nil, nil
	case *et.Tensor:
		return e.handle(v)
	case et.String:
		return string(v), nil
	case et.Double:
		return float64(v), nil
	case et.Int:
		return big.NewInt(int64(v)), nil
	case et.Bool:
		return bool(v), nil
	case et.BoolList:
		out := make([]any, len(v))
		for i, b := range v {
			out[i] = b
		}
		return out, nil
	case et.DoubleList:
		out := make([]any, len(v))
		for i, d := range v {
			out[i] = d
		}
		return out, nil
	case et.IntList:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = big.NewInt(n)
		}
		return out, nil
	case et.TensorList:
		out := make([]any, len(v))
		for i, t := range v {
			h, err := e.handle(t)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	case et.OptionalTensorList:
		out := make([]any, len(v))
		for i, t := range v {
			if t != nil {
				h, err := e.handle(t)
				if err != nil {
					return nil, err
				}
				out[i] = h
			}
		}
		return out, nil
	case et.ScalarList:
		out := make([]any, len(v))
		for i, s := range v {
			encoded, err := e.encode(s)
			if err != nil {
				return nil, err
			}
			out[i] = encoded
		}
		return out, nil
	default:
		return nil, hostError(et.ErrorCodeInvalidType, "cannot encode value of type %T", v)
	}
}

// DecodeValue converts a host object {tag, data} into a Value.
//
// The tag is read first and decides the only payload type accepted; nothing is
// coerced. A tensor payload is cloned, so the decoded value owns its tensor and
// the host handle stays usable.
func DecodeValue(host any) (et.Value, error) {
	obj, ok := host.(map[string]any)
	if !ok {
		return nil, hostError(et.ErrorCodeInvalidArgument, "value must be an object, got %T", host)
	}
	rawTag, ok := obj[TagKey]
	if !ok {
		return nil, hostError(et.ErrorCodeInvalidArgument, "value has no %q field", TagKey)
	}
	code, ok := hostInt(rawTag)
	if !ok {
		return nil, hostError(et.ErrorCodeInvalidArgument, "value tag must be an integer, got %v", rawTag)
	}
	tag, err := et.TagFromCode(code)
	if err != nil {
		return nil, err
	}
	data := obj[DataKey]

	mismatch := func() error {
		return hostError(et.ErrorCodeInvalidArgument, "payload %T does not match tag %s", data, tag)
	}

	switch tag {
	case et.TagNone:
		if data != nil {
			return nil, mismatch()
		}
		return et.None{}, nil
	case et.TagTensor:
		h, ok := data.(*TensorHandle)
		if !ok {
			return nil, mismatch()
		}
		t, err := h.Tensor()
		if err != nil {
			return nil, err
		}
		return t.Clone()
	case et.TagString:
		s, ok := data.(string)
		if !ok {
			return nil, mismatch()
		}
		return et.String(s), nil
	case et.TagDouble:
		d, ok := data.(float64)
		if !ok {
			return nil, mismatch()
		}
		return et.Double(d), nil
	case et.TagInt:
		n, ok := data.(*big.Int)
		if !ok || n == nil {
			return nil, mismatch()
		}
		if !n.IsInt64() {
			return nil, hostError(et.ErrorCodeInvalidArgument, "integer %s does not fit in 64 bits", n)
		}
		return et.Int(n.Int64()), nil
	case et.TagBool:
		b, ok := data.(bool)
		if !ok {
			return nil, mismatch()
		}
		return et.Bool(b), nil
	case et.TagListBool:
		items, ok := data.([]any)
		if !ok {
			return nil, mismatch()
		}
		out := make(et.BoolList, len(items))
		for i, item := range items {
			if out[i], ok = item.(bool); !ok {
				return nil, hostError(et.ErrorCodeInvalidArgument, "element %d of %s is %T, not bool", i, tag, item)
			}
		}
		return out, nil
	case et.TagListDouble:
		items, ok := data.([]any)
		if !ok {
			return nil, mismatch()
		}
		out := make(et.DoubleList, len(items))
		for i, item := range items {
			if out[i], ok = item.(float64); !ok {
				return nil, hostError(et.ErrorCodeInvalidArgument, "element %d of %s is %T, not a number", i, tag, item)
			}
		}
		return out, nil
	case et.TagListInt:
		items, ok := data.([]any)
		if !ok {
			return nil, mismatch()
		}
		out := make(et.IntList, len(items))
		for i, item := range items {
			n, ok := item.(*big.Int)
			if !ok || n == nil || !n.IsInt64() {
				return nil, hostError(et.ErrorCodeInvalidArgument, "element %d of %s is not a 64-bit big integer", i, tag)
			}
			out[i] = n.Int64()
		}
		return out, nil
	default:
		return nil, hostError(et.ErrorCodeNotSupported, "decoding %s values is not supported", tag)
	}
}

// DecodeValues decodes every host value, releasing what was decoded if one fails.
func DecodeValues(hosts []any) ([]et.Value, error) {
	out := make([]et.Value, 0, len(hosts))
	for i, h := range hosts {
		v, err := DecodeValue(h)
		if err != nil {
			_ = et.DestroyValues(out...)
			return nil, &et.Error{Code: et.CodeOf(err), Op: "decode", Msg: fmt.Sprintf("argument %d: %v", i, err)}
		}
		out = append(out, v)
	}
	return out, nil
}

// EncodeValues encodes every value. On failure nothing is returned and the
// values stay owned by the caller.
func EncodeValues(values []et.Value) ([]any, error) {
	e := newEncoder()
	out := make([]any, len(values))
	for i, v := range values {
		encoded, err := e.encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = encoded
	}
	return out, nil
}

// EncodeTensorInfo converts declared tensor metadata to {dtype, shape}.
func EncodeTensorInfo(info et.TensorInfo) map[string]any {
	return map[string]any{
		"dtype": float64(info.Dtype),
		"shape": hostIntArray(info.Shape),
	}
}

// EncodeMethodMeta converts method metadata to
// {name, inputs: [{tag, tensor_info?}], outputs: [...]}.
func EncodeMethodMeta(meta *et.MethodMeta) map[string]any {
	encodeSpecs := func(specs []et.ValueSpec) []any {
		out := make([]any, len(specs))
		for i, s := range specs {
			entry := map[string]any{TagKey: float64(s.Tag)}
			if s.Tag == et.TagTensor && s.TensorInfo != nil {
				entry["tensor_info"] = EncodeTensorInfo(*s.TensorInfo)
			}
			out[i] = entry
		}
		return out
	}
	return map[string]any{
		"name":    meta.Name(),
		"inputs":  encodeSpecs(meta.Inputs()),
		"outputs": encodeSpecs(meta.Outputs()),
	}
}
