package binding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/amikos-tech/pure-executorch/et"
)

// Wrapper keys used by the JSON form of host values for types JSON lacks.
const (
	jsonBigIntKey = "$bigint"
	jsonBytesKey  = "$bytes"
	jsonTensorKey = "$tensor"
)

// MarshalHostValue serializes a host value for an out-of-process host.
// Big integers travel as decimal strings, byte buffers as base64 and tensors
// as {dtype, shape, data} snapshots.
func MarshalHostValue(v any) ([]byte, error) {
	wire, err := toWire(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// UnmarshalHostValue is the inverse of MarshalHostValue. Tensors are recreated
// as new handles owned by the caller.
func UnmarshalHostValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var wire any
	if err := dec.Decode(&wire); err != nil {
		return nil, hostError(et.ErrorCodeInvalidArgument, "invalid host value JSON: %v", err)
	}
	return fromWire(wire)
}

func toWire(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, float64, string:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case *big.Int:
		if v == nil {
			return nil, nil
		}
		return map[string]any{jsonBigIntKey: v.String()}, nil
	case []byte:
		return map[string]any{jsonBytesKey: base64.StdEncoding.EncodeToString(v)}, nil
	case *TensorHandle:
		t, err := v.Tensor()
		if err != nil {
			return nil, err
		}
		data, err := t.Bytes()
		if err != nil {
			return nil, err
		}
		return map[string]any{jsonTensorKey: map[string]any{
			"dtype": float64(t.Dtype()),
			"shape": hostIntArray(t.Shape()),
			"data":  base64.StdEncoding.EncodeToString(data),
		}}, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			w, err := toWire(item)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			w, err := toWire(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = w
		}
		return out, nil
	default:
		return nil, hostError(et.ErrorCodeInvalidType, "cannot serialize host value of type %T", v)
	}
}

func fromWire(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, hostError(et.ErrorCodeInvalidArgument, "invalid number %s", v)
		}
		return f, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			h, err := fromWire(item)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	case map[string]any:
		if len(v) == 1 {
			if raw, ok := v[jsonBigIntKey].(string); ok {
				n, ok := new(big.Int).SetString(raw, 10)
				if !ok {
					return nil, hostError(et.ErrorCodeInvalidArgument, "invalid big integer %q", raw)
				}
				return n, nil
			}
			if raw, ok := v[jsonBytesKey].(string); ok {
				b, err := base64.StdEncoding.DecodeString(raw)
				if err != nil {
					return nil, hostError(et.ErrorCodeInvalidArgument, "invalid byte buffer: %v", err)
				}
				return b, nil
			}
			if raw, ok := v[jsonTensorKey].(map[string]any); ok {
				return tensorFromWire(raw)
			}
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			h, err := fromWire(item)
			if err != nil {
				return nil, err
			}
			out[k] = h
		}
		return out, nil
	default:
		return v, nil
	}
}

func tensorFromWire(raw map[string]any) (*TensorHandle, error) {
	dtype, err := fromWire(raw["dtype"])
	if err != nil {
		return nil, err
	}
	shape, err := fromWire(raw["shape"])
	if err != nil {
		return nil, err
	}
	encoded, ok := raw["data"].(string)
	if !ok {
		return nil, hostError(et.ErrorCodeInvalidArgument, "tensor data must be a base64 string")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, hostError(et.ErrorCodeInvalidArgument, "invalid tensor data: %v", err)
	}
	return CreateTensor(dtype, shape, data)
}
