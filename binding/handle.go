// Package binding is the host-facing surface of the runtime. Host values use a
// generic encoding: nil, bool, float64, string, *big.Int, []byte, []any,
// map[string]any and the opaque handle types of this package.
package binding

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/amikos-tech/pure-executorch/et"
)

// TensorHandle is the host-side owner of one tensor.
type TensorHandle struct {
	mu     sync.Mutex
	tensor *et.Tensor
}

func newTensorHandle(t *et.Tensor) *TensorHandle {
	return &TensorHandle{tensor: t}
}

// Tensor returns the tensor behind h for Go callers. It fails once h is disposed.
func (h *TensorHandle) Tensor() (*et.Tensor, error) {
	if h == nil {
		return nil, hostError(et.ErrorCodeInvalidArgument, "tensor handle is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tensor == nil {
		return nil, hostError(et.ErrorCodeInvalidState, "tensor handle has been disposed")
	}
	return h.tensor, nil
}

// dispose destroys the tensor. It is idempotent.
func (h *TensorHandle) dispose() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	t := h.tensor
	h.tensor = nil
	h.mu.Unlock()
	return t.Destroy()
}

// ModuleHandle is the host-side owner of one model handle.
type ModuleHandle struct {
	mu     sync.Mutex
	module *et.Module
}

func (h *ModuleHandle) get() (*et.Module, error) {
	if h == nil {
		return nil, hostError(et.ErrorCodeInvalidArgument, "module handle is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.module == nil {
		return nil, hostError(et.ErrorCodeInvalidState, "module handle has been disposed")
	}
	return h.module, nil
}

// Close disposes the handle; it is ModuleDispose for Go callers.
func (h *ModuleHandle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	m := h.module
	h.module = nil
	h.mu.Unlock()
	return m.Close()
}

func hostError(code et.ErrorCode, format string, args ...any) error {
	return &et.Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// hostInt reads an integral host number. Host numbers arrive as float64, big
// integers as *big.Int; Go callers may also pass int or int64.
func hostInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case *big.Int:
		if n == nil || !n.IsInt64() {
			return 0, false
		}
		return n.Int64(), true
	default:
		return 0, false
	}
}

// hostIntList reads an array of integral host numbers.
func hostIntList(v any, what string) ([]int64, error) {
	switch list := v.(type) {
	case []int64:
		return append([]int64(nil), list...), nil
	case []any:
		out := make([]int64, len(list))
		for i, item := range list {
			n, ok := hostInt(item)
			if !ok {
				return nil, hostError(et.ErrorCodeInvalidArgument, "%s[%d] is not an integer: %v", what, i, item)
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, hostError(et.ErrorCodeInvalidArgument, "%s must be an array of integers, got %T", what, v)
	}
}

func hostIntArray(values []int64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
