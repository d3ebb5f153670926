package binding

import (
	"context"

	"github.com/amikos-tech/pure-executorch/et"
)

// ModuleLoad loads a model asynchronously. A caller that stops waiting should
// use et.WaitOrClose so the handle is disposed once it arrives.
func ModuleLoad(ctx context.Context, path string, opts ...et.Option) *et.Future[*ModuleHandle] {
	return et.Then(et.Load(ctx, path, opts...), func(m *et.Module) (*ModuleHandle, error) {
		return &ModuleHandle{module: m}, nil
	})
}

// ModuleLoadMethod loads a method asynchronously.
func ModuleLoadMethod(ctx context.Context, h *ModuleHandle, method string) *et.Future[struct{}] {
	m, err := h.get()
	if err != nil {
		return et.Failed[struct{}](err)
	}
	return m.LoadMethod(ctx, method)
}

// ModuleExecute decodes inputs, runs method asynchronously and encodes its outputs.
//
// Decoding happens before dispatch, so malformed inputs are rejected without
// touching the engine. Decoded inputs live only for this call.
func ModuleExecute(ctx context.Context, h *ModuleHandle, method string, inputs []any) *et.Future[[]any] {
	m, err := h.get()
	if err != nil {
		return et.Failed[[]any](err)
	}
	values, err := DecodeValues(inputs)
	if err != nil {
		return et.Failed[[]any](err)
	}

	pending := m.Execute(ctx, method, values)
	return et.Go(func() ([]any, error) {
		outputs, err := pending.Result()
		_ = et.DestroyValues(values...)
		if err != nil {
			return nil, err
		}
		encoded, err := EncodeValues(outputs)
		if err != nil {
			_ = et.DestroyValues(outputs...)
			return nil, err
		}
		return encoded, nil
	})
}

// ModuleForward is ModuleExecute for the "forward" method.
func ModuleForward(ctx context.Context, h *ModuleHandle, inputs []any) *et.Future[[]any] {
	return ModuleExecute(ctx, h, et.ForwardMethod, inputs)
}

// ModuleGetMethodMeta returns the encoded metadata of method.
func ModuleGetMethodMeta(h *ModuleHandle, method string) (map[string]any, error) {
	m, err := h.get()
	if err != nil {
		return nil, err
	}
	meta, err := m.MethodMeta(method)
	if err != nil {
		return nil, err
	}
	return EncodeMethodMeta(meta), nil
}

// ModuleMethodNames lists every method of the model.
func ModuleMethodNames(h *ModuleHandle) ([]any, error) {
	m, err := h.get()
	if err != nil {
		return nil, err
	}
	names, err := m.MethodNames()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

// ModuleHasMethod reports whether the model defines method.
func ModuleHasMethod(h *ModuleHandle, method string) (bool, error) {
	m, err := h.get()
	if err != nil {
		return false, err
	}
	return m.HasMethod(method), nil
}

// ModuleDispose releases the handle. Disposing twice is a no-op.
func ModuleDispose(h *ModuleHandle) error {
	return h.Close()
}
