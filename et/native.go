package et

import (
	"fmt"
	"runtime"
	"sync"
)

// nativeEngine drives the engine shim library through purego.
type nativeEngine struct {
	api    *nativeAPI
	handle uintptr
	// release drops the environment reference taken at construction.
	release func() error

	namesOnce sync.Once
	names     []string
	namesCode ErrorCode
}

var _ Engine = (*nativeEngine)(nil)

func newNativeEngine() (Engine, error) {
	bound, err := acquireAPI()
	if err != nil {
		return nil, err
	}
	return &nativeEngine{api: bound, release: DestroyEnvironment}, nil
}

func (e *nativeEngine) Load(path string) ErrorCode {
	if e.handle != 0 {
		return ErrorCodeInvalidState
	}
	pathBytes, pathPtr := GoToCstring(path)
	var handle uintptr
	code := ErrorCodeFromInt(e.api.moduleLoad(pathPtr, &handle))
	runtime.KeepAlive(pathBytes)
	if code != ErrorCodeOK {
		return code
	}
	if handle == 0 {
		return ErrorCodeInternal
	}
	e.handle = handle
	return ErrorCodeOK
}

func (e *nativeEngine) LoadMethod(name string) ErrorCode {
	if e.handle == 0 {
		return ErrorCodeInvalidState
	}
	nameBytes, namePtr := GoToCstring(name)
	code := e.api.moduleLoadMethod(e.handle, namePtr)
	runtime.KeepAlive(nameBytes)
	return ErrorCodeFromInt(code)
}

func (e *nativeEngine) loadNames() {
	var count uint64
	e.namesCode = ErrorCodeFromInt(e.api.methodCount(e.handle, &count))
	if e.namesCode != ErrorCodeOK {
		return
	}
	e.names = make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		e.names = append(e.names, CstringToGo(e.api.methodName(e.handle, i)))
	}
}

func (e *nativeEngine) MethodNames() []string {
	if e.handle == 0 {
		return nil
	}
	e.namesOnce.Do(e.loadNames)
	return append([]string(nil), e.names...)
}

func (e *nativeEngine) HasMethod(name string) bool {
	for _, n := range e.MethodNames() {
		if n == name {
			return true
		}
	}
	return false
}

func (e *nativeEngine) MethodMeta(name string) (*MethodMeta, ErrorCode) {
	if e.handle == 0 {
		return nil, ErrorCodeInvalidState
	}
	nameBytes, namePtr := GoToCstring(name)
	var meta uintptr
	code := ErrorCodeFromInt(e.api.methodMeta(e.handle, namePtr, &meta))
	runtime.KeepAlive(nameBytes)
	if code != ErrorCodeOK {
		return nil, code
	}
	defer e.api.metaRelease(meta)

	inputs, err := e.readSpecs(meta, 0)
	if err != nil {
		return nil, CodeOf(err)
	}
	outputs, err := e.readSpecs(meta, 1)
	if err != nil {
		return nil, CodeOf(err)
	}
	return NewMethodMeta(name, inputs, outputs), ErrorCodeOK
}

func (e *nativeEngine) readSpecs(meta uintptr, output int32) ([]ValueSpec, error) {
	count := e.api.metaCount(meta, output)
	specs := make([]ValueSpec, count)
	for i := uint64(0); i < count; i++ {
		var rawTag int32
		if code := ErrorCodeFromInt(e.api.metaTag(meta, output, i, &rawTag)); code != ErrorCodeOK {
			return nil, code.Err("method_meta")
		}
		tag, err := TagFromCode(int64(rawTag))
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		specs[i].Tag = tag
		if tag != TagTensor {
			continue
		}

		var rawDtype int32
		var shapePtr uintptr
		var rank uint64
		if code := ErrorCodeFromInt(e.api.metaTensorInfo(meta, output, i, &rawDtype, &shapePtr, &rank)); code != ErrorCodeOK {
			return nil, code.Err("method_meta")
		}
		dtype, err := ScalarTypeFromCode(rawDtype)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		shape := make(Shape, rank)
		copy(shape, nativeSlice[int64](shapePtr, rank))
		specs[i].TensorInfo = &TensorInfo{Dtype: dtype, Shape: shape}
	}
	return specs, nil
}

func (e *nativeEngine) Execute(name string, inputs []Value) ([]Value, ErrorCode) {
	if e.handle == 0 {
		return nil, ErrorCodeInvalidState
	}
	arena, inputsPtr, err := encodeInputs(inputs)
	if err != nil {
		return nil, CodeOf(err)
	}
	defer arena.unpin()

	nameBytes, namePtr := GoToCstring(name)
	var outPtr uintptr
	var outCount uint64
	code := ErrorCodeFromInt(e.api.execute(e.handle, namePtr, inputsPtr, uint64(len(inputs)), &outPtr, &outCount))
	runtime.KeepAlive(nameBytes)
	runtime.KeepAlive(arena)
	if outPtr != 0 {
		defer e.api.valueRelease(outPtr, outCount)
	}
	if code != ErrorCodeOK {
		return nil, code
	}

	outputs, err := decodeOutputs(outPtr, outCount)
	if err != nil {
		return nil, CodeOf(err)
	}
	return outputs, ErrorCodeOK
}

// Close releases the loaded model and the environment reference. It is idempotent.
func (e *nativeEngine) Close() error {
	if e.handle != 0 {
		e.api.moduleRelease(e.handle)
		e.handle = 0
	}
	if e.release == nil {
		return nil
	}
	release := e.release
	e.release = nil
	return release()
}
