package et

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ebitengine/purego"
)

// LibraryPathEnv names the environment variable consulted when no library path was set.
const LibraryPathEnv = "EXECUTORCH_LIB_PATH"

var (
	mu       sync.Mutex
	refCount int
	etLib    uintptr
	libPath  string
	api      *nativeAPI
)

// nativeAPI holds the engine shim's C entry points.
type nativeAPI struct {
	version          func() uintptr
	moduleLoad       func(path uintptr, out *uintptr) int32
	moduleRelease    func(module uintptr)
	moduleLoadMethod func(module uintptr, name uintptr) int32
	methodCount      func(module uintptr, out *uint64) int32
	methodName       func(module uintptr, index uint64) uintptr
	methodMeta       func(module uintptr, name uintptr, out *uintptr) int32
	metaRelease      func(meta uintptr)
	metaCount        func(meta uintptr, output int32) uint64
	metaTag          func(meta uintptr, output int32, index uint64, out *int32) int32
	metaTensorInfo   func(meta uintptr, output int32, index uint64, dtype *int32, shape *uintptr, rank *uint64) int32
	execute          func(module uintptr, name uintptr, inputs uintptr, numInputs uint64, outputs *uintptr, numOutputs *uint64) int32
	valueRelease     func(values uintptr, count uint64)
}

func (a *nativeAPI) symbols() []struct {
	name string
	fptr any
} {
	return []struct {
		name string
		fptr any
	}{
		{"et_version", &a.version},
		{"et_module_load", &a.moduleLoad},
		{"et_module_release", &a.moduleRelease},
		{"et_module_load_method", &a.moduleLoadMethod},
		{"et_module_method_count", &a.methodCount},
		{"et_module_method_name", &a.methodName},
		{"et_module_method_meta", &a.methodMeta},
		{"et_meta_release", &a.metaRelease},
		{"et_meta_count", &a.metaCount},
		{"et_meta_tag", &a.metaTag},
		{"et_meta_tensor_info", &a.metaTensorInfo},
		{"et_module_execute", &a.execute},
		{"et_value_release", &a.valueRelease},
	}
}

// SetSharedLibraryPath sets the path of the engine shim library.
// It must be called before InitializeEnvironment.
func SetSharedLibraryPath(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if refCount > 0 {
		return fmt.Errorf("cannot change library path after the environment is initialized")
	}
	libPath = path
	return nil
}

// InitializeEnvironment loads the engine shim library and binds its entry points.
// Calls are reference counted; each successful call must be paired with DestroyEnvironment.
func InitializeEnvironment() error {
	mu.Lock()
	defer mu.Unlock()

	if refCount > 0 {
		refCount++
		return nil
	}

	path := libPath
	if path == "" {
		path = os.Getenv(LibraryPathEnv)
	}
	if path == "" {
		return fmt.Errorf("engine library path not set: call SetSharedLibraryPath or set %s", LibraryPathEnv)
	}

	lib, err := loadLibrary(path)
	if err != nil {
		return fmt.Errorf("failed to load engine library %q: %w", path, err)
	}
	if lib == 0 {
		return fmt.Errorf("failed to load engine library %q", path)
	}

	bound := &nativeAPI{}
	for _, sym := range bound.symbols() {
		addr, err := getSymbol(lib, sym.name)
		if err != nil || addr == 0 {
			closeErr := closeLibrary(lib)
			return errors.Join(fmt.Errorf("failed to resolve %s in %q: %w", sym.name, path, err), closeErr)
		}
		purego.RegisterFunc(sym.fptr, addr)
	}

	etLib = lib
	api = bound
	libPath = path
	refCount = 1
	return nil
}

// DestroyEnvironment drops one reference. The library is unloaded with the last one.
func DestroyEnvironment() error {
	mu.Lock()
	defer mu.Unlock()

	if refCount == 0 {
		return nil
	}
	refCount--
	if refCount > 0 {
		return nil
	}

	api = nil
	lib := etLib
	etLib = 0
	if err := closeLibrary(lib); err != nil {
		return fmt.Errorf("failed to unload engine library: %w", err)
	}
	return nil
}

// IsInitialized reports whether the engine library is loaded.
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return refCount > 0
}

// GetVersionString returns the engine version, or an empty string before initialization.
func GetVersionString() string {
	mu.Lock()
	defer mu.Unlock()
	if api == nil || api.version == nil {
		return ""
	}
	return CstringToGo(api.version())
}

// acquireAPI takes an environment reference and returns the bound entry points.
func acquireAPI() (*nativeAPI, error) {
	if err := InitializeEnvironment(); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return api, nil
}
