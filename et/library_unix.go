//go:build !windows

package et

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// DefaultLibraryName is the shim file name looked up when only a directory is known.
const DefaultLibraryName = "libexecutorch_shim.so"

func loadLibrary(path string) (uintptr, error) {
	// The shim resolves its own kernels; nothing needs to see its symbols globally.
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return 0, err
	}
	if handle == 0 {
		return 0, fmt.Errorf("dlopen returned a null handle")
	}
	return handle, nil
}

func getSymbol(lib uintptr, name string) (uintptr, error) {
	return purego.Dlsym(lib, name)
}

func closeLibrary(lib uintptr) error {
	if lib == 0 {
		return nil
	}
	return purego.Dlclose(lib)
}
