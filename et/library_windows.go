//go:build windows

package et

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// DefaultLibraryName is the shim file name looked up when only a directory is known.
const DefaultLibraryName = "executorch_shim.dll"

func loadLibrary(path string) (uintptr, error) {
	// Search the DLL's own directory for its dependencies.
	handle, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil {
		return 0, err
	}
	if handle == 0 {
		return 0, fmt.Errorf("LoadLibraryEx returned a null handle")
	}
	return uintptr(handle), nil
}

func getSymbol(lib uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(lib), name)
}

func closeLibrary(lib uintptr) error {
	if lib == 0 {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(lib))
}
