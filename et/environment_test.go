package et

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// resetEnvironmentState resets global state for testing.
func resetEnvironmentState() {
	mu.Lock()
	defer mu.Unlock()
	refCount = 0
	etLib = 0
	libPath = ""
	api = nil
}

func TestIsInitialized(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	if IsInitialized() {
		t.Error("expected environment to not be initialized")
	}

	mu.Lock()
	refCount = 1
	mu.Unlock()

	if !IsInitialized() {
		t.Error("expected environment to be initialized")
	}
}

func TestSetSharedLibraryPath(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	path := "/test/path/libexecutorch_shim.so"
	if err := SetSharedLibraryPath(path); err != nil {
		t.Fatalf("unexpected error setting library path: %v", err)
	}

	mu.Lock()
	refCount = 1
	mu.Unlock()

	if err := SetSharedLibraryPath("/different/path.so"); err == nil {
		t.Error("expected error when setting library path after initialization")
	}

	mu.Lock()
	got := libPath
	mu.Unlock()
	if got != path {
		t.Errorf("expected libPath to remain %q after init, got %q", path, got)
	}
}

func TestInitializeEnvironmentWithoutPath(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()
	t.Setenv(LibraryPathEnv, "")

	err := InitializeEnvironment()
	if err == nil {
		t.Fatal("expected error without a library path")
	}
	if !strings.Contains(err.Error(), LibraryPathEnv) {
		t.Fatalf("expected error to mention %s, got %v", LibraryPathEnv, err)
	}
	if IsInitialized() {
		t.Fatal("environment must stay uninitialized after a failure")
	}
}

func TestInitializeEnvironmentInvalidLibrary(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	bogus := filepath.Join(t.TempDir(), DefaultLibraryName)
	if err := os.WriteFile(bogus, []byte("not a shared library"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	t.Setenv(LibraryPathEnv, bogus)

	if err := InitializeEnvironment(); err == nil {
		t.Fatal("expected error loading a non-library file")
	}
	if IsInitialized() {
		t.Fatal("environment must stay uninitialized after a failure")
	}
	if _, err := newNativeEngine(); err == nil {
		t.Fatal("expected native engine construction to fail")
	}
}

func TestEnvironmentRefCounting(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	mu.Lock()
	refCount = 1
	api = &nativeAPI{}
	mu.Unlock()

	if err := InitializeEnvironment(); err != nil {
		t.Fatalf("nested initialize failed: %v", err)
	}
	if err := DestroyEnvironment(); err != nil {
		t.Fatalf("first destroy failed: %v", err)
	}
	if !IsInitialized() {
		t.Fatal("expected environment to stay initialized while referenced")
	}
	if err := DestroyEnvironment(); err != nil {
		t.Fatalf("last destroy failed: %v", err)
	}
	if IsInitialized() {
		t.Fatal("expected environment released")
	}
	if err := DestroyEnvironment(); err != nil {
		t.Fatalf("destroy on released environment failed: %v", err)
	}
}

func TestGetVersionString(t *testing.T) {
	resetEnvironmentState()
	defer resetEnvironmentState()

	if got := GetVersionString(); got != "" {
		t.Fatalf("expected empty version before init, got %q", got)
	}

	version, ptr := GoToCstring("0.7.0")
	mu.Lock()
	refCount = 1
	api = &nativeAPI{version: func() uintptr { return ptr }}
	mu.Unlock()

	if got := GetVersionString(); got != "0.7.0" {
		t.Fatalf("expected 0.7.0, got %q", got)
	}
	runtime.KeepAlive(version)
}
