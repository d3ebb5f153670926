package modelstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amikos-tech/pure-executorch/et"
)

var _ et.SourceResolver = (*Store)(nil)

func clearStoreEnv(t *testing.T) {
	t.Helper()
	t.Setenv(CacheDirEnv, "")
	t.Setenv(DisableDownloadEnv, "")
}

func newModelServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	hits := &atomic.Int32{}
	mux := http.NewServeMux()
	mux.HandleFunc("/models/net.pte", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/models/missing.pte", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "no such model", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, hits
}

func TestResolveLocalPath(t *testing.T) {
	clearStoreEnv(t)

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "net.pte")
	if err := os.WriteFile(modelPath, []byte("program"), 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}
	emptyPath := filepath.Join(dir, "empty.pte")
	if err := os.WriteFile(emptyPath, nil, 0o644); err != nil {
		t.Fatalf("failed to write model: %v", err)
	}

	store, err := New(WithCacheDir(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{name: "plain path", source: modelPath},
		{name: "file url", source: "file://" + filepath.ToSlash(modelPath)},
		{name: "missing", source: filepath.Join(dir, "nope.pte"), wantErr: "failed to stat"},
		{name: "directory", source: dir, wantErr: "directory"},
		{name: "empty file", source: emptyPath, wantErr: "empty"},
		{name: "blank", source: "  ", wantErr: "model source is empty"},
		{name: "unknown scheme", source: "ftp://host/net.pte", wantErr: "unsupported model source scheme"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.Resolve(context.Background(), tc.source)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != modelPath {
				t.Fatalf("unexpected path: got %q, want %q", got, modelPath)
			}
		})
	}
}

func TestResolveHTTPDownloadsOnce(t *testing.T) {
	clearStoreEnv(t)

	body := []byte("serialized program bytes")
	server, hits := newModelServer(t, body)

	cacheDir := t.TempDir()
	store, err := New(WithCacheDir(cacheDir), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source := server.URL + "/models/net.pte"
	first, err := store.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(first) != "net.pte" {
		t.Fatalf("expected cached file to keep its name, got %q", first)
	}
	if !strings.HasPrefix(first, cacheDir) {
		t.Fatalf("expected cached file under %q, got %q", cacheDir, first)
	}

	got, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("failed to read cached model: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("unexpected cached content: %q", got)
	}

	second, err := store.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Fatalf("expected the same cached path, got %q and %q", first, second)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single download, got %d", hits.Load())
	}
}

func TestResolveHTTPConcurrentCallersShareDownload(t *testing.T) {
	clearStoreEnv(t)

	server, hits := newModelServer(t, []byte("program"))
	store, err := New(WithCacheDir(t.TempDir()), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	source := server.URL + "/models/net.pte"
	const callers = 8
	paths := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = store.Resolve(context.Background(), source)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d resolved %q, want %q", i, paths[i], paths[0])
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single download, got %d", hits.Load())
	}
}

func TestResolveHTTPErrors(t *testing.T) {
	clearStoreEnv(t)

	body := []byte("program")
	server, _ := newModelServer(t, body)

	sum := sha256.Sum256(body)
	good := hex.EncodeToString(sum[:])
	bad := strings.Repeat("0", 64)

	tests := []struct {
		name    string
		path    string
		opts    []Option
		wantErr string
	}{
		{name: "not found", path: "/models/missing.pte", wantErr: "HTTP 404"},
		{name: "checksum mismatch", path: "/models/net.pte", opts: []Option{WithExpectedSHA256(bad)}, wantErr: "checksum mismatch"},
		{name: "too large", path: "/models/net.pte", opts: []Option{WithMaxDownloadBytes(3)}, wantErr: "limit"},
		{name: "download disabled", path: "/models/net.pte", opts: []Option{WithDisableDownload(true)}, wantErr: "download is disabled"},
		{name: "checksum match", path: "/models/net.pte", opts: []Option{WithExpectedSHA256(strings.ToUpper(good))}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cacheDir := t.TempDir()
			opts := append([]Option{WithCacheDir(cacheDir), WithHTTPClient(server.Client())}, tc.opts...)
			store, err := New(opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			source := server.URL + tc.path
			_, err = store.Resolve(context.Background(), source)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}

			cached, pathErr := store.CachedPath(source)
			if pathErr != nil {
				t.Fatalf("unexpected error: %v", pathErr)
			}
			if _, statErr := os.Stat(cached); !errors.Is(statErr, os.ErrNotExist) {
				t.Fatalf("expected no cached file after failure, stat returned %v", statErr)
			}
			leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(cached), ".download-*"))
			if len(leftovers) != 0 {
				t.Fatalf("expected temp files to be removed, found %v", leftovers)
			}
		})
	}
}

func TestResolveUsesCacheWhenDownloadDisabled(t *testing.T) {
	clearStoreEnv(t)

	cacheDir := t.TempDir()
	t.Setenv(CacheDirEnv, cacheDir)
	t.Setenv(DisableDownloadEnv, "yes")

	store, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.CacheDir() != filepath.Clean(cacheDir) {
		t.Fatalf("expected cache dir from environment, got %q", store.CacheDir())
	}

	source := "https://models.example.com/llama/model.pte"
	cached, err := store.CachedPath(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		t.Fatalf("failed to create cache dir: %v", err)
	}
	if err := os.WriteFile(cached, []byte("program"), 0o644); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	got, err := store.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cached {
		t.Fatalf("unexpected path: got %q, want %q", got, cached)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	clearStoreEnv(t)

	tests := []struct {
		name    string
		opts    []Option
		env     string
		wantErr string
	}{
		{name: "empty cache dir", opts: []Option{WithCacheDir(" ")}, wantErr: "cache directory"},
		{name: "short checksum", opts: []Option{WithExpectedSHA256("abc")}, wantErr: "64 hex"},
		{name: "non hex checksum", opts: []Option{WithExpectedSHA256(strings.Repeat("z", 64))}, wantErr: "hex"},
		{name: "nil client", opts: []Option{WithHTTPClient(nil)}, wantErr: "HTTP client"},
		{name: "nil gcs factory", opts: []Option{WithGCSClientFactory(nil)}, wantErr: "GCS client factory"},
		{name: "zero max bytes", opts: []Option{WithMaxDownloadBytes(0)}, wantErr: "positive"},
		{name: "bad env bool", env: "maybe", wantErr: DisableDownloadEnv},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(DisableDownloadEnv, tc.env)
			_, err := New(tc.opts...)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

type fakeGCSClient struct {
	objects map[string]string
	closed  *atomic.Int32
}

func (c *fakeGCSClient) NewObjectReader(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	body, ok := c.objects[bucket+"/"+object]
	if !ok {
		return nil, ErrObjectNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (c *fakeGCSClient) Close() error {
	c.closed.Add(1)
	return nil
}

func TestResolveGCS(t *testing.T) {
	clearStoreEnv(t)

	closed := &atomic.Int32{}
	factory := func(context.Context) (GCSClient, error) {
		return &fakeGCSClient{
			objects: map[string]string{"models/llama/model.pte": "gcs program"},
			closed:  closed,
		}, nil
	}

	store, err := New(WithCacheDir(t.TempDir()), WithGCSClientFactory(factory))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Resolve(context.Background(), "gs://models/llama/model.pte")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("failed to read cached model: %v", err)
	}
	if string(content) != "gcs program" {
		t.Fatalf("unexpected content %q", content)
	}
	if closed.Load() != 1 {
		t.Fatalf("expected the GCS client to be closed once, got %d", closed.Load())
	}

	_, err = store.Resolve(context.Background(), "gs://models/llama/missing.pte")
	if !errors.Is(err, ErrObjectNotExist) {
		t.Fatalf("expected ErrObjectNotExist, got %v", err)
	}
	if closed.Load() != 2 {
		t.Fatalf("expected the GCS client to be closed after a failed open, got %d", closed.Load())
	}

	if _, err := store.Resolve(context.Background(), "gs://bucket-only"); err == nil || !strings.Contains(err.Error(), "gs://bucket/object") {
		t.Fatalf("expected malformed source error, got %v", err)
	}
}

func TestWithProcessFileLockHonorsContext(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".locks", "held.lock")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- withProcessFileLock(context.Background(), lockPath, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := withProcessFileLock(ctx, lockPath, func() error {
		t.Fatalf("lock acquired while held elsewhere")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error from lock holder: %v", err)
	}

	if err := withProcessFileLock(context.Background(), lockPath, nil); err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
}
