// Package modelstore resolves model sources into local program files.
//
// A source is a local path, a file:// URL, an http(s):// URL or a
// gs://bucket/object reference. Remote sources are downloaded once into a
// cache directory and reused by later calls and other processes.
package modelstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const (
	// CacheDirEnv overrides the default cache directory.
	CacheDirEnv = "EXECUTORCH_MODEL_CACHE_DIR"
	// DisableDownloadEnv disables network downloads when set to a true value.
	DisableDownloadEnv = "EXECUTORCH_DISABLE_DOWNLOAD"

	// DefaultMaxDownloadBytes caps a single model download.
	DefaultMaxDownloadBytes int64 = 8 << 30
)

var cacheFallbackWarnOnce sync.Once

// Option configures a Store.
type Option func(*config) error

type config struct {
	cacheDir        string
	disableDownload bool
	expectedSHA256  string
	maxBytes        int64
	httpClient      *http.Client
	gcsFactory      GCSClientFactory
}

// WithCacheDir sets the directory downloaded models are cached in.
func WithCacheDir(dir string) Option {
	return func(cfg *config) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("model cache directory cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithDisableDownload makes Resolve fail for remote sources that are not cached yet.
func WithDisableDownload(disable bool) Option {
	return func(cfg *config) error {
		cfg.disableDownload = disable
		return nil
	}
}

// WithExpectedSHA256 enforces a checksum on every downloaded model.
func WithExpectedSHA256(checksum string) Option {
	return func(cfg *config) error {
		checksum = strings.TrimSpace(strings.ToLower(checksum))
		if checksum == "" {
			return fmt.Errorf("expected SHA256 checksum cannot be empty")
		}
		if len(checksum) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters")
		}
		if _, err := hex.DecodeString(checksum); err != nil {
			return fmt.Errorf("expected SHA256 checksum must be lowercase hex")
		}
		cfg.expectedSHA256 = checksum
		return nil
	}
}

// WithMaxDownloadBytes caps the size of a single download.
func WithMaxDownloadBytes(n int64) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("max download size must be positive, got %d", n)
		}
		cfg.maxBytes = n
		return nil
	}
}

// WithHTTPClient sets the client used for http(s) sources.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config) error {
		if client == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

// WithGCSClientFactory replaces how clients for gs:// sources are created.
func WithGCSClientFactory(factory GCSClientFactory) Option {
	return func(cfg *config) error {
		if factory == nil {
			return fmt.Errorf("GCS client factory cannot be nil")
		}
		cfg.gcsFactory = factory
		return nil
	}
}

// Store resolves model sources to local files. It is safe for concurrent use.
type Store struct {
	cfg config
}

// New builds a Store from the environment and opts.
func New(opts ...Option) (*Store, error) {
	disableDownload, err := parseBoolEnv(DisableDownloadEnv)
	if err != nil {
		return nil, err
	}

	cfg := config{
		cacheDir:        strings.TrimSpace(os.Getenv(CacheDirEnv)),
		disableDownload: disableDownload,
		maxBytes:        DefaultMaxDownloadBytes,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		gcsFactory: newGCSClient,
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultCacheDir()
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)

	return &Store{cfg: cfg}, nil
}

// CacheDir returns the directory remote sources are cached in.
func (s *Store) CacheDir() string {
	return s.cfg.cacheDir
}

// Resolve returns an absolute local path holding the program named by source.
func (s *Store) Resolve(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("model source is empty")
	}

	scheme := ""
	if i := strings.Index(source, "://"); i > 0 {
		scheme = strings.ToLower(source[:i])
	}

	switch scheme {
	case "":
		return validateModelFile(source)
	case "file":
		u, err := url.Parse(source)
		if err != nil {
			return "", fmt.Errorf("parsing model source %q: %w", source, err)
		}
		return validateModelFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return s.resolveRemote(ctx, source, s.fetchHTTP)
	case "gs":
		if _, _, err := parseGCSSource(source); err != nil {
			return "", err
		}
		return s.resolveRemote(ctx, source, s.fetchGCS)
	default:
		return "", fmt.Errorf("unsupported model source scheme %q", scheme)
	}
}

// CachedPath returns where source is, or would be, cached.
func (s *Store) CachedPath(source string) (string, error) {
	name, err := sourceBaseName(source)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.cfg.cacheDir, sourceKey(source), name), nil
}

type fetchFunc func(ctx context.Context, source string) (io.ReadCloser, error)

func (s *Store) resolveRemote(ctx context.Context, source string, fetch fetchFunc) (string, error) {
	log := klog.FromContext(ctx)

	target, err := s.CachedPath(source)
	if err != nil {
		return "", err
	}

	if p, err := validateModelFile(target); err == nil {
		log.V(2).Info("model cache hit", "source", source, "path", p)
		return p, nil
	}

	if s.cfg.disableDownload {
		return "", fmt.Errorf("model %q not found in cache and download is disabled: %s", source, target)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create model cache directory %q: %w", filepath.Dir(target), err)
	}

	lockPath := filepath.Join(s.cfg.cacheDir, ".locks", sourceKey(source)+".lock")
	var resolved string
	err = withProcessFileLock(ctx, lockPath, func() error {
		if p, err := validateModelFile(target); err == nil {
			resolved = p
			return nil
		}

		log.Info("downloading model", "source", source, "destination", target)
		startedAt := time.Now()

		body, err := fetch(ctx, source)
		if err != nil {
			return err
		}
		defer func() {
			_ = body.Close()
		}()

		n, checksum, err := s.writeToFile(ctx, body, target)
		if err != nil {
			return fmt.Errorf("downloading model %q: %w", source, err)
		}

		log.Info("downloaded model", "source", source, "destination", target, "bytes", n, "sha256", checksum, "duration", time.Since(startedAt))

		p, err := validateModelFile(target)
		if err != nil {
			return fmt.Errorf("download completed but model could not be resolved: %w", err)
		}
		resolved = p
		return nil
	})
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func (s *Store) fetchHTTP(ctx context.Context, source string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request for %q: %w", source, err)
	}

	resp, err := s.cfg.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download model from %q: %w", source, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		snippet = []byte(strings.TrimSpace(string(snippet)))
		if len(snippet) > 0 {
			return nil, fmt.Errorf("failed to download model from %q: HTTP %d: %s", source, resp.StatusCode, string(snippet))
		}
		return nil, fmt.Errorf("failed to download model from %q: HTTP %d", source, resp.StatusCode)
	}
	if resp.ContentLength > s.cfg.maxBytes {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("model at %q is %d bytes, larger than the %d byte limit", source, resp.ContentLength, s.cfg.maxBytes)
	}
	return resp.Body, nil
}

// writeToFile streams src into a temp file beside destination, checks it and
// renames it into place.
func (s *Store) writeToFile(ctx context.Context, src io.Reader, destination string) (n int64, checksum string, err error) {
	log := klog.FromContext(ctx)

	tmpFile, err := os.CreateTemp(filepath.Dir(destination), ".download-*")
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	closed := false
	defer func() {
		if !closed {
			if closeErr := tmpFile.Close(); closeErr != nil {
				log.Error(closeErr, "closing temp file", "path", tmpPath)
			}
		}
		if !success {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				log.Error(removeErr, "removing temp file", "path", tmpPath)
			}
		}
	}()

	hasher := sha256.New()
	// One extra byte detects bodies over the limit.
	limited := io.LimitReader(src, s.cfg.maxBytes+1)
	n, err = io.Copy(io.MultiWriter(tmpFile, hasher), limited)
	if err != nil {
		return n, "", fmt.Errorf("writing %q: %w", tmpPath, err)
	}
	if n > s.cfg.maxBytes {
		return n, "", fmt.Errorf("model exceeds the %d byte limit", s.cfg.maxBytes)
	}
	if n == 0 {
		return 0, "", fmt.Errorf("downloaded model is empty")
	}

	checksum = hex.EncodeToString(hasher.Sum(nil))
	if s.cfg.expectedSHA256 != "" && checksum != s.cfg.expectedSHA256 {
		return n, checksum, fmt.Errorf("download checksum mismatch: expected %s, got %s", s.cfg.expectedSHA256, checksum)
	}

	closed = true
	if err := tmpFile.Close(); err != nil {
		return n, checksum, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destination); err != nil {
		return n, checksum, fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return n, checksum, nil
}

func validateModelFile(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("model path is empty")
	}

	absPath, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", p, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat model file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("model path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("model file is empty: %q", absPath)
	}
	return absPath, nil
}

func sourceKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

func sourceBaseName(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parsing model source %q: %w", source, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("model source %q has no file name", source)
	}
	return name, nil
}

func defaultCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "pure-executorch", "models")
	}

	fallback := filepath.Join(os.TempDir(), "pure-executorch", "models")
	cacheFallbackWarnOnce.Do(func() {
		klog.Warningf("user cache directory unavailable (%v); caching models at %q. Set %s for a persistent cache.", err, fallback, CacheDirEnv)
	})
	return fallback
}

func parseBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err == nil {
		return parsed, nil
	}

	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q (expected true/false, 1/0, yes/no, on/off)", name, value)
	}
}
