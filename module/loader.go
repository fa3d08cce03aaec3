package module

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
)

// LoaderOption configures a Loader.
type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	catalog          *Catalog
	searchPath       []string
	logger           *slog.Logger
	diskCache        bool
	cacheDir         string
	memoryLimitPages uint32
	openPlugin       func(path string) (Symbols, error)
}

func defaultLoaderConfig() loaderConfig {
	return loaderConfig{
		logger:     slog.New(slog.DiscardHandler),
		openPlugin: openPlugin,
	}
}

// WithCatalog makes the catalog's modules loadable by name.
func WithCatalog(c *Catalog) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.catalog = c
	}
}

// WithSearchPath adds directories searched for relative artifact paths,
// after the working directory.
func WithSearchPath(dirs ...string) LoaderOption {
	return func(cfg *loaderConfig) {
		for _, d := range dirs {
			if d != "" {
				cfg.searchPath = append(cfg.searchPath, d)
			}
		}
	}
}

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(cfg *loaderConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithDiskCache enables a persistent compilation cache for WebAssembly
// artifacts. Without a directory, ~/.cache/luahive or
// XDG_CACHE_HOME/luahive is used.
func WithDiskCache(dir ...string) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.diskCache = true
		if len(dir) > 0 {
			cfg.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps the linear memory of each WebAssembly instance, in
// 64KiB pages.
func WithMemoryLimit(pages uint32) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.memoryLimitPages = pages
	}
}

// Loader resolves module references at runtime. A reference is a path to
// a WebAssembly artifact (.wasm), a Go plugin (.so), or a catalog name.
type Loader struct {
	cfg loaderConfig

	mu       sync.Mutex
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]*wasmModule
	closed   bool
}

func NewLoader(opts ...LoaderOption) *Loader {
	cfg := defaultLoaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{
		cfg:      cfg,
		compiled: make(map[string]*wasmModule),
	}
}

// Load resolves ref to a Module. The returned string is the resolved
// location: an absolute artifact path, or "catalog:<name>".
func (l *Loader) Load(ctx context.Context, ref string) (Module, string, error) {
	switch ext := strings.ToLower(filepath.Ext(ref)); ext {
	case ".wasm":
		path, err := l.locate(ref)
		if err != nil {
			return nil, "", err
		}
		m, err := l.loadWasm(ctx, path)
		if err != nil {
			return nil, "", err
		}
		return m, path, nil

	case ".so":
		path, err := l.locate(ref)
		if err != nil {
			return nil, "", err
		}
		m, err := l.loadPlugin(path)
		if err != nil {
			return nil, "", err
		}
		return m, path, nil

	case "":
		if l.cfg.catalog != nil {
			if m, ok := l.cfg.catalog.Lookup(ref); ok {
				return m, "catalog:" + ref, nil
			}
		}
		return nil, "", fmt.Errorf("%w: %s", ErrNoModule, ref)

	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedArtifact, ref)
	}
}

// Info describes a loadable module.
type Info struct {
	Name      string
	Location  string
	Functions []string
}

// Inspect loads ref and reports what it would register.
func (l *Loader) Inspect(ctx context.Context, ref string) (Info, error) {
	m, location, err := l.Load(ctx, ref)
	if err != nil {
		return Info{}, err
	}
	info := Info{Name: m.Name(), Location: location}
	if d, ok := m.(Describer); ok {
		info.Functions = d.Functions()
	}
	return info, nil
}

// Catalog returns the catalog names are resolved against, or nil.
func (l *Loader) Catalog() *Catalog {
	return l.cfg.catalog
}

// SearchPath returns the configured search directories.
func (l *Loader) SearchPath() []string {
	return append([]string(nil), l.cfg.searchPath...)
}

func (l *Loader) locate(ref string) (string, error) {
	candidates := []string{ref}
	if !filepath.IsAbs(ref) {
		for _, dir := range l.cfg.searchPath {
			candidates = append(candidates, filepath.Join(dir, ref))
		}
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", ref, err)
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: %s: artifact not found", ErrNoModule, ref)
}

// Close releases the WebAssembly runtime and compilation cache. Instances
// already bound into sessions must be released first.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	ctx := context.Background()

	var errs []error
	if l.runtime != nil {
		if err := l.runtime.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if l.cache != nil {
		if err := l.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// DefaultCacheDir is where compiled WebAssembly is cached when WithDiskCache
// is given no directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "luahive")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "luahive")
	}
	return filepath.Join(os.TempDir(), "luahive-cache")
}
