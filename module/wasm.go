package module

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/caffeineduck/luahive/interp"
)

// wasmModule is a compiled WebAssembly artifact. Every session gets its
// own instance with its own linear memory.
type wasmModule struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	exports  []wasmExport
}

type wasmExport struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
}

func (l *Loader) loadWasm(ctx context.Context, path string) (*wasmModule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.New("loader closed")
	}
	if m, ok := l.compiled[path]; ok {
		return m, nil
	}

	rt, err := l.ensureRuntime(ctx)
	if err != nil {
		return nil, err
	}

	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", filepath.Base(path), err)
	}

	exports := numericExports(compiled)
	if len(exports) == 0 {
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w: %s exports no numeric functions", ErrNoModule, filepath.Base(path))
	}

	m := &wasmModule{
		name:     tableName(path),
		runtime:  rt,
		compiled: compiled,
		exports:  exports,
	}
	l.compiled[path] = m
	l.cfg.logger.Debug("compiled wasm module", "path", path, "exports", len(exports))
	return m, nil
}

// ensureRuntime creates the shared runtime on first use. Callers hold l.mu.
func (l *Loader) ensureRuntime(ctx context.Context) (wazero.Runtime, error) {
	if l.runtime != nil {
		return l.runtime, nil
	}

	var cache wazero.CompilationCache
	if l.cfg.diskCache {
		dir := l.cfg.cacheDir
		if dir == "" {
			dir = DefaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(dir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if l.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(l.cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	l.runtime = rt
	l.cache = cache
	return rt, nil
}

func numericExports(compiled wazero.CompiledModule) []wasmExport {
	var out []wasmExport
	for name, def := range compiled.ExportedFunctions() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if !allNumeric(def.ParamTypes()) || !allNumeric(def.ResultTypes()) {
			continue
		}
		out = append(out, wasmExport{
			name:    name,
			params:  def.ParamTypes(),
			results: def.ResultTypes(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func allNumeric(types []api.ValueType) bool {
	for _, t := range types {
		switch t {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return false
		}
	}
	return true
}

// tableName derives a Lua identifier from the artifact file name.
func tableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var b strings.Builder
	for i, r := range base {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "wasm"
	}
	return b.String()
}

func (m *wasmModule) Name() string { return m.name }

func (m *wasmModule) Functions() []string {
	names := make([]string, len(m.exports))
	for i, e := range m.exports {
		names[i] = m.name + "." + e.name
	}
	return names
}

func (m *wasmModule) Bind(ctx context.Context, in *interp.Interpreter) (Instance, error) {
	config := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, config)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", m.name, err)
	}

	fns := make(map[string]lua.Function, len(m.exports))
	for _, e := range m.exports {
		fn := mod.ExportedFunction(e.name)
		if fn == nil {
			continue
		}
		fns[e.name] = m.callable(in, e, fn)
	}
	in.RegisterTable(m.name, fns)

	return ReleaseFunc(func() error {
		return mod.Close(context.Background())
	}), nil
}

func (m *wasmModule) callable(in *interp.Interpreter, e wasmExport, fn api.Function) lua.Function {
	return func(l *lua.State) int {
		params := make([]uint64, len(e.params))
		for i, t := range e.params {
			v, err := encodeValue(t, lua.CheckNumber(l, i+1))
			if err != nil {
				lua.Errorf(l, "%s.%s: argument %d: %s", m.name, e.name, i+1, err.Error())
				return 0
			}
			params[i] = v
		}
		results, err := fn.Call(in.Context(), params...)
		if err != nil {
			lua.Errorf(l, "%s.%s: %s", m.name, e.name, err.Error())
			return 0
		}
		for i, t := range e.results {
			l.PushNumber(decodeValue(t, results[i]))
		}
		return len(e.results)
	}
}

// encodeValue converts a Lua number to a wasm value. Integer parameters
// truncate toward zero and reject NaN and values outside the type's range.
func encodeValue(t api.ValueType, n float64) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		if math.IsNaN(n) || n < math.MinInt32 || n >= math.MaxInt32+1 {
			return 0, fmt.Errorf("%v out of range for i32", n)
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		// 2^63 is exactly representable; MaxInt64 is not
		if math.IsNaN(n) || n < math.MinInt64 || n >= -math.MinInt64 {
			return 0, fmt.Errorf("%v out of range for i64", n)
		}
		return api.EncodeI64(int64(n)), nil
	case api.ValueTypeF32:
		return api.EncodeF32(float32(n)), nil
	default:
		return api.EncodeF64(n), nil
	}
}

func decodeValue(t api.ValueType, v uint64) float64 {
	switch t {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return float64(int64(v))
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	default:
		return api.DecodeF64(v)
	}
}
