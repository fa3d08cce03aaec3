// Package sandbox runs a chunk of Lua in a throw-away session.
//
// Each Run builds a fresh registry with the built-in modules, executes the
// code in a single session and tears everything down again. Nothing
// survives between runs unless a shared KV store is configured.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/caffeineduck/luahive/builtin"
	"github.com/caffeineduck/luahive/hostfunc"
	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
	"github.com/caffeineduck/luahive/session"
)

type Result = interp.Result

type Config struct {
	AllowedHosts []string
	KVStore      *hostfunc.KV
	Mounts       []hostfunc.Mount
	// Modules lists built-in module names to bind. Nil means kv and http.
	Modules []string
	// Registry adds extra host functions as globals.
	Registry *hostfunc.Registry
}

func DefaultConfig() Config {
	return Config{}
}

// Run executes code and returns its output. Evaluation cannot be
// interrupted; ctx only reaches host functions such as http_get.
func Run(ctx context.Context, code string, cfg Config) Result {
	start := time.Now()

	bc := builtin.DefaultConfig()
	bc.SharedKV = cfg.KVStore
	bc.HTTP.AllowedHosts = cfg.AllowedHosts
	bc.Mounts = cfg.Mounts
	catalog := builtin.Catalog(bc)

	names := cfg.Modules
	if names == nil {
		names = []string{"kv", "http"}
	}
	var modules []module.Module
	for _, name := range names {
		m, ok := catalog.Lookup(name)
		if !ok {
			return Result{Error: fmt.Errorf("%w: %s", module.ErrNoModule, name), Duration: time.Since(start)}
		}
		modules = append(modules, m)
	}
	if cfg.Registry != nil {
		modules = append(modules, hostFuncs(cfg.Registry))
	}

	reg := session.New(session.WithModules(modules...))
	defer reg.Close()

	h, err := reg.Create(ctx)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}
	in := reg.GetByHandle(h)
	if errs := in.Errors(); len(errs) > 0 {
		return Result{Error: errs[0], Duration: time.Since(start)}
	}

	result := in.Exec(ctx, code)
	result.Duration = time.Since(start)
	return result
}

func hostFuncs(registry *hostfunc.Registry) module.Module {
	return module.Func("hostfuncs", func(ctx context.Context, in *interp.Interpreter) (module.Instance, error) {
		for _, spec := range registry.All() {
			in.Bind(spec)
		}
		return module.Nop, nil
	})
}
