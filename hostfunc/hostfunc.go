package hostfunc

import (
	"context"
	"sort"
	"sync"
)

// Func is a Go callable exposed to scripts. Arguments arrive keyed by
// parameter name; the result is converted back into a script value.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Spec describes how a Func is exposed: its script-visible name and the
// names given to positional arguments.
type Spec struct {
	Name   string
	Params []string
	Fn     Func
}

type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds or replaces a function under name.
func (r *Registry) Register(name string, fn Func, params ...string) {
	r.mu.Lock()
	r.specs[name] = Spec{Name: name, Params: params, Fn: fn}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	return spec.Fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered Spec ordered by name.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
