package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/luahive/interp"
)

var (
	// ErrNoModule is returned when an artifact or name provides no value
	// satisfying Module.
	ErrNoModule = errors.New("no module found")
	// ErrUnsupportedArtifact is returned for artifact kinds the loader
	// cannot open.
	ErrUnsupportedArtifact = errors.New("unsupported artifact")
)

// Module is a process-wide capability that can bind operations into a
// session. Implementations hold no per-session state; everything a binding
// needs lives in the Instance it returns.
type Module interface {
	Name() string
	// Bind registers the module's callables into in. It is called inside
	// the interpreter's context, once per session.
	Bind(ctx context.Context, in *interp.Interpreter) (Instance, error)
}

// Instance is the per-session binding of a Module.
type Instance interface {
	// Release frees resources held for the session. It is called once,
	// inside the interpreter's context, when the session is removed.
	Release() error
}

// Describer is implemented by modules that can list the callables they
// register.
type Describer interface {
	Functions() []string
}

// Func adapts a bind function into a Module.
func Func(name string, bind func(ctx context.Context, in *interp.Interpreter) (Instance, error)) Module {
	return funcModule{name: name, bind: bind}
}

type funcModule struct {
	name string
	bind func(ctx context.Context, in *interp.Interpreter) (Instance, error)
}

func (m funcModule) Name() string { return m.name }

func (m funcModule) Bind(ctx context.Context, in *interp.Interpreter) (Instance, error) {
	return m.bind(ctx, in)
}

// Nop is an Instance with nothing to release.
var Nop Instance = nopInstance{}

type nopInstance struct{}

func (nopInstance) Release() error { return nil }

// ReleaseFunc adapts a function into an Instance.
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error { return f() }

// Catalog is a compile-time registry of modules addressable by name.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewCatalog(modules ...Module) *Catalog {
	c := &Catalog{modules: make(map[string]Module)}
	for _, m := range modules {
		c.Register(m)
	}
	return c
}

// Register adds m under its name. It panics if the name is taken.
func (c *Catalog) Register(m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := m.Name()
	if _, dup := c.modules[name]; dup {
		panic(fmt.Sprintf("module: Register called twice for %q", name))
	}
	c.modules[name] = m
}

func (c *Catalog) Lookup(name string) (Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

// Names returns the registered module names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
