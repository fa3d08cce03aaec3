package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
)

var (
	ErrRegistryClosed = errors.New("registry closed")
	ErrNoLoader       = errors.New("no module loader configured")
)

// Handle identifies a session. Handles start at 1, increase with every
// Create and are never reused.
type Handle int

// Listener is notified after a session is registered.
type Listener func(Handle, *interp.Interpreter)

type entry struct {
	handle    Handle
	in        *interp.Interpreter
	instances []module.Instance
}

// Registry owns a set of interpreter sessions and the modules bound into
// them.
//
// One mutex guards all registry state. It is never held while Lua code
// runs, a module binds or a script is included.
type Registry struct {
	cfg config

	mu        sync.Mutex
	entries   map[Handle]*entry
	byInterp  map[*interp.Interpreter]*entry
	current   Handle
	last      Handle
	modules   []module.Module
	listeners []Listener
	closed    bool

	includes sync.WaitGroup
}

func New(opts ...Option) *Registry {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Registry{
		cfg:      cfg,
		entries:  make(map[Handle]*entry),
		byInterp: make(map[*interp.Interpreter]*entry),
		modules:  append([]module.Module(nil), cfg.modules...),
	}
}

// Create starts a new session, binds the command surface and every known
// module into it, registers it and notifies OnCreate listeners. The first
// session created on an empty registry becomes current.
//
// The returned handle is valid whenever it is non-zero, even if a
// synchronous include failed; the include error is returned alongside.
func (r *Registry) Create(ctx context.Context, opts ...CreateOption) (Handle, error) {
	var co createConfig
	for _, opt := range opts {
		opt(&co)
	}

	interpOpts := append([]interp.Option{interp.WithLogger(r.cfg.logger)}, r.cfg.interpOpts...)
	in := interp.New(append(interpOpts, co.opts...)...)
	e := &entry{in: in}

	in.Do(ctx, func(ctx context.Context) error {
		r.bindCommands(in)
		return nil
	})

	// Bind modules before the session becomes reachable. An Import that
	// lands meanwhile grows the list; keep binding until it is stable.
	bound := 0
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.release(e)
			return 0, ErrRegistryClosed
		}
		if bound == len(r.modules) {
			r.last++
			e.handle = r.last
			r.entries[e.handle] = e
			r.byInterp[in] = e
			if r.current == 0 {
				r.current = e.handle
			}
			// reserved while closed is known false, so Close waits for it
			if co.include != "" && co.async {
				r.includes.Add(1)
			}
			listeners := append([]Listener(nil), r.listeners...)
			r.mu.Unlock()

			r.cfg.logger.Debug("created session", "handle", e.handle, "modules", bound)
			for _, fn := range listeners {
				fn(e.handle, in)
			}
			break
		}
		pending := append([]module.Module(nil), r.modules[bound:]...)
		bound = len(r.modules)
		r.mu.Unlock()

		for _, m := range pending {
			err := in.Do(ctx, func(ctx context.Context) error {
				return r.bindModule(ctx, e, m)
			})
			if err != nil {
				in.ReportError(err)
			}
		}
	}

	return e.handle, r.include(ctx, e, co)
}

// bindModule binds m into e's session and records the instance. Must be
// called inside the session's context. A failed binding is logged and
// returned; the session keeps whatever else was bound.
func (r *Registry) bindModule(ctx context.Context, e *entry, m module.Module) error {
	inst, err := safeBind(ctx, e.in, m)
	if err != nil {
		err = fmt.Errorf("bind module %s: %w", m.Name(), err)
		r.cfg.logger.Error("module binding failed", "handle", e.handle, "module", m.Name(), "error", err)
		return err
	}
	if inst == nil {
		return nil
	}

	r.mu.Lock()
	_, live := r.byInterp[e.in]
	if live || e.handle == 0 {
		e.instances = append(e.instances, inst)
	}
	r.mu.Unlock()

	if !live && e.handle != 0 {
		// removed while binding
		if err := inst.Release(); err != nil {
			r.cfg.logger.Warn("module release failed", "module", m.Name(), "error", err)
		}
	}
	return nil
}

func safeBind(ctx context.Context, in *interp.Interpreter, m module.Module) (inst module.Instance, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return m.Bind(ctx, in)
}

// Remove closes the session h and releases its module instances. It
// reports false when h is unknown or is the current session.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[h]
	if !ok || h == r.current {
		r.mu.Unlock()
		return false
	}
	r.drop(e)
	r.mu.Unlock()

	r.cfg.logger.Debug("removed session", "handle", h)
	r.release(e)
	return true
}

// SetCurrent makes h the current session. It reports false when h is
// unknown.
func (r *Registry) SetCurrent(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; !ok {
		return false
	}
	r.current = h
	r.cfg.logger.Debug("switched current session", "handle", h)
	return true
}

// SwitchFromAndRemove removes the session owning in. If it was current, the
// remaining session with the lowest handle becomes current, or none when
// the registry is now empty. It reports false when in is not registered.
func (r *Registry) SwitchFromAndRemove(in *interp.Interpreter) bool {
	r.mu.Lock()
	e, ok := r.byInterp[in]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.drop(e)
	if r.current == e.handle {
		r.current = 0
		for h := range r.entries {
			if r.current == 0 || h < r.current {
				r.current = h
			}
		}
	}
	next := r.current
	r.mu.Unlock()

	r.cfg.logger.Debug("removed session", "handle", e.handle, "current", next)
	r.release(e)
	return true
}

// drop unlinks e. Callers hold r.mu.
func (r *Registry) drop(e *entry) {
	delete(r.entries, e.handle)
	delete(r.byInterp, e.in)
}

// release closes the session and frees its module instances once any
// evaluation in progress has finished.
func (r *Registry) release(e *entry) {
	e.in.Close()

	r.mu.Lock()
	instances := e.instances
	e.instances = nil
	r.mu.Unlock()

	if len(instances) == 0 {
		return
	}
	e.in.Post(func() {
		for _, inst := range instances {
			if err := inst.Release(); err != nil {
				r.cfg.logger.Warn("module release failed", "handle", e.handle, "error", err)
			}
		}
	})
}

// GetHandle returns the handle of in, or 0 when in is not registered.
func (r *Registry) GetHandle(in *interp.Interpreter) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byInterp[in]; ok {
		return e.handle
	}
	return 0
}

// GetByHandle returns the session for h, or nil.
func (r *Registry) GetByHandle(h Handle) *interp.Interpreter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[h]; ok {
		return e.in
	}
	return nil
}

// Current returns the current session's handle, or 0 when the registry is
// empty.
func (r *Registry) Current() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// LastHandle returns the highest handle ever issued.
func (r *Registry) LastHandle() Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Handles returns the live handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedHandles()
}

// ListAll returns a snapshot of the live sessions ordered by handle.
func (r *Registry) ListAll() []*interp.Interpreter {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.sortedHandles()
	out := make([]*interp.Interpreter, len(handles))
	for i, h := range handles {
		out[i] = r.entries[h].in
	}
	return out
}

func (r *Registry) sortedHandles() []Handle {
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// Modules returns the names of the modules new sessions are bound to.
func (r *Registry) Modules() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.modules))
	for i, m := range r.modules {
		names[i] = m.Name()
	}
	return names
}

// OnCreate registers fn to be called after every Create, on the creating
// goroutine, once the session is registered.
func (r *Registry) OnCreate(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// ResetAll clears user globals in every live session. caller, if non-nil,
// is the session issuing the reset from inside a script; it is cleared
// immediately. Every other session is cleared as soon as it is idle.
func (r *Registry) ResetAll(caller *interp.Interpreter) {
	for _, in := range r.ListAll() {
		if in == caller {
			in.ClearGlobals()
			continue
		}
		in.Reset()
	}
	r.cfg.logger.Debug("reset all sessions")
}

// Import loads ref, adds it to the modules every future session receives
// and binds it into the current session. Other existing sessions are not
// bound. It returns the resolved location of the module.
//
// caller is the session issuing the import from inside a script, or nil
// when called from Go. When the current session is busy in another
// goroutine the binding is deferred until it is idle, and a binding error
// is reported to that session instead of returned.
func (r *Registry) Import(ctx context.Context, ref string, caller *interp.Interpreter) (string, error) {
	if r.cfg.loader == nil {
		return "", ErrNoLoader
	}
	m, location, err := r.cfg.loader.Load(ctx, ref)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	r.modules = append(r.modules, m)
	target := r.entries[r.current]
	r.mu.Unlock()

	r.cfg.logger.Info("imported module", "module", m.Name(), "location", location)
	if target == nil {
		return location, nil
	}

	switch {
	case target.in == caller:
		if err := r.bindModule(ctx, target, m); err != nil {
			return location, err
		}
	case caller == nil:
		err := target.in.Do(ctx, func(ctx context.Context) error {
			return r.bindModule(ctx, target, m)
		})
		if err != nil {
			return location, err
		}
	default:
		target.in.Post(func() {
			if err := r.bindModule(context.Background(), target, m); err != nil {
				target.in.ReportError(err)
			}
		})
	}
	return location, nil
}

// Detached returns a new, empty registry with r's options and the modules
// r currently binds into new sessions. Sessions created in it are not
// visible through r and do not affect r's current session.
func (r *Registry) Detached() *Registry {
	r.mu.Lock()
	modules := append([]module.Module(nil), r.modules...)
	r.mu.Unlock()

	cfg := r.cfg
	cfg.modules = modules
	return &Registry{
		cfg:      cfg,
		entries:  make(map[Handle]*entry),
		byInterp: make(map[*interp.Interpreter]*entry),
		modules:  modules,
	}
}

// Wait blocks until every background include started so far has finished.
func (r *Registry) Wait() {
	r.includes.Wait()
}

// Close waits for background includes, then closes every session and
// releases its module instances. Later Creates fail with
// ErrRegistryClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.includes.Wait()

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	released := make([][]module.Instance, 0, len(r.entries))
	for _, h := range r.sortedHandles() {
		e := r.entries[h]
		entries = append(entries, e)
		released = append(released, e.instances)
		e.instances = nil
	}
	r.entries = make(map[Handle]*entry)
	r.byInterp = make(map[*interp.Interpreter]*entry)
	r.current = 0
	r.mu.Unlock()

	var errs []error
	for i, e := range entries {
		e.in.Close()
		instances := released[i]
		e.in.Do(context.Background(), func(ctx context.Context) error {
			for _, inst := range instances {
				if err := inst.Release(); err != nil {
					errs = append(errs, err)
				}
			}
			return nil
		})
	}
	return errors.Join(errs...)
}
