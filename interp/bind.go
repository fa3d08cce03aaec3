package interp

import (
	"context"
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"
	"github.com/caffeineduck/luahive/hostfunc"
)

// Register exposes fn as the global name. The name survives Reset.
// Must be called inside the interpreter's context.
func (in *Interpreter) Register(name string, fn lua.Function) {
	in.state.Register(name, fn)
	in.baseline[name] = struct{}{}
}

// RegisterTable exposes fns as fields of a global table called name.
// Must be called inside the interpreter's context.
func (in *Interpreter) RegisterTable(name string, fns map[string]lua.Function) {
	keys := make([]string, 0, len(fns))
	for k := range fns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l := in.state
	l.NewTable()
	for _, k := range keys {
		l.PushGoFunction(fns[k])
		l.SetField(-2, k)
	}
	l.SetGlobal(name)
	in.baseline[name] = struct{}{}
}

// Bind exposes a host function. Positional arguments are keyed by
// spec.Params; a call with a single table argument passes the table's
// fields as the argument map instead. Arguments beyond the declared
// parameters are gathered into a list under the last parameter name.
// A returned error is raised as a script error at the call site.
func (in *Interpreter) Bind(spec hostfunc.Spec) {
	name, params, fn := spec.Name, spec.Params, spec.Fn
	in.Register(name, func(l *lua.State) int {
		args := collectArgs(l, params)
		result, err := safeCall(in.Context(), fn, args)
		if err != nil {
			lua.Errorf(l, "%s: %s", name, err.Error())
			return 0
		}
		pushValue(l, result, 0)
		return 1
	})
}

func safeCall(ctx context.Context, fn hostfunc.Func, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

func collectArgs(l *lua.State, params []string) map[string]any {
	n := l.Top()
	if n == 1 && l.TypeOf(1) == lua.TypeTable {
		if m, ok := toValue(l, 1, 0).(map[string]any); ok {
			return m
		}
	}

	args := make(map[string]any, n)
	for i := 1; i <= n; i++ {
		if i <= len(params) {
			args[params[i-1]] = toValue(l, i, 0)
			continue
		}
		if len(params) == 0 {
			break
		}
		last := params[len(params)-1]
		rest, ok := args[last].([]any)
		if !ok {
			rest = []any{args[last]}
		}
		args[last] = append(rest, toValue(l, i, 0))
	}
	for k, v := range args {
		if v == nil {
			delete(args, k)
		}
	}
	return args
}

// Get reads a global and converts it to a Go value. It waits for any
// evaluation in progress, so it must not be called from inside a callable
// of the same session.
func (in *Interpreter) Get(name string) (any, bool) {
	in.mu.Lock()
	defer in.unlock()

	l := in.state
	l.Global(name)
	defer l.Pop(1)
	if l.IsNil(-1) {
		return nil, false
	}
	return toValue(l, -1, 0), true
}

// ClearGlobals removes every global that was not present after setup or
// registered by a module, leaving library and module functions intact.
// Must be called inside the interpreter's context.
func (in *Interpreter) ClearGlobals() {
	var stale []string
	for _, name := range in.globalNames() {
		if _, keep := in.baseline[name]; !keep {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		in.state.PushNil()
		in.state.SetGlobal(name)
	}
	in.cfg.logger.Debug("cleared session globals", "count", len(stale))
}

// Reset clears user globals as soon as the session is idle.
func (in *Interpreter) Reset() {
	in.Post(in.ClearGlobals)
}

func (in *Interpreter) globalNames() []string {
	l := in.state
	var names []string
	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeString {
			name, _ := l.ToString(-2)
			names = append(names, name)
		}
		l.Pop(1)
	}
	l.Pop(1)
	return names
}
