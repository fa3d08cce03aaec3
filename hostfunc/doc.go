// Package hostfunc provides Go functions that scripts running in a session
// can call.
//
// A [Func] receives its arguments keyed by parameter name. The interpreter
// maps positional script arguments onto the names listed in a [Spec], or
// passes a single table argument through as the argument map.
//
// # Registry
//
// The [Registry] collects named functions:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "hello " + args["name"].(string), nil
//	}, "name")
//
// # Built-in Capabilities
//
// Key-value store: [KV] with size limits from [KVConfig].
//
// HTTP: [HTTP] restricted to [HTTPConfig.AllowedHosts].
//
// Filesystem: [FS] over [Mount] points opened as [os.Root], so paths cannot
// escape a mount.
//
// SQL: [SQL] over a caller-owned database/sql handle.
//
// Each capability exposes its function table through a Specs method; the
// builtin package wraps them as session modules.
package hostfunc
