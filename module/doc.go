// Package module defines session capabilities and loads them at runtime.
//
// A [Module] is a process-wide descriptor; binding it into an interpreter
// produces an [Instance] that owns whatever the binding registered and is
// released when the session goes away.
//
// A [Loader] resolves references of three kinds:
//
//   - a .wasm file: each numeric export becomes a function in a Lua table
//     named after the file, backed by a per-session wazero instance
//   - a .so Go plugin exporting a Module symbol or an Exports list; the
//     first value satisfying Module is used
//   - a name registered in a [Catalog]
//
//	loader := module.NewLoader(module.WithCatalog(catalog), module.WithSearchPath("./plugins"))
//	defer loader.Close()
//
//	m, location, err := loader.Load(ctx, "add.wasm")
package module
