// Package luahive hosts many independent Lua sessions in one process.
//
// # Overview
//
// A [session.Registry] owns the sessions, hands out integer handles and
// tracks which one is current. Every session is an [interp.Interpreter]
// with its own globals. Capabilities are added through modules: the
// built-in kv, http, fs and sql modules, WebAssembly artifacts and Go
// plugins, all resolved by a [module.Loader].
//
// # Basic Usage
//
//	loader := module.NewLoader(module.WithCatalog(builtin.Catalog(builtin.DefaultConfig())))
//	defer loader.Close()
//
//	reg := session.New(session.WithLoader(loader))
//	defer reg.Close()
//
//	h, _ := reg.Create(ctx)
//	in := reg.GetByHandle(h)
//	in.Exec(ctx, `x = 42`)
//	in.Exec(ctx, `print(x)`) // 42
//
//	// Bound into the current session and every later one
//	reg.Import(ctx, "kv", nil)
//	reg.Import(ctx, "add.wasm", nil)
//
// # Scripts
//
// Scripts manage the registry themselves:
//
//	local h = NewInterpreter("worker.lua", true)
//	SetInterpreter(h)
//	Import("add.wasm")
//	print(add.add(2, 3))
//
// # One-shot execution
//
// [sandbox.Run] executes code in a throwaway registry with only the
// capabilities it is given:
//
//	result := sandbox.Run(ctx, code, sandbox.Config{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//
// See the [session], [interp], [module], [builtin], [hostfunc] and
// [sandbox] packages for detailed API documentation.
package luahive
