// Package session manages a set of independent Lua sessions.
//
// A [Registry] hands out integer [Handle] values, tracks which session is
// current, and binds every known module into each session it creates.
// Handles are never reused. The current session cannot be removed with
// [Registry.Remove]; [Registry.SwitchFromAndRemove] removes it and picks a
// replacement in the same step.
//
//	reg := session.New(session.WithModules(builtin.KV(cfg)), session.WithLoader(loader))
//	defer reg.Close()
//
//	h, err := reg.Create(ctx, session.WithInclude("init.lua"))
//	in := reg.GetByHandle(h)
//	in.Exec(ctx, `print(kv_get("greeting"))`)
//
// # Scripts
//
// Every session also gets a command surface for managing the registry from
// Lua: NewInterpreter, RemoveInterpreter, SetInterpreter,
// GetInterpreterHandle, GetLastInterpreterHandle,
// GetCurrentInterpreterHandle, ListInterpreters, ResetAllInterpreters and
// Import. Registry outcomes are booleans or zero handles, never script
// errors. A failed Import raises one.
//
// # Modules
//
// [Registry.Import] binds a module into the current session and into every
// session created afterwards. Sessions that already exist and are not
// current do not receive it.
//
// # Concurrency
//
// Registry methods are safe for concurrent use. Work a script triggers in
// another session (binding an import, a reset, releasing a removed
// session's modules) is queued on that session and runs when it is idle,
// so sessions never wait on each other.
package session
