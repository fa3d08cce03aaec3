// Package interp hosts a single Lua interpreter session.
//
// An [Interpreter] owns one Lua state with its own globals and function
// table. Access to the state is serialized: [Interpreter.Exec],
// [Interpreter.Include] and [Interpreter.Do] run one at a time, and
// [Interpreter.Post] queues work to run as soon as the session is idle.
//
// # Basic Usage
//
//	in := interp.New(interp.WithStdout(os.Stdout))
//	defer in.Close()
//
//	in.Exec(ctx, `x = 42`)
//	result := in.Exec(ctx, `print(x)`)
//	fmt.Print(result.Output) // 42
//
// # Host Functions
//
// Go code exposes callables with [Interpreter.Register] (raw Lua calling
// convention) or [Interpreter.Bind] (a [hostfunc.Func] with named
// parameters). Both must run inside the interpreter's context, that is
// from a function passed to Do or Post, or from another callable.
//
//	in.Do(ctx, func(ctx context.Context) error {
//	    in.Bind(hostfunc.Spec{Name: "greet", Params: []string{"name"}, Fn: greet})
//	    return nil
//	})
//
// # Errors
//
// Errors from Exec and Include are returned to the caller. Errors that have
// no caller to return to, such as a failed background include, are handed
// to [Interpreter.ReportError] and become visible through
// [Interpreter.Errors], the stderr writer and the OnError hook.
package interp
