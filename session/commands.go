package session

import (
	"github.com/Shopify/go-lua"

	"github.com/caffeineduck/luahive/interp"
)

// Commands lists the globals bound into every session.
var Commands = []string{
	"NewInterpreter",
	"RemoveInterpreter",
	"SetInterpreter",
	"GetInterpreterHandle",
	"GetLastInterpreterHandle",
	"GetCurrentInterpreterHandle",
	"ListInterpreters",
	"ResetAllInterpreters",
	"Import",
}

// bindCommands exposes the registry to scripts running in in. Must be
// called inside in's context.
func (r *Registry) bindCommands(in *interp.Interpreter) {
	// NewInterpreter([path [, async]]) -> handle
	in.Register("NewInterpreter", func(l *lua.State) int {
		var opts []CreateOption
		if path := lua.OptString(l, 1, ""); path != "" {
			opts = append(opts, WithInclude(path))
			if l.ToBoolean(2) {
				opts = append(opts, WithAsync())
			}
		}
		h, err := r.Create(in.Context(), opts...)
		if err != nil {
			if h == 0 {
				lua.Errorf(l, "NewInterpreter: %s", err.Error())
				return 0
			}
			lua.Errorf(l, "NewInterpreter: session %d: %s", int(h), err.Error())
			return 0
		}
		l.PushInteger(int(h))
		return 1
	})

	in.Register("RemoveInterpreter", func(l *lua.State) int {
		l.PushBoolean(r.Remove(Handle(lua.CheckInteger(l, 1))))
		return 1
	})

	in.Register("SetInterpreter", func(l *lua.State) int {
		l.PushBoolean(r.SetCurrent(Handle(lua.CheckInteger(l, 1))))
		return 1
	})

	in.Register("GetInterpreterHandle", func(l *lua.State) int {
		l.PushInteger(int(r.GetHandle(in)))
		return 1
	})

	in.Register("GetLastInterpreterHandle", func(l *lua.State) int {
		l.PushInteger(int(r.LastHandle()))
		return 1
	})

	in.Register("GetCurrentInterpreterHandle", func(l *lua.State) int {
		l.PushInteger(int(r.Current()))
		return 1
	})

	in.Register("ListInterpreters", func(l *lua.State) int {
		handles := r.Handles()
		l.CreateTable(len(handles), 0)
		for i, h := range handles {
			l.PushInteger(int(h))
			l.RawSetInt(-2, i+1)
		}
		return 1
	})

	in.Register("ResetAllInterpreters", func(l *lua.State) int {
		r.ResetAll(in)
		return 0
	})

	// Import(path) -> location
	in.Register("Import", func(l *lua.State) int {
		ref := lua.CheckString(l, 1)
		location, err := r.Import(in.Context(), ref, in)
		if err != nil {
			lua.Errorf(l, "Import: %s", err.Error())
			return 0
		}
		l.PushString(location)
		return 1
	})
}
