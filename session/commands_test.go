package session_test

import (
	"context"
	"strings"
	"testing"

	"github.com/caffeineduck/luahive/module"
	"github.com/caffeineduck/luahive/session"
)

func TestCommandsBound(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	for _, name := range session.Commands {
		out := exec(t, in, `print(type(`+name+`))`)
		if out != "function\n" {
			t.Errorf("%s: expected function, got %q", name, out)
		}
	}
}

func TestCommandNewInterpreter(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	out := exec(t, in, `
		local h = NewInterpreter()
		print(h, GetLastInterpreterHandle(), GetInterpreterHandle(), GetCurrentInterpreterHandle())
	`)
	if out != "2\t2\t1\t1\n" {
		t.Errorf("unexpected output %q", out)
	}
	if reg.GetByHandle(2) == nil {
		t.Error("session created from a script is not registered")
	}
}

func TestCommandNewInterpreterInclude(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	path := writeScript(t, `from_include = 7`)
	in := reg.GetByHandle(mustCreate(t, reg))
	exec(t, in, `NewInterpreter("`+path+`")`)

	v, ok := reg.GetByHandle(2).Get("from_include")
	if !ok || v != int64(7) {
		t.Errorf("expected include to run in the new session, got %v", v)
	}
	if hasGlobal(t, in, "from_include") {
		t.Error("include leaked into the calling session")
	}
}

func TestCommandNewInterpreterIncludeError(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	path := writeScript(t, `error("init failed")`)
	in := reg.GetByHandle(mustCreate(t, reg))
	r := in.Exec(context.Background(), `NewInterpreter("`+path+`")`)
	if r.Error == nil || !strings.Contains(r.Error.Error(), "init failed") {
		t.Errorf("expected sync include failure as script error, got %v", r.Error)
	}
}

func TestCommandNewInterpreterAsync(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	path := writeScript(t, `error("async init failed")`)
	in := reg.GetByHandle(mustCreate(t, reg))
	out := exec(t, in, `print(NewInterpreter("`+path+`", true))`)
	if out != "2\n" {
		t.Errorf("expected handle 2, got %q", out)
	}

	reg.Wait()
	if len(in.Errors()) != 0 {
		t.Error("async failure reached the creating session")
	}
	if len(reg.GetByHandle(2).Errors()) != 1 {
		t.Error("async failure missing from the new session")
	}
}

func TestCommandRemoveAndSet(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	out := exec(t, in, `
		local h = NewInterpreter()
		print(RemoveInterpreter(1), RemoveInterpreter(999), SetInterpreter(999))
		print(SetInterpreter(h), GetCurrentInterpreterHandle())
		print(RemoveInterpreter(h))
	`)
	want := "false\tfalse\tfalse\ntrue\t2\nfalse\n"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

func TestCommandRemoveSelf(t *testing.T) {
	mod := &tracked{name: "counter"}
	reg := session.New(session.WithModules(mod))
	defer reg.Close()

	mustCreate(t, reg)
	h2 := mustCreate(t, reg)
	in := reg.GetByHandle(h2)

	out := exec(t, in, `print(RemoveInterpreter(GetInterpreterHandle()), GetInterpreterHandle())`)
	if out != "true\t0\n" {
		t.Errorf("unexpected output %q", out)
	}
	if mod.releases.Load() != 1 {
		t.Errorf("expected release after the script finished, got %d", mod.releases.Load())
	}
}

func TestCommandListInterpreters(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	out := exec(t, in, `
		NewInterpreter() NewInterpreter()
		RemoveInterpreter(2)
		print(table.concat(ListInterpreters(), ","))
	`)
	if out != "1,3\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCommandResetAll(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	h1 := mustCreate(t, reg)
	h2 := mustCreate(t, reg)
	other := reg.GetByHandle(h2)
	exec(t, other, `y = 2`)

	out := exec(t, reg.GetByHandle(h1), `
		x = 1
		ResetAllInterpreters()
		print(x)
	`)
	if out != "nil\n" {
		t.Errorf("caller's globals should be cleared immediately, got %q", out)
	}
	if hasGlobal(t, other, "y") {
		t.Error("other session kept its globals")
	}
}

func TestCommandImport(t *testing.T) {
	extra := &tracked{name: "extra"}
	loader := module.NewLoader(module.WithCatalog(module.NewCatalog(extra)))
	reg := session.New(session.WithLoader(loader))
	defer reg.Close()

	h1 := mustCreate(t, reg)
	in := reg.GetByHandle(h1)
	out := exec(t, in, `
		local where = Import("extra")
		print(where, extra())
	`)
	if out != "catalog:extra\textra\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCommandImportIntoOtherCurrent(t *testing.T) {
	extra := &tracked{name: "extra"}
	loader := module.NewLoader(module.WithCatalog(module.NewCatalog(extra)))
	reg := session.New(session.WithLoader(loader))
	defer reg.Close()

	h1 := mustCreate(t, reg)
	h2 := mustCreate(t, reg)

	caller := reg.GetByHandle(h2)
	exec(t, caller, `Import("extra")`)

	if !hasGlobal(t, reg.GetByHandle(h1), "extra") {
		t.Error("current session did not receive the import")
	}
	if hasGlobal(t, caller, "extra") {
		t.Error("non-current caller received the import")
	}
}

func TestCommandImportFailure(t *testing.T) {
	reg := session.New(session.WithLoader(module.NewLoader()))
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	r := in.Exec(context.Background(), `
		local ok, err = pcall(Import, "nothing_here")
		print(ok)
		Import("nothing_here")
		print("unreachable")
	`)
	if r.Error == nil || !strings.Contains(r.Error.Error(), "nothing_here") {
		t.Fatalf("expected load failure naming the artifact, got %v", r.Error)
	}
	if strings.Contains(r.Output, "unreachable") {
		t.Error("script continued after a failed import")
	}
}

func TestCommandsSurviveReset(t *testing.T) {
	reg := session.New()
	defer reg.Close()

	in := reg.GetByHandle(mustCreate(t, reg))
	in.Reset()
	if out := exec(t, in, `print(GetInterpreterHandle())`); out != "1\n" {
		t.Errorf("commands lost after reset: %q", out)
	}
}
