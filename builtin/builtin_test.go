package builtin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/caffeineduck/luahive/builtin"
	"github.com/caffeineduck/luahive/hostfunc"
	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
)

func bound(t *testing.T, m module.Module) (*interp.Interpreter, module.Instance) {
	t.Helper()
	in := interp.New()
	var inst module.Instance
	err := in.Do(context.Background(), func(ctx context.Context) error {
		var err error
		inst, err = m.Bind(ctx, in)
		return err
	})
	if err != nil {
		t.Fatalf("bind %s: %v", m.Name(), err)
	}
	t.Cleanup(func() { inst.Release() })
	return in, inst
}

func run(t *testing.T, in *interp.Interpreter, code string) string {
	t.Helper()
	r := in.Exec(context.Background(), code)
	if r.Error != nil {
		t.Fatalf("unexpected error: %v", r.Error)
	}
	return r.Output
}

func TestCatalogNames(t *testing.T) {
	catalog := builtin.Catalog(builtin.DefaultConfig())
	if diff := cmp.Diff([]string{"fs", "http", "kv", "sql"}, catalog.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestKVModule(t *testing.T) {
	in, _ := bound(t, builtin.KV(builtin.DefaultConfig()))

	out := run(t, in, `
		kv_set("a", "1")
		kv_set("b", 2)
		print(kv_get("a"), kv_get("b"), kv_get("missing", "fallback"))
		kv_delete("a")
		local keys = kv_keys()
		print(#keys, keys[1])
	`)
	if out != "1\t2\tfallback\n1\tb\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestKVModulePerSession(t *testing.T) {
	m := builtin.KV(builtin.DefaultConfig())
	a, _ := bound(t, m)
	b, _ := bound(t, m)

	run(t, a, `kv_set("k", "from a")`)
	if out := run(t, b, `print(kv_get("k", "none"))`); out != "none\n" {
		t.Errorf("sessions share a private store: %q", out)
	}
}

func TestKVModuleShared(t *testing.T) {
	cfg := builtin.DefaultConfig()
	cfg.SharedKV = hostfunc.NewKV(hostfunc.DefaultKVConfig())
	m := builtin.KV(cfg)
	a, _ := bound(t, m)
	b, _ := bound(t, m)

	run(t, a, `kv_set("k", "from a")`)
	if out := run(t, b, `print(kv_get("k"))`); out != "from a\n" {
		t.Errorf("expected shared value, got %q", out)
	}
}

func TestHTTPModule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte("pong " + r.Method))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	cfg := builtin.DefaultConfig()
	cfg.HTTP.AllowedHosts = []string{u.Hostname()}
	in, _ := bound(t, builtin.HTTP(cfg))

	out := run(t, in, `
		local r = http_get("`+srv.URL+`")
		print(r.status, r.body)
		local p = http_request{method = "POST", url = "`+srv.URL+`", body = "x"}
		print(p.body)
	`)
	if out != "200\tpong GET\npong POST\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestHTTPModuleDisabled(t *testing.T) {
	in, _ := bound(t, builtin.HTTP(builtin.DefaultConfig()))
	r := in.Exec(context.Background(), `http_get("http://example.com")`)
	if r.Error == nil || !strings.Contains(r.Error.Error(), "http not enabled") {
		t.Errorf("expected http not enabled error, got %v", r.Error)
	}
}

func TestFSModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := builtin.DefaultConfig()
	cfg.Mounts = []hostfunc.Mount{{VirtualPath: "/work", HostPath: dir, Mode: hostfunc.MountReadWriteCreate}}
	in, inst := bound(t, builtin.FS(cfg))

	out := run(t, in, `
		print(fs_read("/work/in.txt"))
		fs_write("/work/out.txt", "written")
		print(fs_exists("/work/out.txt"), fs_exists("/work/nope"))
	`)
	if out != "data\ntrue\tfalse\n" {
		t.Errorf("unexpected output %q", out)
	}
	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(got) != "written" {
		t.Errorf("expected file written on host, got %q (%v)", got, err)
	}

	if err := inst.Release(); err != nil {
		t.Errorf("release failed: %v", err)
	}
}

func TestFSModuleMissingMount(t *testing.T) {
	cfg := builtin.DefaultConfig()
	cfg.Mounts = []hostfunc.Mount{{VirtualPath: "/x", HostPath: filepath.Join(t.TempDir(), "missing")}}

	in := interp.New()
	err := in.Do(context.Background(), func(ctx context.Context) error {
		_, err := builtin.FS(cfg).Bind(ctx, in)
		return err
	})
	if err == nil {
		t.Fatal("expected bind to fail for a missing mount directory")
	}
}

func TestSQLModule(t *testing.T) {
	in, _ := bound(t, builtin.SQL(builtin.DefaultConfig()))

	out := run(t, in, `
		sql_exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
		print(sql_exec("INSERT INTO items (name) VALUES (?), (?)", "a", "b"))
		local rows = sql_query("SELECT id, name FROM items WHERE id > ? ORDER BY id", 0)
		print(#rows, rows[2].name)
	`)
	if out != "2\n2\tb\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSQLModulePerSession(t *testing.T) {
	m := builtin.SQL(builtin.DefaultConfig())
	a, _ := bound(t, m)
	b, _ := bound(t, m)

	run(t, a, `sql_exec("CREATE TABLE only_a (x)")`)
	r := b.Exec(context.Background(), `sql_query("SELECT * FROM only_a")`)
	if r.Error == nil {
		t.Error("expected table to be private to the first session")
	}
}

func TestFunctions(t *testing.T) {
	catalog := builtin.Catalog(builtin.DefaultConfig())
	m, _ := catalog.Lookup("sql")
	d, ok := m.(module.Describer)
	if !ok {
		t.Fatal("expected sql module to describe its functions")
	}
	if diff := cmp.Diff([]string{"sql_exec", "sql_query"}, d.Functions()); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}
}
