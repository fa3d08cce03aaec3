package sandbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/luahive/hostfunc"
	"github.com/caffeineduck/luahive/module"
)

func TestBasicExecution(t *testing.T) {
	result := Run(context.Background(), `print("hello")`, DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if strings.TrimSpace(result.Output) != "hello" {
		t.Errorf("expected 'hello', got %q", result.Output)
	}
}

func TestComputation(t *testing.T) {
	result := Run(context.Background(), `
		local sum = 0
		for x = 0, 9 do sum = sum + x * x end
		print(sum)
	`, DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if strings.TrimSpace(result.Output) != "285" {
		t.Errorf("expected '285', got %q", result.Output)
	}
}

func TestHostFunctionCall(t *testing.T) {
	result := Run(context.Background(), `
		kv_set("key", "value")
		print(kv_get("key"))
	`, DefaultConfig())
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if strings.TrimSpace(result.Output) != "value" {
		t.Errorf("expected 'value', got %q", result.Output)
	}
}

func TestRunsAreIsolated(t *testing.T) {
	Run(context.Background(), `leftover = 1 kv_set("k", "v")`, DefaultConfig())
	result := Run(context.Background(), `print(leftover, kv_get("k", "none"))`, DefaultConfig())
	if result.Output != "nil\tnone\n" {
		t.Errorf("state leaked between runs: %q", result.Output)
	}
}

func TestSharedKVStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KVStore = hostfunc.NewKV(hostfunc.DefaultKVConfig())

	Run(context.Background(), `kv_set("counter", 1)`, cfg)
	result := Run(context.Background(), `print(kv_get("counter"))`, cfg)
	if strings.TrimSpace(result.Output) != "1" {
		t.Errorf("expected shared store value, got %q (err %v)", result.Output, result.Error)
	}
}

func TestHTTPWithAllowedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)

	cfg := DefaultConfig()
	cfg.AllowedHosts = []string{u.Hostname()}
	result := Run(context.Background(), `print(http_get("`+srv.URL+`").status)`, cfg)
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if strings.TrimSpace(result.Output) != "200" {
		t.Errorf("expected 200, got %q", result.Output)
	}
}

func TestHTTPBlockedHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedHosts = []string{"example.com"}
	result := Run(context.Background(), `
		local ok, err = pcall(http_get, "http://blocked.test/")
		print(ok, err)
	`, cfg)
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if !strings.Contains(result.Output, "host not allowed") {
		t.Errorf("expected host not allowed, got %q", result.Output)
	}
}

func TestMounts(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("mounted"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Modules = []string{"fs"}
	cfg.Mounts = []hostfunc.Mount{{VirtualPath: "/data", HostPath: dir}}
	result := Run(context.Background(), `print(fs_read("/data/f.txt"))`, cfg)
	if strings.TrimSpace(result.Output) != "mounted" {
		t.Errorf("expected mounted, got %q (err %v)", result.Output, result.Error)
	}
}

func TestUnknownModule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modules = []string{"nope"}
	result := Run(context.Background(), `print(1)`, cfg)
	if !errors.Is(result.Error, module.ErrNoModule) {
		t.Errorf("expected ErrNoModule, got %v", result.Error)
	}
}

func TestCustomRegistry(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("shout", func(ctx context.Context, args map[string]any) (any, error) {
		return strings.ToUpper(args["text"].(string)), nil
	}, "text")

	cfg := DefaultConfig()
	cfg.Registry = registry
	result := Run(context.Background(), `print(shout("hi"))`, cfg)
	if strings.TrimSpace(result.Output) != "HI" {
		t.Errorf("expected HI, got %q (err %v)", result.Output, result.Error)
	}
}

func TestSyntaxError(t *testing.T) {
	result := Run(context.Background(), `print(`, DefaultConfig())
	if result.Error == nil {
		t.Error("expected syntax error")
	}
}
