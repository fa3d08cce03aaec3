package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/luahive/hostfunc"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"luahive",
		"Lua",
		"WebAssembly",
		"run",
		"repl",
		"serve",
		"plugins",
		"--plugin-path",
		"--config",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--code",
		"--include",
		"--async",
		"--allow-host",
		"--mount",
		"--module",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "repl", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--history",
		"Command history",
		"Line editing",
		":new",
		":import",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--port", "--session-ttl", "/interpreters", "/import"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIRunCode(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "-c", "print(1 + 2)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "3\n" {
		t.Errorf("expected %q, got %q", "3\n", output)
	}
}

func TestCLIRootRunsFile(t *testing.T) {
	path := writeFile(t, "hello.lua", `print("hello from file")`)

	output, err := executeCommand(newRootCmd(), "--no-cache", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "hello from file\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIRunInclude(t *testing.T) {
	path := writeFile(t, "init.lua", `greeting = "hi"`)

	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--include", path, "-c", "print(greeting)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "hi\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIRunAsyncIncludeWaits(t *testing.T) {
	path := writeFile(t, "bg.lua", `print("background")`)

	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--include", path, "--async", "-c", `print("foreground")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"background\n", "foreground\n"} {
		if !strings.Contains(output, want) {
			t.Errorf("output %q missing %q", output, want)
		}
	}
}

func TestCLIRunError(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "run", "--no-cache", "-c", `error("boom")`)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected script error, got %v", err)
	}
}

func TestCLIRunModules(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--module", "kv", "-c", `
		kv_set("a", "b")
		print(kv_get("a"), http_get == nil)
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "b\ttrue\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIRunUnknownModule(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "run", "--no-cache", "--module", "nope", "-c", "print(1)")
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("expected unknown module error, got %v", err)
	}
}

func TestCLIRunConfig(t *testing.T) {
	include := writeFile(t, "init.lua", `from_config = 42`)
	cfg := writeFile(t, "luahive.hcl", `
modules = ["kv"]

session {
  include = "`+include+`"
}
`)

	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--config", cfg, "-c", "print(from_config, kv_keys ~= nil, sql_query == nil)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "42\ttrue\ttrue\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIRunBadConfig(t *testing.T) {
	cfg := writeFile(t, "bad.hcl", `modules = [`)
	_, err := executeCommand(newRootCmd(), "run", "--no-cache", "--config", cfg, "-c", "print(1)")
	if err == nil {
		t.Error("expected config error")
	}
}

func TestCLIRunSessionCommands(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "-c", `
		local h = NewInterpreter()
		print(h, #ListInterpreters(), GetCurrentInterpreterHandle())
	`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "2\t2\t1\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIRunMount(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("mounted"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--mount", "/data:"+dir+":ro", "-c", `print(fs_read("/data/in.txt"))`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "mounted\n" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestCLIPluginsList(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "plugins", "list", "--no-cache", "--plugin-path", t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{"kv", "kv_get", "sql_query", "No artifacts"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("plugins list output should contain %q, got %q", phrase, output)
		}
	}
}

func TestCLIPluginsListArtifacts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"add.wasm", "ext.so", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	output, err := executeCommand(newRootCmd(), "plugins", "list", "--no-cache", "--plugin-path", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "add.wasm") || !strings.Contains(output, "ext.so") {
		t.Errorf("expected artifacts listed, got %q", output)
	}
	if strings.Contains(output, "notes.txt") {
		t.Error("non-module file listed")
	}
}

func TestCLIPluginsInspect(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "plugins", "inspect", "--no-cache", "kv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{"Name:      kv", "Location:  catalog:kv", "kv_set"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("inspect output should contain %q, got %q", phrase, output)
		}
	}
}

func TestCLIPluginsInspectMissing(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "plugins", "inspect", "--no-cache", "missing.wasm")
	if err == nil {
		t.Error("expected error for missing artifact")
	}
}

func TestParseMount(t *testing.T) {
	got, err := parseMount("/data:./data:rw")
	if err != nil {
		t.Fatal(err)
	}
	want := hostfunc.Mount{VirtualPath: "/data", HostPath: "./data", Mode: hostfunc.MountReadWrite}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mount mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"/data", "/data:./data", "/data:./data:xx"} {
		if _, err := parseMount(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseMemoryLimit(t *testing.T) {
	tests := map[string]uint32{
		"1mb":   memoryLimit1MB,
		"16MB":  memoryLimit16MB,
		"64mb":  memoryLimit64MB,
		"256mb": memoryLimit256MB,
		"1gb":   memoryLimit1GB,
		"huge":  0,
	}
	for in, want := range tests {
		if got := parseMemoryLimit(in); got != want {
			t.Errorf("parseMemoryLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCLIRunBadMemory(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "run", "--memory", "huge", "-c", "print(1)")
	if err == nil || !strings.Contains(err.Error(), "memory") {
		t.Errorf("expected memory limit error, got %v", err)
	}
}

func newTestApp(t *testing.T, out *bytes.Buffer, args ...string) *app {
	t.Helper()
	root := newRootCmd()
	root.SetContext(context.Background())
	if err := root.ParseFlags(append([]string{"--no-cache"}, args...)); err != nil {
		t.Fatal(err)
	}
	a, err := newApp(root, out, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestREPLCommands(t *testing.T) {
	out := new(bytes.Buffer)
	a := newTestApp(t, out)
	r := &repl{app: a, out: out, errOut: out}
	ctx := context.Background()

	steps := []struct {
		line string
		want string
	}{
		{`x = 1`, ""},
		{`print(x)`, "1\n"},
		{`:new`, "2\n"},
		{`:ls`, "* 1\n  2\n"},
		{`:use 2`, ""},
		{`print(x)`, "nil\n"},
		{`:rm 2`, "Error: cannot remove session 2 (unknown or current)\n"},
		{`:rm 1`, ""},
		{`:ls`, "* 2\n"},
		{`:use 9`, "Error: no session 9\n"},
		{`:bogus`, "Error: unknown command :bogus\n"},
		{`:import kv`, "catalog:kv\n"},
		{`y = 2`, ""},
		{`:reset`, ""},
		{`print(y)`, "nil\n"},
	}
	for _, step := range steps {
		out.Reset()
		if r.eval(ctx, step.line) {
			t.Fatalf("%q: unexpected exit", step.line)
		}
		if out.String() != step.want {
			t.Errorf("%q: expected %q, got %q", step.line, step.want, out.String())
		}
	}

	if r.prompt() != "[2]> " {
		t.Errorf("unexpected prompt %q", r.prompt())
	}
	if !r.eval(ctx, "exit") || !r.eval(ctx, "  quit ") {
		t.Error("exit and quit should end the REPL")
	}
}

func TestREPLCreatesSessionWhenNoneCurrent(t *testing.T) {
	out := new(bytes.Buffer)
	a := newTestApp(t, out)
	r := &repl{app: a, out: out, errOut: out}

	r.eval(context.Background(), `print(GetInterpreterHandle())`)
	if out.String() != "1\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestREPLErrors(t *testing.T) {
	out := new(bytes.Buffer)
	a := newTestApp(t, out)
	r := &repl{app: a, out: out, errOut: out}
	ctx := context.Background()

	r.eval(ctx, `error("oops")`)
	if !strings.Contains(out.String(), "Error:") || !strings.Contains(out.String(), "oops") {
		t.Errorf("expected error output, got %q", out.String())
	}

	path := writeFile(t, "fail.lua", `error("late failure")`)
	out.Reset()
	r.eval(ctx, ":new "+path+" async")
	a.registry.Wait()
	r.eval(ctx, ":use 2")
	out.Reset()
	r.eval(ctx, ":errors")
	if !strings.Contains(out.String(), "late failure") {
		t.Errorf("expected background include error, got %q", out.String())
	}
}
