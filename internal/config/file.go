// Package config reads luahive settings from the environment and from an
// optional HCL file.
//
// A config file looks like:
//
//	modules     = ["kv", "http", "sql"]
//	plugins     = ["add.wasm"]
//	plugin_path = ["${env.HOME}/.luahive/plugins"]
//
//	kv {
//	  max_entries = 1000
//	  shared      = true
//	}
//
//	http {
//	  allowed_hosts = ["api.example.com"]
//	  timeout       = "10s"
//	}
//
//	mount "/data" {
//	  host = "./data"
//	  mode = "ro"
//	}
//
//	sql {
//	  dsn = "file:app.db"
//	}
//
//	session {
//	  include = "init.lua"
//	}
//
// Environment variables are available as env.NAME.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/caffeineduck/luahive/builtin"
	"github.com/caffeineduck/luahive/hostfunc"
)

type File struct {
	Modules    []string      `hcl:"modules,optional"`
	Plugins    []string      `hcl:"plugins,optional"`
	PluginPath []string      `hcl:"plugin_path,optional"`
	KV         *KVBlock      `hcl:"kv,block"`
	HTTP       *HTTPBlock    `hcl:"http,block"`
	Mounts     []MountBlock  `hcl:"mount,block"`
	SQL        *SQLBlock     `hcl:"sql,block"`
	Session    *SessionBlock `hcl:"session,block"`
}

type KVBlock struct {
	MaxKeySize   int  `hcl:"max_key_size,optional"`
	MaxValueSize int  `hcl:"max_value_size,optional"`
	MaxEntries   int  `hcl:"max_entries,optional"`
	Shared       bool `hcl:"shared,optional"`
}

type HTTPBlock struct {
	AllowedHosts []string `hcl:"allowed_hosts,optional"`
	MaxBodySize  int64    `hcl:"max_body_size,optional"`
	MaxURLLength int      `hcl:"max_url_length,optional"`
	Timeout      string   `hcl:"timeout,optional"`
}

type MountBlock struct {
	Path string `hcl:"path,label"`
	Host string `hcl:"host"`
	Mode string `hcl:"mode,optional"`
}

type SQLBlock struct {
	Driver  string `hcl:"driver,optional"`
	DSN     string `hcl:"dsn,optional"`
	MaxRows int    `hcl:"max_rows,optional"`
}

type SessionBlock struct {
	Include string `hcl:"include,optional"`
	Async   bool   `hcl:"async,optional"`
	BaseDir string `hcl:"base_dir,optional"`
}

// DefaultModules are bound into every session when a config names none.
var DefaultModules = []string{"kv", "http", "fs", "sql"}

// Load parses and decodes the HCL file at path.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(src, path)
}

// Parse decodes HCL source. filename is used in diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}

	var f File
	diags = gohcl.DecodeBody(file.Body, evalContext(), &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}
	return &f, nil
}

func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// ModuleNames returns the configured built-in modules, or DefaultModules.
func (f *File) ModuleNames() []string {
	if f == nil || f.Modules == nil {
		return DefaultModules
	}
	return f.Modules
}

// Builtin applies the file's module blocks on top of base.
func (f *File) Builtin(base builtin.Config) (builtin.Config, error) {
	cfg := base
	if f == nil {
		return cfg, nil
	}

	if f.KV != nil {
		if f.KV.MaxKeySize > 0 {
			cfg.KV.MaxKeySize = f.KV.MaxKeySize
		}
		if f.KV.MaxValueSize > 0 {
			cfg.KV.MaxValueSize = f.KV.MaxValueSize
		}
		if f.KV.MaxEntries > 0 {
			cfg.KV.MaxEntries = f.KV.MaxEntries
		}
		if f.KV.Shared {
			cfg.SharedKV = hostfunc.NewKV(cfg.KV)
		}
	}

	if f.HTTP != nil {
		cfg.HTTP.AllowedHosts = append(cfg.HTTP.AllowedHosts, f.HTTP.AllowedHosts...)
		if f.HTTP.MaxBodySize > 0 {
			cfg.HTTP.MaxBodySize = f.HTTP.MaxBodySize
		}
		if f.HTTP.MaxURLLength > 0 {
			cfg.HTTP.MaxURLLength = f.HTTP.MaxURLLength
		}
		if f.HTTP.Timeout != "" {
			d, err := time.ParseDuration(f.HTTP.Timeout)
			if err != nil {
				return cfg, fmt.Errorf("http timeout: %w", err)
			}
			cfg.HTTP.RequestTimeout = d
		}
	}

	for _, m := range f.Mounts {
		mode, err := hostfunc.ParseMountMode(m.Mode)
		if err != nil {
			return cfg, fmt.Errorf("mount %s: %w", m.Path, err)
		}
		cfg.Mounts = append(cfg.Mounts, hostfunc.Mount{VirtualPath: m.Path, HostPath: m.Host, Mode: mode})
	}

	if f.SQL != nil {
		if f.SQL.Driver != "" {
			cfg.SQLDriver = f.SQL.Driver
		}
		if f.SQL.DSN != "" {
			cfg.SQLDSN = f.SQL.DSN
		}
		if f.SQL.MaxRows > 0 {
			cfg.SQLMaxRows = f.SQL.MaxRows
		}
	}
	return cfg, nil
}
