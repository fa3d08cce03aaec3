// Package builtin provides the modules compiled into luahive: kv, http, fs
// and sql. Each wraps a hostfunc capability and binds its functions as
// globals in a session.
package builtin

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/caffeineduck/luahive/hostfunc"
	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
)

const (
	DefaultSQLDriver = "sqlite"
	DefaultSQLDSN    = ":memory:"
)

// Config holds the settings for every built-in module.
type Config struct {
	KV hostfunc.KVConfig
	// SharedKV, when set, is used by every session instead of a private store.
	SharedKV *hostfunc.KV

	HTTP hostfunc.HTTPConfig

	Mounts    []hostfunc.Mount
	FSOptions []hostfunc.FSOption

	SQLDriver  string
	SQLDSN     string
	SQLMaxRows int
}

func DefaultConfig() Config {
	return Config{
		KV:        hostfunc.DefaultKVConfig(),
		SQLDriver: DefaultSQLDriver,
		SQLDSN:    DefaultSQLDSN,
	}
}

// Catalog returns a catalog holding all built-in modules.
func Catalog(cfg Config) *module.Catalog {
	return module.NewCatalog(KV(cfg), HTTP(cfg), FS(cfg), SQL(cfg))
}

func bindSpecs(in *interp.Interpreter, specs []hostfunc.Spec) {
	for _, s := range specs {
		in.Bind(s)
	}
}

func specNames(specs []hostfunc.Spec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

type kvModule struct {
	cfg    hostfunc.KVConfig
	shared *hostfunc.KV
}

// KV returns the kv module: kv_get, kv_set, kv_delete and kv_keys.
func KV(cfg Config) module.Module {
	kvCfg := cfg.KV
	if kvCfg == (hostfunc.KVConfig{}) {
		kvCfg = hostfunc.DefaultKVConfig()
	}
	return &kvModule{cfg: kvCfg, shared: cfg.SharedKV}
}

func (m *kvModule) Name() string { return "kv" }

func (m *kvModule) Functions() []string {
	return specNames(hostfunc.NewKV(m.cfg).Specs())
}

func (m *kvModule) Bind(ctx context.Context, in *interp.Interpreter) (module.Instance, error) {
	store := m.shared
	if store == nil {
		store = hostfunc.NewKV(m.cfg)
	}
	bindSpecs(in, store.Specs())
	return module.Nop, nil
}

type httpModule struct {
	client *hostfunc.HTTP
}

// HTTP returns the http module: http_request and http_get. Without allowed
// hosts every request fails.
func HTTP(cfg Config) module.Module {
	return &httpModule{client: hostfunc.NewHTTP(cfg.HTTP)}
}

func (m *httpModule) Name() string { return "http" }

func (m *httpModule) Functions() []string {
	return specNames(m.client.Specs())
}

func (m *httpModule) Bind(ctx context.Context, in *interp.Interpreter) (module.Instance, error) {
	bindSpecs(in, m.client.Specs())
	return module.Nop, nil
}

type fsModule struct {
	mounts []hostfunc.Mount
	opts   []hostfunc.FSOption
}

// FS returns the fs module. Each session opens its own handles on the
// configured mounts and closes them on release.
func FS(cfg Config) module.Module {
	return &fsModule{mounts: cfg.Mounts, opts: cfg.FSOptions}
}

func (m *fsModule) Name() string { return "fs" }

func (m *fsModule) Functions() []string {
	return specNames((&hostfunc.FS{}).Specs())
}

func (m *fsModule) Bind(ctx context.Context, in *interp.Interpreter) (module.Instance, error) {
	fs, err := hostfunc.NewFS(m.mounts, m.opts...)
	if err != nil {
		return nil, err
	}
	bindSpecs(in, fs.Specs())
	return module.ReleaseFunc(fs.Close), nil
}

type sqlModule struct {
	driver  string
	dsn     string
	maxRows int
}

// SQL returns the sql module: sql_exec and sql_query against a database
// opened per session.
func SQL(cfg Config) module.Module {
	m := &sqlModule{driver: cfg.SQLDriver, dsn: cfg.SQLDSN, maxRows: cfg.SQLMaxRows}
	if m.driver == "" {
		m.driver = DefaultSQLDriver
	}
	if m.dsn == "" {
		m.dsn = DefaultSQLDSN
	}
	return m
}

func (m *sqlModule) Name() string { return "sql" }

func (m *sqlModule) Functions() []string {
	return specNames(hostfunc.NewSQL(nil, 0).Specs())
}

func (m *sqlModule) Bind(ctx context.Context, in *interp.Interpreter) (module.Instance, error) {
	db, err := sql.Open(m.driver, m.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", m.driver, err)
	}
	// an in-memory database lives only as long as its connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s database: %w", m.driver, err)
	}
	bindSpecs(in, hostfunc.NewSQL(db, m.maxRows).Specs())
	return module.ReleaseFunc(db.Close), nil
}
