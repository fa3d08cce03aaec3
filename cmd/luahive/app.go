package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caffeineduck/luahive/builtin"
	"github.com/caffeineduck/luahive/hostfunc"
	"github.com/caffeineduck/luahive/internal/config"
	"github.com/caffeineduck/luahive/internal/logging"
	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
	"github.com/caffeineduck/luahive/session"
)

// app is everything a command needs: settings merged from the environment,
// the config file and flags, plus the loader and registry built from them.
type app struct {
	env      config.Env
	file     *config.File
	logger   *slog.Logger
	loader   *module.Loader
	registry *session.Registry
}

// newApp wires the runtime for cmd. Session output goes to stdout when it
// is non-nil; errors and logs go to stderr.
func newApp(cmd *cobra.Command, stdout, stderr io.Writer) (*app, error) {
	env, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("log-level"); v != "" {
		env.LogLevel = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		env.LogFormat = v
	}
	if v, _ := flags.GetString("config"); v != "" {
		env.ConfigFile = v
	}

	logger := logging.New(env.LogLevel, env.LogFormat, stderr)

	var file *config.File
	if env.ConfigFile != "" {
		file, err = config.Load(env.ConfigFile)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded config", "path", env.ConfigFile)
	}

	bc, err := file.Builtin(builtin.DefaultConfig())
	if err != nil {
		return nil, err
	}
	hosts, _ := flags.GetStringSlice("allow-host")
	bc.HTTP.AllowedHosts = append(bc.HTTP.AllowedHosts, hosts...)
	mounts, _ := flags.GetStringSlice("mount")
	for _, spec := range mounts {
		m, err := parseMount(spec)
		if err != nil {
			return nil, err
		}
		bc.Mounts = append(bc.Mounts, m)
	}
	if dsn, _ := flags.GetString("sql-dsn"); dsn != "" {
		bc.SQLDSN = dsn
	}
	applyLimits(flags, &bc)

	catalog := builtin.Catalog(bc)

	searchPath, _ := flags.GetStringSlice("plugin-path")
	searchPath = append(searchPath, env.PluginPath...)
	if file != nil {
		searchPath = append(searchPath, file.PluginPath...)
	}

	loaderOpts := []module.LoaderOption{
		module.WithCatalog(catalog),
		module.WithSearchPath(searchPath...),
		module.WithLoaderLogger(logger),
	}
	if noCache, _ := flags.GetBool("no-cache"); !noCache {
		if env.CacheDir != "" {
			loaderOpts = append(loaderOpts, module.WithDiskCache(env.CacheDir))
		} else {
			loaderOpts = append(loaderOpts, module.WithDiskCache())
		}
	}
	if mem, _ := flags.GetString("memory"); mem != "" {
		pages := parseMemoryLimit(mem)
		if pages == 0 {
			return nil, fmt.Errorf("invalid memory limit %q", mem)
		}
		loaderOpts = append(loaderOpts, module.WithMemoryLimit(pages))
	}
	loader := module.NewLoader(loaderOpts...)

	names, _ := flags.GetStringSlice("module")
	if len(names) == 0 {
		names = file.ModuleNames()
	}
	modules := make([]module.Module, 0, len(names))
	for _, name := range names {
		m, ok := catalog.Lookup(name)
		if !ok {
			loader.Close()
			return nil, fmt.Errorf("%w: %s", module.ErrNoModule, name)
		}
		modules = append(modules, m)
	}

	interpOpts := []interp.Option{
		interp.WithStderr(stderr),
		interp.WithLogger(logger),
	}
	if stdout != nil {
		interpOpts = append(interpOpts, interp.WithStdout(stdout))
	}
	if file != nil && file.Session != nil && file.Session.BaseDir != "" {
		interpOpts = append(interpOpts, interp.WithBaseDir(file.Session.BaseDir))
	}

	reg := session.New(
		session.WithLogger(logger),
		session.WithLoader(loader),
		session.WithModules(modules...),
		session.WithInterpreterOptions(interpOpts...),
	)

	a := &app{
		env:      env,
		file:     file,
		logger:   logger,
		loader:   loader,
		registry: reg,
	}

	imports, _ := flags.GetStringSlice("import")
	if file != nil {
		imports = append(file.Plugins, imports...)
	}
	for _, ref := range imports {
		if _, err := reg.Import(cmd.Context(), ref, nil); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func applyLimits(flags *pflag.FlagSet, bc *builtin.Config) {
	if n, _ := flags.GetInt("http-max-url"); n > 0 {
		bc.HTTP.MaxURLLength = n
	}
	if n, _ := flags.GetInt64("http-max-body"); n > 0 {
		bc.HTTP.MaxBodySize = n
	}
	if n, _ := flags.GetInt64("fs-max-file"); n > 0 {
		bc.FSOptions = append(bc.FSOptions, hostfunc.WithMaxFileSize(n))
	}
	if n, _ := flags.GetInt64("fs-max-write"); n > 0 {
		bc.FSOptions = append(bc.FSOptions, hostfunc.WithMaxWriteSize(n))
	}
	if n, _ := flags.GetInt("fs-max-path"); n > 0 {
		bc.FSOptions = append(bc.FSOptions, hostfunc.WithMaxPathLength(n))
	}
	if n, _ := flags.GetInt("sql-max-rows"); n > 0 {
		bc.SQLMaxRows = n
	}
}

// createOptions returns the create options for a session, with flags
// taking precedence over the config file's session block.
func (a *app) createOptions(include string, async bool) []session.CreateOption {
	if include == "" && a.file != nil && a.file.Session != nil {
		include = a.file.Session.Include
		async = async || a.file.Session.Async
	}
	if include == "" {
		return nil
	}
	opts := []session.CreateOption{session.WithInclude(include)}
	if async {
		opts = append(opts, session.WithAsync())
	}
	return opts
}

// createSession creates a session and returns it along with its handle.
func (a *app) createSession(ctx context.Context, include string, async bool) (session.Handle, *interp.Interpreter, error) {
	h, err := a.registry.Create(ctx, a.createOptions(include, async)...)
	return h, a.registry.GetByHandle(h), err
}

func (a *app) Close() error {
	return errors.Join(a.registry.Close(), a.loader.Close())
}
