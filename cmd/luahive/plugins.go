package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/luahive/internal/config"
	"github.com/caffeineduck/luahive/module"
)

func newPluginsCmd() *cobra.Command {
	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "List and inspect loadable modules",
		Long: `Inspect the modules a session can import.

Built-in modules are always available. WebAssembly (.wasm) and Go plugin
(.so) artifacts are found in the plugin path (--plugin-path,
$LUAHIVE_PLUGIN_PATH and the config file's plugin_path).`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List built-in modules and artifacts in the plugin path",
		Args:  cobra.NoArgs,
		RunE:  runPluginsList,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <ref>",
		Short: "Load a module and show the functions it registers",
		Args:  cobra.ExactArgs(1),
		RunE:  runPluginsInspect,
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Compilation cache management commands",
	}
	cacheClearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the WebAssembly compilation cache",
		Args:  cobra.NoArgs,
		RunE:  runPluginsCacheClear,
	}
	cacheCmd.AddCommand(cacheClearCmd)

	pluginsCmd.AddCommand(listCmd, inspectCmd, cacheCmd)
	return pluginsCmd
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Built-in:")
	catalog := a.loader.Catalog()
	for _, name := range catalog.Names() {
		m, _ := catalog.Lookup(name)
		var funcs []string
		if d, ok := m.(module.Describer); ok {
			funcs = d.Functions()
		}
		fmt.Fprintf(out, "  %-8s %s\n", name, strings.Join(funcs, ", "))
	}

	var artifacts []string
	for _, dir := range a.loader.SearchPath() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			a.logger.Debug("skipping plugin dir", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch filepath.Ext(e.Name()) {
			case ".wasm", ".so":
				artifacts = append(artifacts, filepath.Join(dir, e.Name()))
			}
		}
	}

	if len(artifacts) == 0 {
		fmt.Fprintln(out, "No artifacts in plugin path")
		return nil
	}
	fmt.Fprintln(out, "Artifacts:")
	for _, path := range artifacts {
		fmt.Fprintf(out, "  %s\n", path)
	}
	return nil
}

func runPluginsInspect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.loader.Inspect(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:      %s\n", info.Name)
	fmt.Fprintf(out, "Location:  %s\n", info.Location)
	if len(info.Functions) == 0 {
		fmt.Fprintln(out, "Functions: (none reported)")
		return nil
	}
	fmt.Fprintln(out, "Functions:")
	for _, fn := range info.Functions {
		fmt.Fprintf(out, "  %s\n", fn)
	}
	return nil
}

func runPluginsCacheClear(cmd *cobra.Command, args []string) error {
	env, err := config.ParseEnv()
	if err != nil {
		return err
	}
	dir := env.CacheDir
	if dir == "" {
		dir = module.DefaultCacheDir()
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", dir)
	return nil
}
