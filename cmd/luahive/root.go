package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/luahive/hostfunc"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "luahive [file]",
		Short: "Multi-session Lua host with loadable modules",
		Long: `luahive - Run Lua scripts across many independent interpreter sessions.

Scripts manage sessions themselves (NewInterpreter, SetInterpreter,
RemoveInterpreter, Import ...). Capabilities come from built-in modules
(kv, http, fs, sql), WebAssembly artifacts (.wasm) and Go plugins (.so).`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "HCL config file (default: $LUAHIVE_CONFIG)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (default: $LUAHIVE_LOG_LEVEL or warn)")
	flags.String("log-format", "", "Log format: text, json")
	flags.StringSlice("plugin-path", nil, "Directory searched for .wasm and .so modules (repeatable)")
	flags.StringSlice("module", nil, "Built-in module bound into every session (repeatable, default: all)")
	flags.StringSlice("import", nil, "Module imported at startup (repeatable)")
	flags.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	flags.StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
	flags.String("sql-dsn", "", "SQLite DSN for the sql module (default: private in-memory database)")
	flags.Bool("no-cache", false, "Disable WebAssembly compilation cache")
	flags.String("memory", "", "WebAssembly memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")

	// Security limits
	flags.Int("http-max-url", 0, "Max HTTP URL length")
	flags.Int64("http-max-body", 0, "Max HTTP response body size")
	flags.Int64("fs-max-file", 0, "Max file read size")
	flags.Int64("fs-max-write", 0, "Max file write size")
	flags.Int("fs-max-path", 0, "Max path length")
	flags.Int("sql-max-rows", 0, "Max rows returned by sql_query")

	addRunFlags(rootCmd)

	rootCmd.AddCommand(
		newRunCmd(),
		newReplCmd(),
		newServeCmd(),
		newPluginsCmd(),
	)
	return rootCmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}

	mode, err := hostfunc.ParseMountMode(parts[2])
	if err != nil {
		return hostfunc.Mount{}, err
	}

	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    parts[1],
		Mode:        mode,
	}, nil
}

// WebAssembly memory limits in 64KiB pages.
const (
	memoryLimit1MB   uint32 = 16
	memoryLimit16MB  uint32 = 256
	memoryLimit64MB  uint32 = 1024
	memoryLimit256MB uint32 = 4096
	memoryLimit1GB   uint32 = 16384
)

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return memoryLimit1MB
	case "16mb":
		return memoryLimit16MB
	case "64mb":
		return memoryLimit64MB
	case "256mb":
		return memoryLimit256MB
	case "1gb":
		return memoryLimit1GB
	default:
		return 0 // use default
	}
}
