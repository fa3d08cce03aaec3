package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script in a fresh session",
		Long: `Execute Lua code in a new session.

Code can be provided via:
  - File argument: luahive run script.lua
  - Inline flag: luahive run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | luahive run

--include runs a script in the session before the code, or in the
background with --async. The command waits for background includes
before exiting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addRunFlags(runCmd)
	return runCmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().String("include", "", "Script run in the session before the code")
	cmd.Flags().Bool("async", false, "Run --include in the background")
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	include, _ := cmd.Flags().GetString("include")
	async, _ := cmd.Flags().GetBool("async")

	var file string
	if len(args) > 0 {
		file = args[0]
	}

	if code == "" && file == "" {
		src, err := readStdin(cmd)
		if err != nil {
			return err
		}
		code = src
	}
	if code == "" && file == "" && include == "" {
		return cmd.Help()
	}

	a, err := newApp(cmd, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	h, in, err := a.createSession(ctx, include, async)
	if err != nil {
		return fmt.Errorf("session %d: %w", h, err)
	}

	switch {
	case file != "":
		err = in.Include(ctx, file)
	case code != "":
		err = in.Exec(ctx, code).Error
	}

	// output from background includes belongs to this run
	a.registry.Wait()
	return err
}

// readStdin returns piped input, or "" when stdin is a terminal.
func readStdin(cmd *cobra.Command) (string, error) {
	r := cmd.InOrStdin()
	if f, ok := r.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}
