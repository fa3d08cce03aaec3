package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/luahive/session"
)

func newReplCmd() *cobra.Command {
	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL across sessions",
		Long: `Start an interactive REPL (Read-Eval-Print Loop).

Each line runs in the current session; globals persist between lines.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Commands:
  :new [path] [async]  create a session, optionally running path in it
  :use <handle>        make a session current
  :rm <handle>         remove a session (not the current one)
  :ls                  list sessions, * marks the current one
  :import <ref>        import a module into the current session
  :reset               clear globals in every session
  :errors              show errors reported by the current session

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	replCmd.Flags().String("history", "", "History file path (default: $LUAHIVE_HISTORY or ~/.luahive_history)")
	replCmd.Flags().String("include", "", "Script run in the first session")
	return replCmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	include, _ := cmd.Flags().GetString("include")

	a, err := newApp(cmd, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if historyFile == "" {
		historyFile = a.env.History
	}
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".luahive_history")
	}

	ctx := cmd.Context()
	if h, _, err := a.createSession(ctx, include, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error: session %d: %v\n", h, err)
	}

	r := &repl{app: a, out: os.Stdout, errOut: os.Stderr}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stderr, "luahive REPL (type 'exit' to quit, Ctrl+D to exit)")

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(r.prompt())
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
		}

		if r.eval(ctx, line) {
			break
		}
		rl.SetPrompt(r.prompt())
	}
	return nil
}

type repl struct {
	app    *app
	out    io.Writer
	errOut io.Writer
}

func (r *repl) prompt() string {
	return fmt.Sprintf("[%d]> ", r.app.registry.Current())
}

// eval handles one line of input and reports whether the REPL should exit.
func (r *repl) eval(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "exit" || line == "quit":
		return true
	case strings.HasPrefix(line, ":"):
		if err := r.command(ctx, strings.Fields(line[1:])); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}
		return false
	}

	reg := r.app.registry
	in := reg.GetByHandle(reg.Current())
	if in == nil {
		var err error
		if _, in, err = r.app.createSession(ctx, "", false); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
	}

	// output reaches r.out through the session's stdout
	result := in.Exec(ctx, line)
	if result.Error != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
	}
	return false
}

func (r *repl) command(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}
	reg := r.app.registry

	switch args[0] {
	case "new":
		var include string
		var async bool
		if len(args) > 1 {
			include = args[1]
		}
		if len(args) > 2 {
			async = args[2] == "async"
		}
		h, err := reg.Create(ctx, r.app.createOptions(include, async)...)
		if err != nil {
			return fmt.Errorf("session %d: %w", h, err)
		}
		fmt.Fprintln(r.out, h)

	case "use":
		h, err := handleArg(args)
		if err != nil {
			return err
		}
		if !reg.SetCurrent(h) {
			return fmt.Errorf("no session %d", h)
		}

	case "rm":
		h, err := handleArg(args)
		if err != nil {
			return err
		}
		if !reg.Remove(h) {
			return fmt.Errorf("cannot remove session %d (unknown or current)", h)
		}

	case "ls":
		current := reg.Current()
		for _, h := range reg.Handles() {
			mark := " "
			if h == current {
				mark = "*"
			}
			fmt.Fprintf(r.out, "%s %d\n", mark, h)
		}

	case "import":
		if len(args) < 2 {
			return errors.New("usage: :import <ref>")
		}
		location, err := reg.Import(ctx, args[1], nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, location)

	case "reset":
		reg.ResetAll(nil)

	case "errors":
		in := reg.GetByHandle(reg.Current())
		if in == nil {
			return errors.New("no current session")
		}
		for _, err := range in.Errors() {
			fmt.Fprintln(r.out, err)
		}

	default:
		return fmt.Errorf("unknown command :%s", args[0])
	}
	return nil
}

func handleArg(args []string) (session.Handle, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("usage: :%s <handle>", args[0])
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q", args[1])
	}
	return session.Handle(n), nil
}
