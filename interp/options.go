package interp

import (
	"io"
	"log/slog"
)

// Option configures an Interpreter.
type Option func(*config)

type config struct {
	stdout  io.Writer
	stderr  io.Writer
	onError func(error)
	logger  *slog.Logger
	baseDir string
}

func defaultConfig() config {
	return config{
		stderr: io.Discard,
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithStdout copies everything the session prints to w, in addition to the
// output captured in each Result.
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		c.stdout = w
	}
}

// WithStderr sets where reported errors are written.
func WithStderr(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.stderr = w
		}
	}
}

// WithOnError registers a hook called for every reported error.
func WithOnError(fn func(error)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBaseDir resolves relative include paths against dir.
func WithBaseDir(dir string) Option {
	return func(c *config) {
		c.baseDir = dir
	}
}
