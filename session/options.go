package session

import (
	"log/slog"

	"github.com/caffeineduck/luahive/interp"
	"github.com/caffeineduck/luahive/module"
)

// Option configures a Registry.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	loader     *module.Loader
	modules    []module.Module
	interpOpts []interp.Option
}

func defaultConfig() config {
	return config{
		logger: slog.New(slog.DiscardHandler),
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoader sets the loader used by Import. Without one, Import fails.
// The registry does not close the loader.
func WithLoader(l *module.Loader) Option {
	return func(c *config) {
		c.loader = l
	}
}

// WithModules seeds the module list every new session is bound to.
func WithModules(modules ...module.Module) Option {
	return func(c *config) {
		c.modules = append(c.modules, modules...)
	}
}

// WithInterpreterOptions applies opts to every interpreter the registry
// creates.
func WithInterpreterOptions(opts ...interp.Option) Option {
	return func(c *config) {
		c.interpOpts = append(c.interpOpts, opts...)
	}
}

// CreateOption configures a single Create call.
type CreateOption func(*createConfig)

type createConfig struct {
	include string
	async   bool
	opts    []interp.Option
}

// WithInclude runs the script at path in the new session before Create
// returns, or in the background with WithAsync.
func WithInclude(path string) CreateOption {
	return func(c *createConfig) {
		c.include = path
	}
}

// WithAsync runs the include on a background goroutine. Create returns as
// soon as the session is registered; the include may not have started,
// finished or succeeded by then, and nothing orders it against later
// operations on the same handle. A failure is reported only through the
// session's own error channel (Interpreter.Errors, its stderr writer and
// OnError hook). There is no cancellation.
func WithAsync() CreateOption {
	return func(c *createConfig) {
		c.async = true
	}
}

// WithSessionOptions applies opts to this session only, after the
// registry-wide interpreter options.
func WithSessionOptions(opts ...interp.Option) CreateOption {
	return func(c *createConfig) {
		c.opts = append(c.opts, opts...)
	}
}
