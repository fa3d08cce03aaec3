package module

// WithPluginOpener replaces plugin.Open so tests can supply fake symbols.
func WithPluginOpener(open func(path string) (Symbols, error)) LoaderOption {
	return func(cfg *loaderConfig) {
		cfg.openPlugin = open
	}
}
