package module

import (
	"fmt"
	"path/filepath"
	"plugin"
)

// Symbols is the lookup side of a loaded Go plugin.
type Symbols interface {
	Lookup(name string) (plugin.Symbol, error)
}

func openPlugin(path string) (Symbols, error) {
	return plugin.Open(path)
}

// Plugin symbol names. A plugin exports either a Module symbol or an
// Exports list, or both:
//
//	var Module module.Module = counter{}
//	func Exports() []any { return []any{counter{}, other{}} }
const (
	ModuleSymbol  = "Module"
	ExportsSymbol = "Exports"
)

func (l *Loader) loadPlugin(path string) (Module, error) {
	syms, err := l.cfg.openPlugin(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", filepath.Base(path), err)
	}

	candidates := pluginCandidates(syms)
	var chosen Module
	for _, c := range candidates {
		m, ok := asModule(c)
		if !ok {
			continue
		}
		if chosen == nil {
			chosen = m
			continue
		}
		l.cfg.logger.Warn("ignoring additional module in plugin",
			"path", path, "used", chosen.Name(), "ignored", m.Name())
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoModule, filepath.Base(path))
	}
	l.cfg.logger.Debug("loaded plugin module", "path", path, "module", chosen.Name())
	return chosen, nil
}

// pluginCandidates lists exported values in lookup order: the Module
// symbol first, then each element of Exports.
func pluginCandidates(syms Symbols) []any {
	var out []any
	if sym, err := syms.Lookup(ModuleSymbol); err == nil {
		out = append(out, sym)
	}
	if sym, err := syms.Lookup(ExportsSymbol); err == nil {
		switch v := sym.(type) {
		case []any:
			out = append(out, v...)
		case *[]any:
			out = append(out, (*v)...)
		case func() []any:
			out = append(out, v()...)
		}
	}
	return out
}

func asModule(v any) (Module, bool) {
	switch x := v.(type) {
	case Module:
		return x, x != nil
	case *Module:
		if x == nil || *x == nil {
			return nil, false
		}
		return *x, true
	case func() Module:
		m := x()
		return m, m != nil
	}
	return nil, false
}
