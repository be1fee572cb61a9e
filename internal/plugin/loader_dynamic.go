//go:build (linux || darwin) && cgo

package plugin

import (
	"fmt"
	goplugin "plugin"

	"github.com/tessro/atelier/internal/backend"
)

// DynamicLoading reports whether shared-library plugins can be opened.
const DynamicLoading = true

// openLibrary opens a shared library and calls its NewPlugin constructor.
// The returned handle must stay referenced for the plugin's lifetime.
func openLibrary(path string) (backend.Plugin, any, error) {
	lib, err := goplugin.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	sym, err := lib.Lookup(ConstructorSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, ErrNoConstructor)
	}

	var p backend.Plugin
	switch ctor := sym.(type) {
	case func() backend.Plugin:
		p = ctor()
	case *backend.Constructor:
		p = (*ctor)()
	case *func() backend.Plugin:
		p = (*ctor)()
	default:
		return nil, nil, fmt.Errorf("%s: %w: %s has type %T", path, ErrNoConstructor, ConstructorSymbol, sym)
	}
	if p == nil {
		return nil, nil, fmt.Errorf("%s: %s returned nil", path, ConstructorSymbol)
	}
	return p, lib, nil
}
