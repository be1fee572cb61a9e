//go:build !((linux || darwin) && cgo)

package plugin

import "github.com/tessro/atelier/internal/backend"

// DynamicLoading reports whether shared-library plugins can be opened.
const DynamicLoading = false

func openLibrary(string) (backend.Plugin, any, error) {
	return nil, nil, ErrDynamicUnsupported
}
