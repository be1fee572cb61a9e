package plugin

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tessro/atelier/internal/manifest"
)

//go:embed all:defaults
var defaultsFS embed.FS

const defaultsRoot = "defaults"

// DefaultNames returns the names of the embedded default plugins, sorted.
func DefaultNames() []string {
	entries, err := fs.ReadDir(defaultsFS, defaultsRoot)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// DefaultManifests parses every embedded default manifest.
func DefaultManifests() ([]*manifest.Manifest, error) {
	var out []*manifest.Manifest
	for _, name := range DefaultNames() {
		m, err := defaultManifest(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func defaultManifest(name string) (*manifest.Manifest, error) {
	for _, file := range manifest.FileNames {
		p := path.Join(defaultsRoot, name, file)
		data, err := defaultsFS.ReadFile(p)
		if err != nil {
			continue
		}
		m, err := manifest.Parse(data, strings.TrimPrefix(path.Ext(file), "."))
		if err != nil {
			return nil, fmt.Errorf("embedded %s: %w", p, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("embedded %s: %w", p, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w for embedded plugin %s", manifest.ErrNoManifest, name)
}

// InstallDefaults writes the embedded default plugins into dir. Plugins
// that already have a manifest in dir are left untouched. It returns the
// names that were written.
func InstallDefaults(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create plugin dir: %w", err)
	}

	var installed []string
	for _, name := range DefaultNames() {
		dest := filepath.Join(dir, name)
		if _, ok := manifest.Find(dest); ok {
			continue
		}
		if err := installOne(name, dest); err != nil {
			return installed, err
		}
		installed = append(installed, name)
	}
	return installed, nil
}

func installOne(name, dest string) error {
	src := path.Join(defaultsRoot, name)
	return fs.WalkDir(defaultsFS, src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(p, src), "/")
		target := filepath.Join(dest, filepath.FromSlash(rel))

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		content, err := defaultsFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read embedded file %s: %w", p, err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("write file %s: %w", target, err)
		}
		return nil
	})
}
