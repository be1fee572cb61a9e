// Package plugin discovers, loads, and manages agent CLI plugins.
//
// Each plugin directory holds a manifest. A compiled shared library next to
// the manifest is tried first; when it is absent or fails to load, the
// manifest alone drives a config-based adapter.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/generic"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/settings"
)

// ConstructorSymbol is the symbol a shared-library plugin must export.
const ConstructorSymbol = "NewPlugin"

// Errors returned by the manager and loaders.
var (
	ErrDuplicatePlugin    = errors.New("plugin already registered")
	ErrNoLibrary          = errors.New("no shared library")
	ErrNoConstructor      = errors.New("missing plugin constructor")
	ErrDynamicUnsupported = errors.New("dynamic loading not supported on this platform")
)

// libExts are the shared-library extensions probed in a plugin directory.
var libExts = []string{".so", ".dylib", ".dll"}

// Manager holds loaded plugins and resolves their flag settings.
type Manager struct {
	store       *settings.Store
	adapterOpts []generic.Option
	log         *slog.Logger

	// +checklocks:mu
	plugins map[string]backend.Plugin
	// +checklocks:mu
	libs []any
	mu   sync.RWMutex
}

// NewManager creates a manager backed by store. adapterOpts are applied to
// every config-driven adapter it builds.
func NewManager(store *settings.Store, adapterOpts ...generic.Option) *Manager {
	return &Manager{
		store:       store,
		adapterOpts: adapterOpts,
		log:         slog.With("component", "plugin.Manager"),
		plugins:     make(map[string]backend.Plugin),
	}
}

// Register adds a statically linked plugin.
func (m *Manager) Register(p backend.Plugin) error {
	name := p.Name()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	m.plugins[name] = p
	return nil
}

// Discover loads every plugin directory under root and returns how many
// were registered. A missing root yields zero plugins. A bad plugin is
// skipped with a log entry and never fails the whole load.
func (m *Manager) Discover(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Warn("plugin directory does not exist", "dir", root)
			return 0, nil
		}
		return 0, fmt.Errorf("read plugin dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		path, ok := manifest.Find(dir)
		if !ok {
			continue
		}
		p, err := m.load(path)
		if err != nil {
			m.log.Warn("skipping plugin", "dir", dir, "error", err)
			continue
		}
		if err := m.Register(p); err != nil {
			m.log.Warn("skipping plugin", "dir", dir, "error", err)
			closePlugin(p)
			continue
		}
		m.log.Info("loaded plugin", "name", p.Name(), "dir", dir)
		loaded++
	}
	return loaded, nil
}

// RegisterDefaults registers the embedded default plugins that are not
// already loaded.
func (m *Manager) RegisterDefaults() (int, error) {
	manifests, err := DefaultManifests()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, mf := range manifests {
		if _, err := m.Get(mf.Plugin.Name); err == nil {
			continue
		}
		a, err := generic.New(mf, m.adapterOpts...)
		if err != nil {
			return n, err
		}
		if err := m.Register(a); err != nil {
			a.Close()
			continue
		}
		n++
	}
	return n, nil
}

// load builds one plugin from the manifest at path, preferring a compiled
// library and falling back to the config-driven adapter.
func (m *Manager) load(path string) (backend.Plugin, error) {
	mf, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	if lib, err := libraryPath(mf); err == nil {
		p, handle, err := openLibrary(lib)
		if err == nil {
			m.mu.Lock()
			m.libs = append(m.libs, handle)
			m.mu.Unlock()
			return p, nil
		}
		m.log.Warn("dynamic load failed, using manifest", "plugin", mf.Plugin.Name, "library", lib, "error", err)
	} else {
		m.log.Debug("no shared library, using manifest", "plugin", mf.Plugin.Name)
	}

	return generic.New(mf, m.adapterOpts...)
}

// libraryPath locates a plugin's shared library: the manifest's library
// key, else the first file in the directory with a library extension.
func libraryPath(mf *manifest.Manifest) (string, error) {
	if lib := mf.Plugin.Library; lib != "" {
		if !filepath.IsAbs(lib) {
			lib = filepath.Join(mf.Dir, lib)
		}
		if _, err := os.Stat(lib); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoLibrary, err)
		}
		return lib, nil
	}

	entries, err := os.ReadDir(mf.Dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range libExts {
			if ext == want {
				return filepath.Join(mf.Dir, e.Name()), nil
			}
		}
	}
	return "", ErrNoLibrary
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (backend.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrPluginNotFound, name)
	}
	return p, nil
}

// Names returns the registered plugin names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns info for every plugin, sorted by name.
func (m *Manager) List() []backend.Info {
	var out []backend.Info
	for _, name := range m.Names() {
		p, err := m.Get(name)
		if err != nil {
			continue
		}
		out = append(out, backend.InfoOf(p))
	}
	return out
}

// Flags returns a plugin's flag definitions.
func (m *Manager) Flags(name string) ([]backend.Flag, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Flags(), nil
}

// Capabilities returns a plugin's capabilities.
func (m *Manager) Capabilities(name string) ([]backend.Capability, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Capabilities(), nil
}

func findFlag(p backend.Plugin, id string) (backend.Flag, error) {
	for _, f := range p.Flags() {
		if f.ID == id {
			return f, nil
		}
	}
	return backend.Flag{}, fmt.Errorf("%w: %s has no flag %q", backend.ErrInvalidSettings, p.Name(), id)
}

// GetFlag returns a flag's stored value, or its default when unset.
func (m *Manager) GetFlag(name, flagID string) (string, error) {
	p, err := m.Get(name)
	if err != nil {
		return "", err
	}
	f, err := findFlag(p, flagID)
	if err != nil {
		return "", err
	}
	if m.store != nil {
		if v, ok := m.store.Get(name, flagID); ok {
			return v, nil
		}
	}
	return f.DefaultValue, nil
}

// SetFlag validates and persists a flag value.
func (m *Manager) SetFlag(ctx context.Context, name, flagID, value string) error {
	p, err := m.Get(name)
	if err != nil {
		return err
	}
	if _, err := findFlag(p, flagID); err != nil {
		return err
	}
	if err := p.ValidateSettings(ctx, map[string]string{flagID: value}); err != nil {
		return err
	}
	if m.store == nil {
		return errors.New("no settings store")
	}
	return m.store.Set(name, flagID, value)
}

// Settings returns flag defaults overlaid with stored values.
func (m *Manager) Settings(name string) (map[string]string, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	var stored map[string]string
	if m.store != nil {
		stored = m.store.Plugin(name)
	}
	// Stored values for flags the plugin no longer defines are dropped.
	out := make(map[string]string)
	for _, f := range p.Flags() {
		if v, ok := stored[f.ID]; ok {
			out[f.ID] = v
		} else if f.DefaultValue != "" {
			out[f.ID] = f.DefaultValue
		}
	}
	return out, nil
}

// StartSession starts a session on the named plugin with its merged settings.
func (m *Manager) StartSession(ctx context.Context, name, projectPath string) (backend.Plugin, backend.SessionHandle, error) {
	p, flags, err := m.prepare(ctx, name)
	if err != nil {
		return nil, backend.SessionHandle{}, err
	}
	h, err := p.StartSession(ctx, projectPath, flags)
	return p, h, err
}

// ResumeSession binds a new session to an existing vendor session.
func (m *Manager) ResumeSession(ctx context.Context, name, vendorSessionID, projectPath string) (backend.Plugin, backend.SessionHandle, error) {
	p, flags, err := m.prepare(ctx, name)
	if err != nil {
		return nil, backend.SessionHandle{}, err
	}
	h, err := p.ResumeSession(ctx, vendorSessionID, projectPath, flags)
	return p, h, err
}

func (m *Manager) prepare(ctx context.Context, name string) (backend.Plugin, map[string]string, error) {
	p, err := m.Get(name)
	if err != nil {
		return nil, nil, err
	}
	flags, err := m.Settings(name)
	if err != nil {
		return nil, nil, err
	}
	if err := p.ValidateSettings(ctx, flags); err != nil {
		return nil, nil, err
	}
	return p, flags, nil
}

// Close releases every plugin that holds resources. Library handles stay
// resident; Go cannot unload them.
func (m *Manager) Close() {
	m.mu.RLock()
	plugins := make([]backend.Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		plugins = append(plugins, p)
	}
	m.mu.RUnlock()
	for _, p := range plugins {
		closePlugin(p)
	}
}

func closePlugin(p backend.Plugin) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}
