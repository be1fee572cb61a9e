// Package settings persists per-plugin flag values.
package settings

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/tessro/atelier/internal/paths"
)

// pluginEntry is one plugin's table in the settings file.
type pluginEntry struct {
	Flags map[string]string `toml:"flags"`
}

// file is the on-disk layout:
//
//	[plugins.claude-code.flags]
//	model = "opus"
type file struct {
	Plugins map[string]pluginEntry `toml:"plugins"`
}

// Store holds flag values keyed by plugin then flag id.
type Store struct {
	path string // Immutable after creation
	// +checklocks:mu
	plugins map[string]map[string]string
	mu      sync.RWMutex
}

// Open loads the store at the default settings path.
func Open() (*Store, error) {
	path, err := paths.SettingsPath()
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

// OpenPath loads the store at path. A missing file is an empty store.
func OpenPath(path string) (*Store, error) {
	s := &Store{
		path:    path,
		plugins: make(map[string]map[string]string),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f file
	if _, err := toml.DecodeFile(s.path, &f); err != nil {
		return err
	}
	for name, entry := range f.Plugins {
		if len(entry.Flags) == 0 {
			continue
		}
		s.plugins[name] = maps.Clone(entry.Flags)
	}
	return nil
}

// +checklocks:s.mu
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	f := file{Plugins: make(map[string]pluginEntry, len(s.plugins))}
	for name, flags := range s.plugins {
		f.Plugins[name] = pluginEntry{Flags: flags}
	}

	tmp := s.path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(out).Encode(f); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns a stored flag value.
func (s *Store) Get(plugin, flagID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.plugins[plugin][flagID]
	return v, ok
}

// Set stores a flag value and saves the file.
func (s *Store) Set(plugin, flagID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plugins[plugin] == nil {
		s.plugins[plugin] = make(map[string]string)
	}
	s.plugins[plugin][flagID] = value
	return s.save()
}

// Unset removes a flag value and saves the file.
func (s *Store) Unset(plugin, flagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags, ok := s.plugins[plugin]
	if !ok {
		return nil
	}
	if _, ok := flags[flagID]; !ok {
		return nil
	}
	delete(flags, flagID)
	if len(flags) == 0 {
		delete(s.plugins, plugin)
	}
	return s.save()
}

// Plugin returns a copy of one plugin's stored values.
func (s *Store) Plugin(plugin string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.plugins[plugin]))
	maps.Copy(out, s.plugins[plugin])
	return out
}

// SetPlugin replaces one plugin's values and saves the file.
func (s *Store) SetPlugin(plugin string, flags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(flags) == 0 {
		delete(s.plugins, plugin)
	} else {
		s.plugins[plugin] = maps.Clone(flags)
	}
	return s.save()
}

// Plugins returns the names of plugins with stored values, sorted.
func (s *Store) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.plugins))
	for name := range s.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
