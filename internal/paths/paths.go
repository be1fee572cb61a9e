// Package paths provides a single source of truth for atelier file paths.
// All path helpers honor environment variable overrides for isolated testing.
//
// Path resolution precedence:
//  1. Specific env vars (ATELIER_PLUGIN_DIR) take highest priority
//  2. ATELIER_DIR sets the base directory (derives config/plugins/logs)
//  3. Default behavior (~/.atelier, ~/.config/atelier, platform plugin dir)
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Environment variable names for path overrides.
const (
	// EnvAtelierDir is the base directory override (e.g., /tmp/atelier-test).
	EnvAtelierDir = "ATELIER_DIR"

	// EnvPluginDir overrides the plugin discovery root directly.
	EnvPluginDir = "ATELIER_PLUGIN_DIR"
)

// BaseDir returns the atelier base directory (~/.atelier by default).
// Honors ATELIER_DIR environment variable.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvAtelierDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".atelier"), nil
}

// ConfigDir returns the atelier config directory (~/.config/atelier by default).
// When ATELIER_DIR is set, returns ATELIER_DIR/config instead.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvAtelierDir); dir != "" {
		return filepath.Join(dir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "atelier"), nil
}

// ConfigPath returns the path to the atelier config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SettingsPath returns the path to the persisted plugin flag settings.
func SettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugin_settings.toml"), nil
}

// PluginsDir returns the plugin discovery root.
// Precedence: ATELIER_PLUGIN_DIR > ATELIER_DIR/plugins > platform default.
//
// Platform defaults:
//   - linux:   ~/.config/ateliercode/plugins
//   - darwin:  ~/Library/Application Support/AtelierCode/plugins
//   - windows: %APPDATA%\AtelierCode\plugins
func PluginsDir() (string, error) {
	if dir := os.Getenv(EnvPluginDir); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv(EnvAtelierDir); dir != "" {
		return filepath.Join(dir, "plugins"), nil
	}
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "AtelierCode", "plugins"), nil
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "AtelierCode", "plugins"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ateliercode", "plugins"), nil
}

// LogPath returns the default log file path (~/.atelier/atelier.log).
func LogPath() string {
	base, err := BaseDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "atelier.log")
	}
	return filepath.Join(base, "atelier.log")
}
