// Package config provides configuration loading and validation for atelier.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tessro/atelier/internal/history"
	"github.com/tessro/atelier/internal/paths"
)

// EnvPrefix is the prefix for environment overrides (ATELIER_LOG_LEVEL, ...).
const EnvPrefix = "ATELIER"

// Defaults.
const (
	DefaultLogLevel     = "info"
	DefaultInitTimeout  = 2 * time.Minute
	DefaultKillGrace    = 2 * time.Second
	DefaultServeAddr    = "127.0.0.1:8420"
	DefaultPollInterval = 250 * time.Millisecond
)

// Config is the atelier application configuration.
type Config struct {
	LogLevel     string        `mapstructure:"log_level"`
	LogFile      string        `mapstructure:"log_file"`
	PluginDir    string        `mapstructure:"plugin_dir"`
	SettingsFile string        `mapstructure:"settings_file"`
	InitTimeout  time.Duration `mapstructure:"init_timeout"`
	KillGrace    time.Duration `mapstructure:"kill_grace"`
	History      HistoryConfig `mapstructure:"history"`
	Serve        ServeConfig   `mapstructure:"serve"`
}

// HistoryConfig tunes continuation detection.
type HistoryConfig struct {
	ContinuationMarkers []string `mapstructure:"continuation_markers"`
	AnalysisMinLength   int      `mapstructure:"analysis_min_length"`
}

// ServeConfig configures the HTTP bridge.
type ServeConfig struct {
	Addr         string        `mapstructure:"addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Default returns the configuration used when no file is present.
func Default() (*Config, error) {
	pluginDir, err := paths.PluginsDir()
	if err != nil {
		return nil, err
	}
	settingsFile, err := paths.SettingsPath()
	if err != nil {
		return nil, err
	}
	return &Config{
		LogLevel:     DefaultLogLevel,
		LogFile:      paths.LogPath(),
		PluginDir:    pluginDir,
		SettingsFile: settingsFile,
		InitTimeout:  DefaultInitTimeout,
		KillGrace:    DefaultKillGrace,
		History: HistoryConfig{
			ContinuationMarkers: append([]string(nil), history.DefaultMarkers...),
			AnalysisMinLength:   history.DefaultAnalysisMinLength,
		},
		Serve: ServeConfig{
			Addr:         DefaultServeAddr,
			PollInterval: DefaultPollInterval,
		},
	}, nil
}

// Load reads the config file at path, applying defaults and ATELIER_*
// environment overrides. If path is empty, paths.ConfigPath() is used.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("plugin_dir", cfg.PluginDir)
	v.SetDefault("settings_file", cfg.SettingsFile)
	v.SetDefault("init_timeout", cfg.InitTimeout)
	v.SetDefault("kill_grace", cfg.KillGrace)
	v.SetDefault("history.continuation_markers", cfg.History.ContinuationMarkers)
	v.SetDefault("history.analysis_min_length", cfg.History.AnalysisMinLength)
	v.SetDefault("serve.addr", cfg.Serve.Addr)
	v.SetDefault("serve.poll_interval", cfg.Serve.PollInterval)

	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HistoryDetector returns a continuation detector built from the config.
func (c *Config) HistoryDetector() *history.Detector {
	return history.NewDetector(c.History.ContinuationMarkers, c.History.AnalysisMinLength)
}

// isNotFound reports whether err means the config file does not exist.
// SetConfigFile surfaces a missing file as an fs error rather than
// viper.ConfigFileNotFoundError, so both are accepted.
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}
