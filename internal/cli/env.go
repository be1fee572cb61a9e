package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tessro/atelier/internal/config"
	"github.com/tessro/atelier/internal/generic"
	"github.com/tessro/atelier/internal/logging"
	"github.com/tessro/atelier/internal/plugin"
	"github.com/tessro/atelier/internal/session"
	"github.com/tessro/atelier/internal/settings"
)

// env is the state a command needs: config, logging, and loaded plugins.
type env struct {
	cfg      *config.Config
	store    *settings.Store
	plugins  *plugin.Manager
	registry *session.Registry

	closeLog func()
}

// loadEnv reads the config, sets up logging, and loads every plugin:
// discovered ones first, then embedded defaults for names not found.
func loadEnv() (*env, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	var extra io.Writer
	if verbose {
		extra = os.Stderr
	}
	closeLog, err := logging.SetupMulti(cfg.LogFile, extra, logging.ParseLevel(level))
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	store, err := settings.OpenPath(cfg.SettingsFile)
	if err != nil {
		closeLog()
		return nil, err
	}

	mgr := plugin.NewManager(store,
		generic.WithKillGrace(cfg.KillGrace),
		generic.WithDetector(cfg.HistoryDetector()),
	)
	if _, err := mgr.Discover(cfg.PluginDir); err != nil {
		slog.Warn("plugin discovery failed", "dir", cfg.PluginDir, "error", err)
	}
	if _, err := mgr.RegisterDefaults(); err != nil {
		slog.Warn("default plugins failed to load", "error", err)
	}

	return &env{
		cfg:      cfg,
		store:    store,
		plugins:  mgr,
		closeLog: closeLog,
	}, nil
}

// sessions returns the per-message session registry, creating it on first use.
func (e *env) sessions() *session.Registry {
	if e.registry == nil {
		e.registry = session.NewRegistry(
			session.WithInitTimeout(e.cfg.InitTimeout),
			session.WithKillGrace(e.cfg.KillGrace),
		)
	}
	return e.registry
}

func (e *env) Close() {
	if e.registry != nil {
		e.registry.Close()
	}
	e.plugins.Close()
	e.closeLog()
}
