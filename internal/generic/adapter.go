// Package generic implements backend.Plugin for any CLI described by a
// manifest. It is the fallback every plugin gets when no compiled library
// is available.
package generic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/history"
	"github.com/tessro/atelier/internal/id"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/output"
	"github.com/tessro/atelier/internal/proc"
	"github.com/tessro/atelier/internal/watch"
)

// versionTimeout bounds each version probe.
const versionTimeout = 10 * time.Second

// Option configures an Adapter.
type Option func(*Adapter)

// WithKillGrace sets the SIGTERM grace period for superseded children.
func WithKillGrace(d time.Duration) Option {
	return func(a *Adapter) { a.killGrace = d }
}

// WithDetector sets the continuation detector for manifests that declare no
// continuation markers of their own.
func WithDetector(d *history.Detector) Option {
	return func(a *Adapter) { a.detector = d }
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// Adapter drives a CLI purely from its manifest.
type Adapter struct {
	m         *manifest.Manifest
	idRe      *regexp.Regexp
	parser    *output.Parser
	detector  *history.Detector
	watcher   *watch.Watcher
	killGrace time.Duration
	now       func() time.Time
	log       *slog.Logger

	mu sync.RWMutex
	// +checklocks:mu
	sessions map[string]*session
	// +checklocks:mu
	watches map[string]backend.WatchHandle
}

var _ backend.Plugin = (*Adapter)(nil)

// New builds an adapter from a validated manifest.
func New(m *manifest.Manifest, opts ...Option) (*Adapter, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	re, err := m.SessionIDRegex()
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		m:         m,
		idRe:      re,
		watcher:   watch.New(),
		killGrace: proc.DefaultKillGrace,
		now:       time.Now,
		log:       slog.With("component", "generic", "plugin", m.Plugin.Name),
		sessions:  make(map[string]*session),
		watches:   make(map[string]backend.WatchHandle),
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(m.History.ContinuationMarkers) > 0 || a.detector == nil {
		a.detector = history.NewDetector(m.History.ContinuationMarkers, m.History.AnalysisMinLength)
	}
	a.parser = output.NewParserWithClock(a.now)
	return a, nil
}

// Manifest returns the manifest the adapter was built from.
func (a *Adapter) Manifest() *manifest.Manifest { return a.m }

func (a *Adapter) Name() string { return a.m.Plugin.Name }

func (a *Adapter) DisplayName() string {
	if a.m.Plugin.DisplayName != "" {
		return a.m.Plugin.DisplayName
	}
	return a.m.Plugin.Name
}

func (a *Adapter) Version() string     { return a.m.Plugin.Version }
func (a *Adapter) Description() string { return a.m.Plugin.Description }
func (a *Adapter) Icon() string        { return a.m.Plugin.Icon }
func (a *Adapter) Color() string       { return a.m.Plugin.Color }

func (a *Adapter) Capabilities() []backend.Capability { return a.m.Capabilities.List() }

func (a *Adapter) Flags() []backend.Flag { return slices.Clone(a.m.Flags) }

// CheckInstallation reports whether cli_command resolves on PATH.
func (a *Adapter) CheckInstallation(ctx context.Context) (bool, error) {
	_, ok := proc.LookPath(a.m.Plugin.CLICommand)
	return ok, nil
}

// ValidateSettings checks values against the manifest's flag definitions.
func (a *Adapter) ValidateSettings(ctx context.Context, settings map[string]string) error {
	for key, value := range settings {
		f, ok := a.m.Flag(key)
		if !ok {
			return fmt.Errorf("%w: unknown flag %q", backend.ErrInvalidSettings, key)
		}
		if err := validateFlagValue(f, value); err != nil {
			return err
		}
	}
	return nil
}

func validateFlagValue(f backend.Flag, value string) error {
	switch f.Type {
	case backend.FlagToggle:
		if value != "" && value != "true" && value != "false" {
			return fmt.Errorf("%w: %s must be true or false, got %q", backend.ErrInvalidSettings, f.ID, value)
		}
	case backend.FlagSelect:
		if value == "" {
			return nil
		}
		for _, opt := range f.Options {
			if opt.Value == value {
				return nil
			}
		}
		return fmt.Errorf("%w: %q is not an option of %s", backend.ErrInvalidSettings, value, f.ID)
	}
	return nil
}

// StartSession records a new session. No process is spawned until the
// first message.
func (a *Adapter) StartSession(ctx context.Context, projectPath string, settings map[string]string) (backend.SessionHandle, error) {
	return a.open(projectPath, "", settings)
}

// ResumeSession binds a new session to an existing vendor session id.
func (a *Adapter) ResumeSession(ctx context.Context, vendorSessionID, projectPath string, settings map[string]string) (backend.SessionHandle, error) {
	if !a.m.Capabilities.SessionResume {
		return backend.SessionHandle{}, fmt.Errorf("%s does not support session resume: %w", a.Name(), backend.ErrCapabilityUnsupported)
	}
	if vendorSessionID == "" {
		return backend.SessionHandle{}, fmt.Errorf("%w: empty vendor session id", backend.ErrInvalidSettings)
	}
	return a.open(projectPath, vendorSessionID, settings)
}

func (a *Adapter) open(projectPath, vendorID string, settings map[string]string) (backend.SessionHandle, error) {
	info, err := os.Stat(projectPath)
	if err != nil {
		return backend.SessionHandle{}, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return backend.SessionHandle{}, fmt.Errorf("project path %s is not a directory", projectPath)
	}

	now := a.now().Unix()
	s := &session{
		handle: backend.SessionHandle{
			SessionID:       id.New(),
			VendorSessionID: vendorID,
			PluginName:      a.Name(),
			StartedAt:       now,
		},
		projectPath:  projectPath,
		settings:     cloneMap(settings),
		vendorID:     vendorID,
		lastActivity: now,
	}

	a.mu.Lock()
	a.sessions[s.handle.SessionID] = s
	a.mu.Unlock()

	a.log.Info("session started", "session", s.handle.SessionID, "project", projectPath, "resume", vendorID != "")
	return s.handle, nil
}

// StopSession kills any running child and forgets the session.
func (a *Adapter) StopSession(ctx context.Context, h backend.SessionHandle) error {
	a.mu.Lock()
	s, ok := a.sessions[h.SessionID]
	if ok {
		delete(a.sessions, h.SessionID)
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", backend.ErrSessionNotFound, h.SessionID)
	}

	if err := s.slot.Close(a.killGrace); err != nil {
		a.log.Warn("stop: kill failed", "session", h.SessionID, "error", err)
	}
	a.log.Info("session stopped", "session", h.SessionID)
	return nil
}

// SessionStatus reports whether a child is live and whether the CLI last
// asked for input.
func (a *Adapter) SessionStatus(ctx context.Context, h backend.SessionHandle) (backend.SessionStatus, error) {
	s, err := a.lookup(h)
	if err != nil {
		return backend.SessionStatus{}, err
	}
	pid := s.slot.PID()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := backend.SessionStatus{
		IsRunning:         pid != 0,
		IsWaitingForInput: pid == 0 && s.lastKind == output.KindInputRequired,
		Error:             s.errMsg,
		Metadata: map[string]string{
			"started_at":    strconv.FormatInt(s.handle.StartedAt, 10),
			"last_activity": strconv.FormatInt(s.lastActivity, 10),
		},
	}
	if s.vendorID != "" {
		st.Metadata["cli_session_id"] = s.vendorID
	}
	if pid != 0 {
		st.Metadata["process_id"] = strconv.Itoa(pid)
	}
	return st, nil
}

// Close stops every session and watch.
func (a *Adapter) Close() {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for _, s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.sessions = make(map[string]*session)
	a.watches = make(map[string]backend.WatchHandle)
	a.mu.Unlock()

	for _, s := range sessions {
		_ = s.slot.Close(a.killGrace)
	}
	a.watcher.Close()
}

func (a *Adapter) lookup(h backend.SessionHandle) (*session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[h.SessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrSessionNotFound, h.SessionID)
	}
	return s, nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
