// Package session runs agent CLIs per message and tracks their sessions.
package session

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
	"time"

	"github.com/tessro/atelier/internal/event"
	"github.com/tessro/atelier/internal/id"
	"github.com/tessro/atelier/internal/output"
	"github.com/tessro/atelier/internal/proc"
)

// Errors returned by registry operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownBackend  = errors.New("unknown backend")
	ErrInvalidProject  = errors.New("project path is not a directory")
)

// Default timeouts.
const (
	DefaultInitTimeout = 2 * time.Minute
	versionTimeout     = 10 * time.Second
)

// Status is a session lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Snapshot is a copy of a session's metadata.
type Snapshot struct {
	ID              string    `json:"id"`
	ProjectPath     string    `json:"project_path"`
	Backend         string    `json:"backend"`
	VendorSessionID string    `json:"cli_session_id,omitempty"`
	Status          Status    `json:"status"`
	PID             int       `json:"pid,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
	Error           string    `json:"error,omitempty"`
	Options         Options   `json:"options"`
}

// Change is published whenever a session changes status.
type Change struct {
	SessionID string    `json:"session_id"`
	Old       Status    `json:"old,omitempty"`
	New       Status    `json:"new"`
	At        time.Time `json:"at"`
}

// Detection reports whether a backend CLI is installed.
type Detection struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

type entry struct {
	snap    Snapshot
	backend Backend
	raw     []string
	events  []output.Event
	slot    proc.Slot
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackends replaces the backend table.
func WithBackends(backends ...Backend) Option {
	return func(r *Registry) {
		r.backends = make(map[string]Backend, len(backends))
		for _, b := range backends {
			r.backends[b.Name] = b
		}
	}
}

// WithInitTimeout bounds the one-shot init call.
func WithInitTimeout(d time.Duration) Option {
	return func(r *Registry) { r.initTimeout = d }
}

// WithKillGrace sets the SIGTERM grace period.
func WithKillGrace(d time.Duration) Option {
	return func(r *Registry) { r.killGrace = d }
}

// Registry owns every session. All session mutation goes through mu.
type Registry struct {
	mu sync.RWMutex
	// +checklocks:mu
	sessions map[string]*entry

	backends    map[string]Backend
	initTimeout time.Duration
	killGrace   time.Duration
	parser      *output.Parser
	changes     event.Emitter[Change]
	now         func() time.Time
	log         *slog.Logger
}

// NewRegistry creates a registry with the default backend table.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:    make(map[string]*entry),
		initTimeout: DefaultInitTimeout,
		killGrace:   proc.DefaultKillGrace,
		parser:      output.NewParser(),
		now:         time.Now,
		log:         slog.With("component", "session"),
	}
	WithBackends(DefaultBackends()...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers a status change handler and returns a function that
// removes it. Handlers run synchronously on the goroutine that caused the
// change.
func (r *Registry) OnChange(fn func(Change)) (unsubscribe func()) {
	return r.changes.OnEvent(fn)
}

// Backends returns the backend names, sorted.
func (r *Registry) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start registers a session for projectPath. Backends that need an
// upfront vendor id get a one-shot init call; its failure is logged and
// ignored.
func (r *Registry) Start(ctx context.Context, projectPath, backendName string, opts Options) (Snapshot, error) {
	b, ok := r.backends[backendName]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownBackend, backendName)
	}
	info, err := os.Stat(projectPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrInvalidProject, projectPath)
	}

	now := r.now()
	e := &entry{
		backend: b,
		snap: Snapshot{
			ID:           id.New(),
			ProjectPath:  filepath.Clean(projectPath),
			Backend:      b.Name,
			Status:       StatusStarting,
			StartedAt:    now,
			LastActivity: now,
			Options:      opts,
		},
	}
	sid := e.snap.ID

	r.mu.Lock()
	r.sessions[sid] = e
	r.mu.Unlock()
	r.emit(sid, "", StatusStarting)

	if b.NeedsInit() {
		if vendorID, err := r.initVendorID(ctx, b, e.snap.ProjectPath); err != nil {
			r.log.Warn("Registry.Start: init call failed", "session", sid, "backend", b.Name, "error", err)
		} else if vendorID != "" {
			r.SyncVendorID(sid, vendorID)
		}
	}

	r.setStatus(sid, StatusRunning, "")
	r.log.Info("Registry.Start: session started", "session", sid, "backend", b.Name, "project", e.snap.ProjectPath)
	return r.Status(sid)
}

func (r *Registry) initVendorID(ctx context.Context, b Backend, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.initTimeout)
	defer cancel()
	out, err := proc.Output(ctx, dir, b.Command, b.InitArgs...)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if v := b.VendorID(line); v != "" {
			return v, nil
		}
	}
	return "", errors.New("no session id in init output")
}

// Send kills any active child for the session, then spawns the CLI for
// message and returns without waiting for output.
func (r *Registry) Send(ctx context.Context, sessionID, message string) error {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	var (
		vendorID, dir string
		opts          Options
	)
	if ok {
		vendorID, dir, opts = e.snap.VendorSessionID, e.snap.ProjectPath, e.snap.Options
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := e.slot.KillActive(r.killGrace); err != nil {
		r.log.Warn("Registry.Send: kill previous child failed", "session", sessionID, "error", err)
	}

	// Set before spawning so a fast failing exit is not overwritten.
	r.setStatus(sessionID, StatusRunning, "")

	b := e.backend
	viaStdin := b.UseStdin(message)
	args := b.Args(message, vendorID, opts, viaStdin)

	started := make(chan *proc.Child, 1)
	child, err := proc.Start(proc.Spec{
		Name:      b.Command,
		Args:      args,
		Dir:       dir,
		Stdin:     message,
		UseStdin:  viaStdin,
		OnStdout:  func(line string) { r.appendLine(e, sessionID, line, false) },
		OnStderr:  func(line string) { r.appendLine(e, sessionID, line, true) },
		OnExit:    func(info proc.ExitInfo) { r.handleExit(e, sessionID, <-started, info) },
		Component: "session." + b.Name,
	})
	if err != nil {
		r.setStatus(sessionID, StatusError, err.Error())
		return fmt.Errorf("spawn %s: %w", b.Command, err)
	}
	started <- child
	if e.slot.Swap(child, r.killGrace) == child {
		// Stopped while spawning; the child has been killed.
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	r.mu.Lock()
	e.snap.LastActivity = r.now()
	r.mu.Unlock()

	r.log.Debug("Registry.Send: spawned", "session", sessionID, "pid", child.PID(), "stdin", viaStdin)
	return nil
}

func (r *Registry) appendLine(e *entry, sessionID, line string, stderr bool) {
	events := r.parser.ParseLine(line)
	var vendorID string
	if !stderr {
		vendorID = e.backend.VendorID(line)
	}

	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.mu.Unlock()
		return
	}
	if stderr {
		e.raw = append(e.raw, output.StderrLine(line))
	} else {
		e.raw = append(e.raw, line)
	}
	e.events = append(e.events, events...)
	e.snap.LastActivity = r.now()
	captured := vendorID != "" && e.snap.VendorSessionID == ""
	if captured {
		e.snap.VendorSessionID = vendorID
	}
	r.mu.Unlock()

	if captured {
		r.log.Info("captured vendor session id", "session", sessionID, "cli_session_id", vendorID)
	}
}

func (r *Registry) handleExit(e *entry, sessionID string, child *proc.Child, info proc.ExitInfo) {
	e.slot.Clear(child)
	if info.Err == nil || info.Killed {
		return
	}
	r.log.Warn("Registry: cli exited with error", "session", sessionID, "pid", info.PID, "code", info.ExitCode)
	r.setStatus(sessionID, StatusError, fmt.Sprintf("process exited with code %d", info.ExitCode))
}

// KillActive terminates the session's running child, if any. The slot is
// always cleared.
func (r *Registry) KillActive(sessionID string) error {
	e, err := r.lookup(sessionID)
	if err != nil {
		return err
	}
	return e.slot.KillActive(r.killGrace)
}

// ReadRaw drains raw output lines.
func (r *Registry) ReadRaw(sessionID string) ([]string, error) {
	raw, _, err := r.drain(sessionID, true, false)
	return raw, err
}

// ReadEvents drains classified events.
func (r *Registry) ReadEvents(sessionID string) ([]output.Event, error) {
	_, events, err := r.drain(sessionID, false, true)
	return events, err
}

// ReadBoth drains raw lines and events together.
func (r *Registry) ReadBoth(sessionID string) ([]string, []output.Event, error) {
	return r.drain(sessionID, true, true)
}

func (r *Registry) drain(sessionID string, raw, events bool) ([]string, []output.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	var outRaw []string
	var outEvents []output.Event
	if raw {
		outRaw, e.raw = e.raw, nil
	}
	if events {
		outEvents, e.events = e.events, nil
	}
	return outRaw, outEvents, nil
}

// Stop kills any active child and removes the session.
func (r *Registry) Stop(sessionID string) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	var old Status
	if ok {
		old = e.snap.Status
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err := e.slot.Close(r.killGrace); err != nil {
		r.log.Warn("Registry.Stop: kill failed", "session", sessionID, "error", err)
	}
	r.emit(sessionID, old, StatusStopped)
	r.log.Info("Registry.Stop: session stopped", "session", sessionID)
	return nil
}

// Status returns a snapshot of one session.
func (r *Registry) Status(sessionID string) (Snapshot, error) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	var snap Snapshot
	if ok {
		snap = e.snap
	}
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	snap.PID = e.slot.PID()
	return snap, nil
}

// List returns all sessions, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	snaps := make([]Snapshot, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
		snaps = append(snaps, e.snap)
	}
	r.mu.RUnlock()

	for i, e := range entries {
		snaps[i].PID = e.slot.PID()
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// ListForProject returns sessions rooted at projectPath.
func (r *Registry) ListForProject(projectPath string) []Snapshot {
	want := filepath.Clean(projectPath)
	var out []Snapshot
	for _, s := range r.List() {
		if s.ProjectPath == want {
			out = append(out, s)
		}
	}
	return out
}

// SyncVendorID records the vendor session id, replacing any previous one.
func (r *Registry) SyncVendorID(sessionID, vendorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	e.snap.VendorSessionID = vendorID
	return nil
}

// Health reports whether the session is registered.
func (r *Registry) Health(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Detect reports which backends are installed, with their versions.
func (r *Registry) Detect(ctx context.Context) []Detection {
	var out []Detection
	for _, name := range r.Backends() {
		b := r.backends[name]
		d := Detection{Name: b.Name, Command: b.Command}
		if path, ok := proc.LookPath(b.Command); ok {
			d.Installed = true
			d.Path = path
			d.Version = probeVersion(ctx, b)
		}
		out = append(out, d)
	}
	return out
}

func probeVersion(ctx context.Context, b Backend) string {
	args := b.VersionArgs
	if len(args) == 0 {
		args = []string{"--version"}
	}
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := proc.Output(ctx, "", b.Command, args...)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}

// Close kills every active child. Sessions stay registered.
func (r *Registry) Close() {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.slot.KillActive(r.killGrace)
		}()
	}
	wg.Wait()
}

func (r *Registry) lookup(sessionID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return e, nil
}

func (r *Registry) setStatus(sessionID string, status Status, errMsg string) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	old := e.snap.Status
	e.snap.Status = status
	e.snap.Error = errMsg
	r.mu.Unlock()

	if old != status {
		r.emit(sessionID, old, status)
	}
}

// emit must not be called with mu held.
func (r *Registry) emit(sessionID string, old, new Status) {
	r.changes.Emit(Change{SessionID: sessionID, Old: old, New: new, At: r.now()})
}
