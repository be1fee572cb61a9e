package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/output"
	"github.com/tessro/atelier/internal/proc"
)

// session is the adapter's per-session state.
type session struct {
	handle      backend.SessionHandle
	projectPath string
	settings    map[string]string
	slot        proc.Slot

	mu sync.Mutex
	// +checklocks:mu
	vendorID string
	// +checklocks:mu
	raw []string
	// +checklocks:mu
	events []output.Event
	// +checklocks:mu
	lastKind output.Kind
	// +checklocks:mu
	lastActivity int64
	// +checklocks:mu
	errMsg string
}

func (s *session) vendor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vendorID
}

// SendMessage spawns the CLI for one message and returns immediately.
// Any child still running for the session is killed first.
func (a *Adapter) SendMessage(ctx context.Context, h backend.SessionHandle, message string) error {
	s, err := a.lookup(h)
	if err != nil {
		return err
	}

	if err := s.slot.KillActive(a.killGrace); err != nil {
		a.log.Warn("send: killing previous child failed", "session", h.SessionID, "error", err)
	}

	args := a.buildArgs(s, message)
	started := make(chan *proc.Child, 1)
	child, err := proc.Start(proc.Spec{
		Name:      a.m.Plugin.CLICommand,
		Args:      args,
		Dir:       s.projectPath,
		OnStdout:  func(line string) { a.handleLine(s, line, false) },
		OnStderr:  func(line string) { a.handleLine(s, line, true) },
		OnExit:    func(info proc.ExitInfo) { a.handleExit(s, <-started, info) },
		Component: "generic." + a.Name(),
	})
	if err != nil {
		s.mu.Lock()
		s.errMsg = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", a.m.Plugin.CLICommand, err)
	}
	started <- child

	s.mu.Lock()
	s.errMsg = ""
	s.lastActivity = a.now().Unix()
	s.mu.Unlock()

	if s.slot.Swap(child, a.killGrace) == child {
		// Stopped while spawning; the child has been killed.
		return fmt.Errorf("%w: %s", backend.ErrSessionNotFound, h.SessionID)
	}
	a.log.Debug("send: spawned", "session", h.SessionID, "pid", child.PID(), "args", len(args))
	return nil
}

// buildArgs picks the resume template when a vendor id is known, then
// appends flag settings.
func (a *Adapter) buildArgs(s *session, message string) []string {
	vendorID := s.vendor()
	template := a.m.Commands.SendMessage
	if vendorID != "" && len(a.m.Commands.ResumeSession) > 0 {
		template = a.m.Commands.ResumeSession
	}
	args := manifest.Substitute(template, map[string]string{
		"message":      message,
		"project_path": s.projectPath,
		"session_id":   vendorID,
	})
	for _, f := range a.m.Flags {
		args = append(args, f.Args(s.settings[f.ID])...)
	}
	return args
}

func (a *Adapter) handleLine(s *session, line string, stderr bool) {
	vendorID := ""
	if s.vendor() == "" {
		vendorID = a.extractSessionID(line)
	}
	events := a.parser.ParseLine(line)

	raw := line
	if stderr {
		raw = output.StderrLine(line)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if vendorID != "" && s.vendorID == "" {
		s.vendorID = vendorID
		a.log.Info("captured vendor session id", "session", s.handle.SessionID, "cli_session_id", vendorID)
	}
	s.raw = append(s.raw, raw)
	s.events = append(s.events, events...)
	if len(events) > 0 {
		s.lastKind = events[len(events)-1].Kind
	}
	s.lastActivity = a.now().Unix()
}

func (a *Adapter) handleExit(s *session, child *proc.Child, info proc.ExitInfo) {
	s.slot.Clear(child)
	if info.Err == nil || info.Killed {
		return
	}
	s.mu.Lock()
	s.errMsg = fmt.Sprintf("process exited with code %d: %v", info.ExitCode, info.Err)
	s.mu.Unlock()
	a.log.Warn("cli exited with error", "session", s.handle.SessionID, "pid", info.PID, "code", info.ExitCode)
}

// extractSessionID reads a vendor session id from one output line.
func (a *Adapter) extractSessionID(line string) string {
	op := a.m.OutputParsing
	if op.OutputFormat == manifest.FormatJSON && op.SessionIDJSONPath != "" {
		return jsonPath(line, op.SessionIDJSONPath)
	}
	if a.idRe == nil {
		return ""
	}
	if m := a.idRe.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	return ""
}

// jsonPath returns the scalar at a dotted path in a JSON object line.
func jsonPath(line, path string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return ""
	}
	for _, key := range strings.Split(path, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return ""
		}
		v = obj[key]
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

// ReadOutput drains buffered events as chunks.
func (a *Adapter) ReadOutput(ctx context.Context, h backend.SessionHandle) ([]backend.OutputChunk, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.raw = nil
	s.mu.Unlock()
	return backend.ChunksFromEvents(events), nil
}

// ReadRaw drains the raw line buffer without touching events.
func (a *Adapter) ReadRaw(ctx context.Context, h backend.SessionHandle) ([]string, error) {
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw := s.raw
	s.raw = nil
	return raw, nil
}
