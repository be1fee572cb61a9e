// Package logging configures the process-wide slog logger.
//
// Records always go to a JSON log file. With --verbose they are also
// mirrored to stderr as text.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/tessro/atelier/internal/paths"
)

// level is shared by every handler Setup installs.
var level = new(slog.LevelVar)

// ParseLevel converts a level name to slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level of the installed logger.
func SetLevel(l slog.Level) { level.Set(l) }

// Level returns the current minimum level.
func Level() slog.Level { return level.Level() }

// Setup logs JSON to the file at path (paths.LogPath() when empty).
func Setup(path string, l slog.Level) (cleanup func(), err error) {
	return SetupMulti(path, nil, l)
}

// SetupMulti logs JSON to the file at path and, when mirror is non-nil,
// text to mirror.
func SetupMulti(path string, mirror io.Writer, l slog.Level) (cleanup func(), err error) {
	if path == "" {
		path = paths.LogPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	level.Set(l)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(f, opts)
	if mirror != nil {
		h = fanout{h, slog.NewTextHandler(mirror, opts)}
	}
	slog.SetDefault(slog.New(h))

	return func() { f.Close() }, nil
}

// SetupTest sends debug-level text records to w.
func SetupTest(w io.Writer) {
	level.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// LogPanic recovers a panic, logs it with a stack trace, and calls
// onRecover if set. Defer it first thing in long-lived goroutines:
//
//	defer logging.LogPanic("proc-stdout", nil)
func LogPanic(name string, onRecover func(any)) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("panic recovered", "goroutine", name, "panic", r, "stack", string(debug.Stack()))
	if onRecover != nil {
		onRecover(r)
	}
}

// fanout delivers each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
