// Package watch tails JSONL transcript files and reports new records as
// session updates.
package watch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/logging"
)

// ErrAlreadyWatching is returned when an id is reused before Unwatch.
var ErrAlreadyWatching = errors.New("already watching")

// Callback receives updates. It is called from the tail goroutine; calls
// for one id are serialized.
type Callback func(backend.SessionUpdate)

// Watcher tails any number of transcript files, each under its own id.
type Watcher struct {
	mu sync.Mutex
	// +checklocks:mu
	tails map[string]*tail

	now func() time.Time
}

type tail struct {
	id      string
	path    string
	fs      *fsnotify.Watcher
	fn      Callback
	cancel  chan struct{}
	done    chan struct{}
	offset  int64
	partial []byte
	pending *backend.UserPrompt
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Watcher.
func New() *Watcher {
	return &Watcher{
		tails: make(map[string]*tail),
		now:   time.Now,
	}
}

// Watch starts tailing path under id. Only records appended after Watch
// returns are reported. The file does not need to exist yet.
func (w *Watcher) Watch(id, path string, fn Callback) error {
	w.mu.Lock()
	if _, ok := w.tails[id]; ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyWatching, id)
	}
	w.mu.Unlock()

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	t := &tail{
		id:     id,
		path:   path,
		fs:     fsW,
		fn:     fn,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
		now:    w.now,
		log:    slog.With("component", "watch", "id", id),
	}
	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}

	w.mu.Lock()
	if _, ok := w.tails[id]; ok {
		w.mu.Unlock()
		fsW.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyWatching, id)
	}
	w.tails[id] = t
	w.mu.Unlock()

	go t.loop()
	t.log.Debug("watch.Watch: tailing", "path", path, "offset", t.offset)
	return nil
}

// Unwatch stops tailing id. It reports whether id was being watched.
// No callback for id runs after Unwatch returns.
func (w *Watcher) Unwatch(id string) bool {
	w.mu.Lock()
	t, ok := w.tails[id]
	if ok {
		delete(w.tails, id)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	close(t.cancel)
	t.fs.Close()
	<-t.done
	return true
}

// Watching reports whether id is active.
func (w *Watcher) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tails[id]
	return ok
}

// Close stops all tails.
func (w *Watcher) Close() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.tails))
	for id := range w.tails {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.Unwatch(id)
	}
}

func (t *tail) loop() {
	defer close(t.done)
	defer logging.LogPanic("watch-"+t.id, nil)

	for {
		select {
		case <-t.cancel:
			return

		case ev, ok := <-t.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				t.offset = 0
				t.partial = t.partial[:0]
				t.emit(backend.SessionUpdate{Type: backend.UpdateSessionEnded})
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				if err := t.readNew(); err != nil {
					t.emit(backend.SessionUpdate{Type: backend.UpdateError, Error: err.Error()})
				}
			}

		case err, ok := <-t.fs.Errors:
			if !ok {
				return
			}
			t.log.Warn("watch: fsnotify error", "error", err)
			t.emit(backend.SessionUpdate{Type: backend.UpdateError, Error: err.Error()})
		}
	}
}

// readNew reads bytes appended since the last offset and emits one update
// per complete record.
func (t *tail) readNew() error {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < t.offset {
		// Truncated or replaced.
		t.offset = 0
		t.partial = t.partial[:0]
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		t.handleLine(bytes.TrimSpace(buf[:i]))
		buf = buf[i+1:]
	}
	t.partial = append(t.partial[:0], buf...)
	return nil
}

func (t *tail) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	rec, ok := backend.DecodeRecord(line, t.now().Unix())
	if !ok {
		t.log.Debug("watch: skipping undecodable record", "bytes", len(line))
		return
	}

	msg := rec.Message
	t.emit(backend.SessionUpdate{Type: backend.UpdateNewMessage, Message: &msg})

	if p := backend.PromptFromBlocks(rec.Blocks); p != nil {
		t.pending = p
		t.emit(backend.SessionUpdate{Type: backend.UpdateUserPromptRequired, Prompt: p})
		return
	}
	if t.pending != nil && answers(rec.Blocks, t.pending.ToolUseID) {
		t.pending = nil
		t.emit(backend.SessionUpdate{Type: backend.UpdateStatusChanged, Status: "running"})
	}
}

func answers(blocks []backend.ContentBlock, toolUseID string) bool {
	for _, b := range blocks {
		if b.Type == "tool_result" && b.ToolUseID == toolUseID {
			return true
		}
	}
	return false
}

func (t *tail) emit(u backend.SessionUpdate) {
	select {
	case <-t.cancel:
		return
	default:
	}
	if t.fn != nil {
		t.fn(u)
	}
}
