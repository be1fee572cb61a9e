//go:build unix

package generic

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/manifest"
	"github.com/tessro/atelier/internal/proc"
)

const fakeCLI = `#!/bin/sh
case "$1" in
  --version) echo "fake-cli 1.2.3" ;;
  list) echo '[{"session_id":"v1","started_at":1,"message_count":2,"status":"done"},{"started_at":2}]' ;;
  history) echo '[{"role":"user","content":"a","timestamp":10},{"role":"assistant"},{"role":"assistant","content":"b","id":"x","timestamp":11}]' ;;
  send)
    echo "session: vend-42"
    echo "Created: src/main.go"
    echo "warn line" >&2
    ;;
  resume) echo "resumed $2 $3" ;;
  flags) shift; echo "args: $*" ;;
  ask) echo "Proceed with the change? (y/n)" ;;
  fail) echo "boom" >&2; exit 2 ;;
  slow) echo "started"; exec sleep 30 ;;
  badjson) echo "not json" ;;
  record:*) echo $$ >> "${1#record:}"; exec sleep 30 ;;
esac
`

func writeCLI(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	if err := os.WriteFile(path, []byte(fakeCLI), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m := manifest.New()
	m.Plugin.Name = "fake"
	m.Plugin.DisplayName = "Fake CLI"
	m.Plugin.CLICommand = writeCLI(t)
	m.Commands.StartSession = []string{"start"}
	m.Commands.SendMessage = []string{"{message}"}
	m.OutputParsing.SessionIDPattern = `session: (\S+)`
	return m
}

func newAdapter(t *testing.T, m *manifest.Manifest) *Adapter {
	t.Helper()
	a, err := New(m, WithKillGrace(200*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func waitIdle(t *testing.T, a *Adapter, h backend.SessionHandle) backend.SessionStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := a.SessionStatus(context.Background(), h)
		if err != nil {
			t.Fatal(err)
		}
		if !st.IsRunning {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still running")
	return backend.SessionStatus{}
}

func TestAdapter_Metadata(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	if a.Name() != "fake" || a.DisplayName() != "Fake CLI" {
		t.Errorf("Name/DisplayName = %q/%q", a.Name(), a.DisplayName())
	}
	if !backend.HasCapability(a, backend.CapStreamingOutput) || backend.HasCapability(a, backend.CapSessionResume) {
		t.Errorf("Capabilities() = %v", a.Capabilities())
	}
	ok, err := a.CheckInstallation(context.Background())
	if err != nil || !ok {
		t.Errorf("CheckInstallation() = %v, %v", ok, err)
	}

	m := newManifest(t)
	m.Plugin.CLICommand = "definitely-not-installed-xyz"
	ok, _ = newAdapter(t, m).CheckInstallation(context.Background())
	if ok {
		t.Error("CheckInstallation() = true for missing binary")
	}
}

func TestAdapter_StartValidatesPath(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()

	if _, err := a.StartSession(ctx, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("StartSession(missing dir) error = nil")
	}
	file := filepath.Join(t.TempDir(), "f")
	os.WriteFile(file, nil, 0644)
	if _, err := a.StartSession(ctx, file, nil); err == nil {
		t.Error("StartSession(file) error = nil")
	}

	h, err := a.StartSession(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.SessionID == "" || h.PluginName != "fake" || h.VendorSessionID != "" {
		t.Errorf("handle = %+v", h)
	}
	st, err := a.SessionStatus(ctx, h)
	if err != nil || st.IsRunning {
		t.Errorf("SessionStatus() = %+v, %v; want idle", st, err)
	}
}

func TestAdapter_SendAndRead(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()

	h, err := a.StartSession(ctx, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SendMessage(ctx, h, "send"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	st := waitIdle(t, a, h)
	if st.Metadata["cli_session_id"] != "vend-42" {
		t.Errorf("cli_session_id = %q, want vend-42", st.Metadata["cli_session_id"])
	}

	raw, err := a.ReadRaw(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(raw, "[stderr] warn line") || !contains(raw, "Created: src/main.go") {
		t.Errorf("raw = %q", raw)
	}

	// ReadRaw drained raw lines but events remain.
	chunks, err := a.ReadOutput(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	var fileOp bool
	for _, c := range chunks {
		if c.Type == backend.ChunkToolUse && c.Name == "file_operation" && c.Input == "Created: src/main.go" {
			fileOp = true
		}
	}
	if !fileOp {
		t.Errorf("no file_operation chunk in %+v", chunks)
	}

	again, _ := a.ReadOutput(ctx, h)
	if len(again) != 0 {
		t.Errorf("second ReadOutput() = %+v, want drained", again)
	}
}

func TestAdapter_ResumeTemplateAfterCapture(t *testing.T) {
	m := newManifest(t)
	m.Commands.ResumeSession = []string{"resume", "{session_id}", "{message}"}
	a := newAdapter(t, m)
	ctx := context.Background()

	h, _ := a.StartSession(ctx, t.TempDir(), nil)
	a.SendMessage(ctx, h, "send")
	waitIdle(t, a, h)
	a.ReadOutput(ctx, h)

	if err := a.SendMessage(ctx, h, "again"); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, a, h)
	raw, _ := a.ReadRaw(ctx, h)
	if !contains(raw, "resumed vend-42 again") {
		t.Errorf("raw = %q, want resume template output", raw)
	}
}

func TestAdapter_FlagsAppended(t *testing.T) {
	m := newManifest(t)
	m.Flags = []backend.Flag{
		{ID: "model", Flag: "--model", Type: backend.FlagSelect, Options: []backend.FlagOption{{Value: "opus"}}},
		{ID: "yolo", Flag: "--yolo", Type: backend.FlagToggle},
		{ID: "quiet", Flag: "--quiet", Type: backend.FlagToggle},
		{ID: "extra", Flag: "--extra", Type: backend.FlagString},
	}
	a := newAdapter(t, m)
	ctx := context.Background()

	settings := map[string]string{"model": "opus", "yolo": "true", "quiet": "false", "extra": ""}
	if err := a.ValidateSettings(ctx, settings); err != nil {
		t.Fatalf("ValidateSettings() error = %v", err)
	}
	h, _ := a.StartSession(ctx, t.TempDir(), settings)
	a.SendMessage(ctx, h, "flags")
	waitIdle(t, a, h)
	raw, _ := a.ReadRaw(ctx, h)
	if !contains(raw, "args: --model opus --yolo") {
		t.Errorf("raw = %q", raw)
	}
}

func TestAdapter_ValidateSettings(t *testing.T) {
	m := newManifest(t)
	m.Flags = []backend.Flag{
		{ID: "model", Flag: "--model", Type: backend.FlagSelect, Options: []backend.FlagOption{{Value: "opus"}}},
		{ID: "yolo", Flag: "--yolo", Type: backend.FlagToggle},
	}
	a := newAdapter(t, m)
	ctx := context.Background()

	bad := []map[string]string{
		{"unknown": "x"},
		{"model": "gpt"},
		{"yolo": "maybe"},
	}
	for _, s := range bad {
		if err := a.ValidateSettings(ctx, s); !errors.Is(err, backend.ErrInvalidSettings) {
			t.Errorf("ValidateSettings(%v) = %v, want ErrInvalidSettings", s, err)
		}
	}
}

func TestAdapter_WaitingForInput(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()
	h, _ := a.StartSession(ctx, t.TempDir(), nil)

	a.SendMessage(ctx, h, "ask")
	st := waitIdle(t, a, h)
	if !st.IsWaitingForInput {
		t.Errorf("IsWaitingForInput = false after prompt line")
	}
}

func TestAdapter_FailedExitRecordsError(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()
	h, _ := a.StartSession(ctx, t.TempDir(), nil)

	a.SendMessage(ctx, h, "fail")
	deadline := time.Now().Add(5 * time.Second)
	var st backend.SessionStatus
	for time.Now().Before(deadline) {
		st, _ = a.SessionStatus(ctx, h)
		if st.Error != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(st.Error, "code 2") {
		t.Errorf("Error = %q, want exit code 2", st.Error)
	}
}

func TestAdapter_SendSupersedesRunningChild(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()
	h, _ := a.StartSession(ctx, t.TempDir(), nil)

	if err := a.SendMessage(ctx, h, "slow"); err != nil {
		t.Fatal(err)
	}
	st, _ := a.SessionStatus(ctx, h)
	first := st.Metadata["process_id"]
	if first == "" {
		t.Fatal("no process_id while running")
	}

	if err := a.SendMessage(ctx, h, "slow"); err != nil {
		t.Fatal(err)
	}
	st, _ = a.SessionStatus(ctx, h)
	if st.Metadata["process_id"] == first {
		t.Error("process_id unchanged after second send")
	}
	pid, _ := strconv.Atoi(first)
	if proc.Alive(pid) {
		t.Errorf("superseded pid %d still alive", pid)
	}
	// The first child's kill must not be recorded as an error.
	if st.Error != "" {
		t.Errorf("Error = %q after supersede", st.Error)
	}

	if err := a.StopSession(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SessionStatus(ctx, h); !errors.Is(err, backend.ErrSessionNotFound) {
		t.Errorf("SessionStatus after stop error = %v", err)
	}
	if err := a.StopSession(ctx, h); !errors.Is(err, backend.ErrSessionNotFound) {
		t.Errorf("second StopSession() = %v", err)
	}
}

func TestAdapter_Resume(t *testing.T) {
	ctx := context.Background()
	a := newAdapter(t, newManifest(t))
	if _, err := a.ResumeSession(ctx, "v1", t.TempDir(), nil); !errors.Is(err, backend.ErrCapabilityUnsupported) {
		t.Errorf("ResumeSession() without capability = %v", err)
	}

	m := newManifest(t)
	m.Capabilities.SessionResume = true
	a = newAdapter(t, m)
	h, err := a.ResumeSession(ctx, "v1", t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.VendorSessionID != "v1" {
		t.Errorf("VendorSessionID = %q", h.VendorSessionID)
	}
	h2, _ := a.ResumeSession(ctx, "v1", t.TempDir(), nil)
	if h2.SessionID == h.SessionID {
		t.Error("resume reused the internal session id")
	}
}

func TestAdapter_HistoryDegradesWithoutTemplates(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()

	sessions, err := a.ListSessions(ctx, t.TempDir())
	if err != nil || len(sessions) != 0 {
		t.Errorf("ListSessions() = %v, %v; want empty", sessions, err)
	}
	msgs, err := a.History(ctx, "v1")
	if err != nil || len(msgs) != 0 {
		t.Errorf("History() = %v, %v; want empty", msgs, err)
	}
	page, err := a.HistoryPage(ctx, "v1", 0, 10)
	if err != nil || page.TotalCount != 0 || page.HasMore {
		t.Errorf("HistoryPage() = %+v, %v", page, err)
	}
}

func TestAdapter_HistoryCommands(t *testing.T) {
	m := newManifest(t)
	m.Commands.ListSessions = []string{"list", "{project_path}"}
	m.Commands.GetHistory = []string{"history", "{session_id}"}
	a := newAdapter(t, m)
	ctx := context.Background()

	sessions, err := a.ListSessions(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].VendorSessionID != "v1" || sessions[0].MessageCount != 2 {
		t.Errorf("ListSessions() = %+v", sessions)
	}

	msgs, err := a.History(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "a" || msgs[1].ID != "x" {
		t.Errorf("History() = %+v", msgs)
	}
	if !strings.HasPrefix(msgs[0].ID, "msg-10-") {
		t.Errorf("fallback id = %q", msgs[0].ID)
	}

	page, err := a.HistoryPage(ctx, "v1", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "x" || !page.HasMore || page.TotalCount != 2 {
		t.Errorf("HistoryPage() = %+v", page)
	}

	m2 := newManifest(t)
	m2.Commands.GetHistory = []string{"fail"}
	if _, err := newAdapter(t, m2).History(ctx, "v1"); err == nil {
		t.Error("History() error = nil for failing command")
	}
}

func TestAdapter_CLIVersion(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	v, err := a.CLIVersion(context.Background())
	if err != nil || v != "fake-cli 1.2.3" {
		t.Errorf("CLIVersion() = %q, %v", v, err)
	}

	m := newManifest(t)
	m.Commands.GetVersion = []string{"badjson"}
	v, _ = newAdapter(t, m).CLIVersion(context.Background())
	if v != "not json" {
		t.Errorf("CLIVersion() with template = %q", v)
	}
}

func TestAdapter_WatchUnsupported(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	_, err := a.Watch(context.Background(), t.TempDir(), "v1", func(backend.SessionUpdate) {})
	if !errors.Is(err, backend.ErrCapabilityUnsupported) {
		t.Errorf("Watch() error = %v, want ErrCapabilityUnsupported", err)
	}
	if err := a.Unwatch(context.Background(), backend.WatchHandle{}); err != nil {
		t.Errorf("Unwatch(empty) = %v", err)
	}
}

func TestAdapter_WatchTranscript(t *testing.T) {
	dir := t.TempDir()
	m := newManifest(t)
	m.Watch.TranscriptPath = filepath.Join(dir, "{session_id}.jsonl")
	a := newAdapter(t, m)
	ctx := context.Background()

	updates := make(chan backend.SessionUpdate, 4)
	h, err := a.Watch(ctx, t.TempDir(), "v9", func(u backend.SessionUpdate) { updates <- u })
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "v9.jsonl"), []byte(`{"role":"user","content":"hey"}`+"\n"), 0644)

	select {
	case u := <-updates:
		if u.Type != backend.UpdateNewMessage || u.Message.Content != "hey" {
			t.Errorf("update = %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update")
	}

	if err := a.Unwatch(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := a.Unwatch(ctx, h); !errors.Is(err, backend.ErrSessionNotFound) {
		t.Errorf("second Unwatch() = %v", err)
	}
}

func TestJSONPath(t *testing.T) {
	tests := []struct {
		line, path, want string
	}{
		{`{"session_id":"abc"}`, "session_id", "abc"},
		{`{"result":{"session_id":"n"}}`, "result.session_id", "n"},
		{`{"result":{"id":42}}`, "result.id", "42"},
		{`{"result":"x"}`, "result.id", ""},
		{`plain text`, "session_id", ""},
		{`{bad json`, "session_id", ""},
	}
	for _, tt := range tests {
		if got := jsonPath(tt.line, tt.path); got != tt.want {
			t.Errorf("jsonPath(%q, %q) = %q, want %q", tt.line, tt.path, got, tt.want)
		}
	}
}

func TestProjectSlug(t *testing.T) {
	if got := ProjectSlug("/Users/me/my_app.v2"); got != "-Users-me-my-app-v2" {
		t.Errorf("ProjectSlug() = %q", got)
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestAdapter_StopDuringSendLeavesNoChild(t *testing.T) {
	a := newAdapter(t, newManifest(t))
	ctx := context.Background()
	pidFile := filepath.Join(t.TempDir(), "pids")

	for i := 0; i < 30; i++ {
		h, err := a.StartSession(ctx, t.TempDir(), nil)
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := a.SendMessage(ctx, h, "record:"+pidFile)
			if err != nil && !errors.Is(err, backend.ErrSessionNotFound) {
				t.Errorf("SendMessage() = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			a.StopSession(ctx, h)
		}()
		wg.Wait()
	}

	data, err := os.ReadFile(pidFile)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for _, field := range strings.Fields(string(data)) {
		pid, _ := strconv.Atoi(field)
		for proc.Alive(pid) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if proc.Alive(pid) {
			t.Errorf("pid %d alive after its session was stopped", pid)
		}
	}
}
