package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/muesli/reflow/ansi"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/output"
)

func TestPluginList(t *testing.T) {
	infos := []backend.Info{
		{Name: "aider", Version: "1.0.0", Description: "Pair programming", Color: "#14b014",
			Capabilities: []backend.Capability{backend.CapMultiTurn}},
		{Name: "codex", Capabilities: []backend.Capability{backend.CapSessionResume, backend.CapToolUse}},
	}

	got := PluginList(infos, map[string]bool{"aider": true})
	for _, want := range []string{"aider", "v1.0.0", "Pair programming", "multi_turn", "installed", "codex", "missing", "session_resume, tool_use"} {
		if !strings.Contains(got, want) {
			t.Errorf("PluginList() missing %q:\n%s", want, got)
		}
	}

	if got := PluginList(nil, nil); !strings.Contains(got, "No plugins") {
		t.Errorf("PluginList(nil) = %q", got)
	}
}

func TestFlagList(t *testing.T) {
	flags := []backend.Flag{
		{ID: "model", Flag: "--model", Label: "Model", Type: backend.FlagSelect,
			Options: []backend.FlagOption{{Value: "opus"}, {Value: "sonnet"}}},
		{ID: "yolo", Flag: "--yolo", Description: "Skip prompts", Type: backend.FlagToggle},
	}
	got := FlagList(flags, map[string]string{"model": "opus"})
	for _, want := range []string{"model", "--model", "= opus", "options: opus | sonnet", "(unset)", "  Skip prompts"} {
		if !strings.Contains(got, want) {
			t.Errorf("FlagList() missing %q:\n%s", want, got)
		}
	}
}

func TestHistory_WrapsToWidth(t *testing.T) {
	msgs := []backend.HistoryMessage{
		{Role: "user", Content: "short question"},
		{Role: "assistant", Content: strings.Repeat("word ", 40)},
	}
	const width = 40
	got := History(msgs, width)

	for _, line := range strings.Split(got, "\n") {
		if w := ansi.PrintableRuneWidth(line); w > width {
			t.Errorf("line width %d > %d: %q", w, width, line)
		}
	}
	if !strings.Contains(got, "You") || !strings.Contains(got, "Assistant") {
		t.Errorf("History() missing role labels:\n%s", got)
	}
	if !strings.Contains(got, "  short question") {
		t.Errorf("History() content not indented:\n%s", got)
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name  string
		chunk backend.OutputChunk
		want  string
	}{
		{"text", backend.OutputChunk{Type: backend.ChunkText, Content: "hello"}, "hello"},
		{"tool use", backend.OutputChunk{Type: backend.ChunkToolUse, Name: "Bash", Input: "ls\n-la"}, "[Bash] ls -la"},
		{"tool result", backend.OutputChunk{Type: backend.ChunkToolResult, Output: "ok"}, "-> ok"},
		{"session", backend.OutputChunk{Type: backend.ChunkSessionID, Content: "abc"}, "session abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Chunk(tt.chunk, 80); !strings.Contains(got, tt.want) {
				t.Errorf("Chunk() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestToolTruncation(t *testing.T) {
	long := strings.Repeat("x", 200)
	if got := toolInput(long); ansi.PrintableRuneWidth(got) > maxToolInput || !strings.HasSuffix(got, "...") {
		t.Errorf("toolInput() = %q", got)
	}

	result := strings.Repeat("line\n", 10)
	got := toolResult(result, 80)
	if n := strings.Count(got, "\n") + 1; n != maxToolLines+1 {
		t.Errorf("toolResult() has %d lines, want %d", n, maxToolLines+1)
	}
}

func TestEvent(t *testing.T) {
	tests := []struct {
		ev   output.Event
		want string
	}{
		{output.Event{Kind: output.KindFileChanged, Path: "a.go", Change: output.ChangeCreated}, "created a.go"},
		{output.Event{Kind: output.KindTestRan, Name: "TestX", Passed: true}, "PASS TestX"},
		{output.Event{Kind: output.KindTestRan, Name: "TestY"}, "FAIL TestY"},
		{output.Event{Kind: output.KindCommandExecuted, Command: "go build"}, "$ go build"},
		{output.Event{Kind: output.KindRawOutput, Line: "plain"}, "plain"},
	}
	for _, tt := range tests {
		if got := Event(tt.ev); !strings.Contains(got, tt.want) {
			t.Errorf("Event(%s) = %q, want %q", tt.ev.Kind, got, tt.want)
		}
	}
}

func TestHTMLExporter(t *testing.T) {
	msgs := []backend.HistoryMessage{
		{ID: "1", Role: "user", Content: "Fix **the** bug", Timestamp: 1700000000},
		{ID: "2", Role: "assistant", Content: "Done.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>"},
	}

	var buf bytes.Buffer
	if err := NewHTMLExporter().Export(&buf, "Session <abc>", msgs); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	got := buf.String()

	for _, want := range []string{
		"<title>Session &lt;abc&gt;</title>",
		"<strong>the</strong>",
		"<table>",
		`class="message user"`,
		"2023-11-14T22:13:20Z",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Export() missing %q", want)
		}
	}
	if strings.Contains(got, "<script>alert(1)</script>") {
		t.Error("Export() passed raw HTML through")
	}
}
