package backend

import (
	"encoding/json"
	"testing"
)

func TestFlexContent_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `"hello"`, "hello"},
		{"array", `[{"type":"text","text":"a"},{"type":"text","text":"b"}]`, "a\nb"},
		{"array without text", `[{"type":"tool_use","name":"Bash"}]`, ""},
		{"number falls back to raw", `42`, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexContent
			if err := json.Unmarshal([]byte(tt.input), &f); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if string(f) != tt.want {
				t.Errorf("FlexContent = %q, want %q", f, tt.want)
			}
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ok      bool
		role    string
		content string
		ts      int64
		id      string
	}{
		{
			name:    "flat",
			input:   `{"id":"m1","role":"user","content":"hi","timestamp":1700000000}`,
			ok:      true,
			role:    "user",
			content: "hi",
			ts:      1700000000,
			id:      "m1",
		},
		{
			name:    "nested with blocks and rfc3339",
			input:   `{"uuid":"u1","type":"assistant","timestamp":"2024-01-02T03:04:05Z","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
			ok:      true,
			role:    "assistant",
			content: "done",
			ts:      1704164645,
			id:      "u1",
		},
		{
			name:    "milliseconds",
			input:   `{"role":"user","content":"x","timestamp":1700000000123}`,
			ok:      true,
			role:    "user",
			content: "x",
			ts:      1700000000,
			id:      "msg-1700000000-1",
		},
		{
			name:    "missing timestamp uses now",
			input:   `{"role":"user","content":"abc"}`,
			ok:      true,
			role:    "user",
			content: "abc",
			ts:      42,
			id:      "msg-42-3",
		},
		{name: "missing role", input: `{"content":"hi"}`},
		{name: "missing content", input: `{"role":"user"}`},
		{name: "null content", input: `{"role":"user","content":null}`},
		{name: "not json", input: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := DecodeRecord([]byte(tt.input), 42)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			m := rec.Message
			if m.Role != tt.role || m.Content != tt.content || m.Timestamp != tt.ts || m.ID != tt.id {
				t.Errorf("got %+v, want role=%s content=%q ts=%d id=%s", m, tt.role, tt.content, tt.ts, tt.id)
			}
		})
	}
}

func TestDecodeMessages_SkipsIncomplete(t *testing.T) {
	data := []byte(`[
		{"role":"user","content":"one"},
		{"role":"assistant"},
		{"content":"orphan"},
		{"role":"assistant","content":"two"}
	]`)
	msgs, err := DecodeMessages(data, 1)
	if err != nil {
		t.Fatalf("DecodeMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestDecodeMessages_InvalidJSON(t *testing.T) {
	if _, err := DecodeMessages([]byte(`{"not":"an array"}`), 0); err == nil {
		t.Error("expected error for non-array input")
	}
}
