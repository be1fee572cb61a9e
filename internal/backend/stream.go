package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ContentBlock is a single item of structured message content.
type ContentBlock struct {
	Type      string          `json:"type"`                  // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`        // For text blocks
	ID        string          `json:"id,omitempty"`          // tool_use ID
	Name      string          `json:"name,omitempty"`        // Tool name (Bash, AskUserQuestion, etc.)
	Input     json.RawMessage `json:"input,omitempty"`       // Tool input as raw JSON
	Content   FlexContent     `json:"content,omitempty"`     // tool_result content (string or array)
	ToolUseID string          `json:"tool_use_id,omitempty"` // Links result to tool_use
}

// FlexContent handles a "content" field that is either a string
// or an array of content parts (e.g., [{"type":"text","text":"..."}]).
type FlexContent string

// UnmarshalJSON implements custom unmarshaling for FlexContent.
func (f *FlexContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexContent(s)
		return nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		*f = FlexContent(strings.Join(texts, "\n"))
		return nil
	}

	*f = FlexContent(string(data))
	return nil
}

// Record is a decoded transcript line: the history message plus any
// structured blocks it carried.
type Record struct {
	Message HistoryMessage
	Blocks  []ContentBlock
}

type nestedMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawRecord struct {
	ID        string          `json:"id"`
	UUID      string          `json:"uuid"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   *nestedMessage  `json:"message"`
}

// DecodeRecord decodes one transcript record. Both the flat
// {role, content} shape and the nested {message: {role, content}} shape
// are accepted. Records missing a role or content are rejected.
// now is used as the timestamp when the record has none.
func DecodeRecord(data []byte, now int64) (Record, bool) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, false
	}

	role, content := raw.Role, raw.Content
	if raw.Message != nil {
		if role == "" {
			role = raw.Message.Role
		}
		if len(content) == 0 {
			content = raw.Message.Content
		}
	}
	if role == "" || len(content) == 0 || string(content) == "null" {
		return Record{}, false
	}

	var text FlexContent
	if err := json.Unmarshal(content, &text); err != nil {
		return Record{}, false
	}
	var blocks []ContentBlock
	_ = json.Unmarshal(content, &blocks)

	ts := parseTimestamp(raw.Timestamp)
	if ts == 0 {
		ts = now
	}

	id := raw.ID
	if id == "" {
		id = raw.UUID
	}
	if id == "" {
		id = fmt.Sprintf("msg-%d-%x", ts, len(text))
	}

	return Record{
		Message: HistoryMessage{
			ID:        id,
			Role:      role,
			Content:   string(text),
			Timestamp: ts,
		},
		Blocks: blocks,
	}, true
}

// DecodeMessage decodes one transcript record into a HistoryMessage.
func DecodeMessage(data []byte, now int64) (HistoryMessage, bool) {
	rec, ok := DecodeRecord(data, now)
	return rec.Message, ok
}

// DecodeMessages decodes a JSON array of transcript records, skipping
// entries that lack a role or content.
func DecodeMessages(data []byte, now int64) ([]HistoryMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	messages := make([]HistoryMessage, 0, len(items))
	for _, item := range items {
		if msg, ok := DecodeMessage(item, now); ok {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// parseTimestamp accepts seconds, milliseconds, or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		ts := int64(n)
		if ts > 1e12 {
			ts /= 1000
		}
		return ts
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return 0
}
