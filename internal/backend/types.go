package backend

// Capability names an optional plugin feature.
type Capability string

const (
	CapSessionResume   Capability = "session_resume"
	CapStreamingOutput Capability = "streaming_output"
	CapToolUse         Capability = "tool_use"
	CapMultiTurn       Capability = "multi_turn"
	CapFileContext     Capability = "file_context"
	CapThinking        Capability = "thinking"
)

// SessionHandle identifies a plugin session. It carries no behavior.
type SessionHandle struct {
	SessionID       string `json:"session_id"`
	VendorSessionID string `json:"cli_session_id,omitempty"`
	ProcessID       int    `json:"process_id,omitempty"`
	PluginName      string `json:"plugin_name"`
	StartedAt       int64  `json:"started_at"`
}

// SessionStatus is a point-in-time view of a plugin session.
type SessionStatus struct {
	IsRunning         bool              `json:"is_running"`
	IsWaitingForInput bool              `json:"is_waiting_for_input"`
	Error             string            `json:"error,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// SessionInfo describes a vendor-native session found on disk.
type SessionInfo struct {
	VendorSessionID string            `json:"cli_session_id"`
	StartedAt       int64             `json:"started_at"`
	LastActivity    int64             `json:"last_activity"`
	MessageCount    int               `json:"message_count"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// HistoryMessage is one record of a vendor transcript.
type HistoryMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PaginatedHistory is one page of history, most recent first.
type PaginatedHistory struct {
	Messages   []HistoryMessage `json:"messages"`
	TotalCount int              `json:"total_count"`
	HasMore    bool             `json:"has_more"`
	Offset     int              `json:"offset"`
}

// ChunkType discriminates OutputChunk.
type ChunkType string

const (
	ChunkText         ChunkType = "text"
	ChunkThinking     ChunkType = "thinking"
	ChunkToolUse      ChunkType = "tool_use"
	ChunkToolResult   ChunkType = "tool_result"
	ChunkError        ChunkType = "error"
	ChunkStatusUpdate ChunkType = "status_update"
	ChunkSessionID    ChunkType = "session_id"
)

// OutputChunk is a transport-neutral piece of session output.
type OutputChunk struct {
	Type ChunkType `json:"type"`

	// Text, Thinking, Error, StatusUpdate, SessionID
	Content string `json:"content,omitempty"`

	// ToolUse, ToolResult
	Name   string `json:"name,omitempty"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// UpdateType discriminates SessionUpdate.
type UpdateType string

const (
	UpdateNewMessage         UpdateType = "new_message"
	UpdateUserPromptRequired UpdateType = "user_prompt_required"
	UpdateStatusChanged      UpdateType = "status_changed"
	UpdateSessionEnded       UpdateType = "session_ended"
	UpdateError              UpdateType = "error"
)

// SessionUpdate is delivered to watch callbacks.
type SessionUpdate struct {
	Type    UpdateType      `json:"type"`
	Message *HistoryMessage `json:"message,omitempty"`
	Prompt  *UserPrompt     `json:"prompt,omitempty"`
	Status  string          `json:"status,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WatchHandle identifies an active watch subscription.
type WatchHandle struct {
	ID              string `json:"id"`
	PluginName      string `json:"plugin_name"`
	VendorSessionID string `json:"cli_session_id"`
}

// FlagType is how a flag is edited in a UI.
type FlagType string

const (
	FlagToggle FlagType = "toggle"
	FlagSelect FlagType = "select"
	FlagString FlagType = "string"
)

// FlagOption is one allowed value of a Select flag.
type FlagOption struct {
	Value       string `json:"value" toml:"value" yaml:"value"`
	Label       string `json:"label" toml:"label" yaml:"label"`
	Description string `json:"description,omitempty" toml:"description" yaml:"description"`
}

// Flag is a user-configurable CLI option.
type Flag struct {
	ID           string       `json:"id" toml:"id" yaml:"id"`
	Flag         string       `json:"flag" toml:"flag" yaml:"flag"`
	Label        string       `json:"label" toml:"label" yaml:"label"`
	Description  string       `json:"description,omitempty" toml:"description" yaml:"description"`
	Type         FlagType     `json:"flag_type" toml:"type" yaml:"type"`
	DefaultValue string       `json:"default_value,omitempty" toml:"default" yaml:"default"`
	Options      []FlagOption `json:"options,omitempty" toml:"options" yaml:"options"`
	Category     string       `json:"category,omitempty" toml:"category" yaml:"category"`
}

// Args renders the flag as CLI arguments for value. Toggles appear only
// when value is "true"; other kinds appear only when value is non-empty.
func (f Flag) Args(value string) []string {
	switch f.Type {
	case FlagToggle:
		if value == "true" {
			return []string{f.Flag}
		}
	default:
		if value != "" {
			return []string{f.Flag, value}
		}
	}
	return nil
}

// Info is the introspection summary of a loaded plugin.
type Info struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Version      string       `json:"version"`
	Description  string       `json:"description"`
	Capabilities []Capability `json:"capabilities"`
	Icon         string       `json:"icon,omitempty"`
	Color        string       `json:"color,omitempty"`
	Flags        []Flag       `json:"flags,omitempty"`
}

// InfoOf summarises p.
func InfoOf(p Plugin) Info {
	return Info{
		Name:         p.Name(),
		DisplayName:  p.DisplayName(),
		Version:      p.Version(),
		Description:  p.Description(),
		Capabilities: p.Capabilities(),
		Icon:         p.Icon(),
		Color:        p.Color(),
		Flags:        p.Flags(),
	}
}
