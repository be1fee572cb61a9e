// Package output classifies lines of agent CLI output into structured events.
package output

// StderrPrefix marks stderr lines in raw output buffers.
const StderrPrefix = "[stderr] "

// StderrLine returns line as buffered from a CLI's stderr.
func StderrLine(line string) string { return StderrPrefix + line }

// Kind discriminates the Event variant.
type Kind string

const (
	KindFileChanged     Kind = "file_changed"
	KindTestRan         Kind = "test_ran"
	KindTaskCompleted   Kind = "task_completed"
	KindTaskCreated     Kind = "task_created"
	KindError           Kind = "error"
	KindWarning         Kind = "warning"
	KindCommandExecuted Kind = "command_executed"
	KindThinking        Kind = "thinking"
	KindMessageReceived Kind = "message_received"
	KindInputRequired   Kind = "input_required"
	KindRawOutput       Kind = "raw_output"
)

// ChangeKind describes what happened to a file.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// Severity ranks Error events.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Event is one classified fact extracted from a line of output.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`

	// FileChanged
	Path   string     `json:"path,omitempty"`
	Change ChangeKind `json:"change_type,omitempty"`

	// TestRan
	Name    string `json:"name,omitempty"`
	Passed  bool   `json:"passed,omitempty"`
	Details string `json:"details,omitempty"`

	// TaskCompleted, TaskCreated
	Description string `json:"description,omitempty"`

	// Error, Warning, Thinking
	Message  string   `json:"message,omitempty"`
	Severity Severity `json:"severity,omitempty"`

	// CommandExecuted
	Command  string `json:"command,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`

	// MessageReceived
	Content string `json:"content,omitempty"`

	// InputRequired
	Prompt string `json:"prompt,omitempty"`

	// RawOutput
	Line string `json:"line,omitempty"`
}
