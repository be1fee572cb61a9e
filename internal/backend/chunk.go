package backend

import (
	"fmt"
	"strings"

	"github.com/tessro/atelier/internal/output"
)

// ChunkFromEvent converts a classified event into an output chunk.
func ChunkFromEvent(ev output.Event) OutputChunk {
	switch ev.Kind {
	case output.KindThinking:
		return OutputChunk{Type: ChunkThinking, Content: ev.Message}
	case output.KindError:
		return OutputChunk{Type: ChunkError, Content: ev.Message}
	case output.KindWarning:
		return OutputChunk{Type: ChunkStatusUpdate, Content: "Warning: " + ev.Message}
	case output.KindCommandExecuted:
		return OutputChunk{
			Type:  ChunkToolUse,
			Name:  "bash",
			Input: fmt.Sprintf("%s (exit code: %d)", ev.Command, ev.ExitCode),
		}
	case output.KindFileChanged:
		return OutputChunk{
			Type:  ChunkToolUse,
			Name:  "file_operation",
			Input: fmt.Sprintf("%s: %s", titleCase(string(ev.Change)), ev.Path),
		}
	case output.KindTestRan:
		result := "failed"
		if ev.Passed {
			result = "passed"
		}
		out := fmt.Sprintf("Test '%s' %s", ev.Name, result)
		if ev.Details != "" {
			out += ": " + ev.Details
		}
		return OutputChunk{Type: ChunkToolResult, Name: "test", Output: out}
	case output.KindTaskCompleted:
		return OutputChunk{Type: ChunkStatusUpdate, Content: "Task completed: " + ev.Description}
	case output.KindTaskCreated:
		return OutputChunk{Type: ChunkStatusUpdate, Content: "Task created: " + ev.Description}
	case output.KindInputRequired:
		return OutputChunk{Type: ChunkStatusUpdate, Content: "Input required: " + ev.Prompt}
	case output.KindMessageReceived:
		return OutputChunk{Type: ChunkText, Content: ev.Content}
	default:
		return OutputChunk{Type: ChunkText, Content: ev.Line}
	}
}

// ChunksFromEvents converts events in order.
func ChunksFromEvents(events []output.Event) []OutputChunk {
	chunks := make([]OutputChunk, 0, len(events))
	for _, ev := range events {
		chunks = append(chunks, ChunkFromEvent(ev))
	}
	return chunks
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
