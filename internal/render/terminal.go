package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/output"
)

// DefaultWidth is used when the caller does not know the terminal width.
const DefaultWidth = 100

const (
	maxToolInput  = 80
	maxToolLines  = 5
	messageIndent = 2
)

// PluginList renders one line per plugin with its capabilities.
// installed, when non-nil, marks whether each plugin's CLI is on PATH.
func PluginList(infos []backend.Info, installed map[string]bool) string {
	if len(infos) == 0 {
		return mutedStyle.Render("No plugins found.")
	}
	var b strings.Builder
	for _, info := range infos {
		b.WriteString(pluginStyle(info.Color).Render(info.Name))
		if info.Version != "" {
			b.WriteString(mutedStyle.Render(" v" + info.Version))
		}
		if installed != nil {
			if installed[info.Name] {
				b.WriteString(" " + okStyle.Render("installed"))
			} else {
				b.WriteString(" " + errorStyle.Render("missing"))
			}
		}
		b.WriteString("\n")
		if info.Description != "" {
			b.WriteString(indent.String(info.Description, messageIndent) + "\n")
		}
		if len(info.Capabilities) > 0 {
			caps := make([]string, len(info.Capabilities))
			for i, c := range info.Capabilities {
				caps[i] = string(c)
			}
			b.WriteString(indent.String(mutedStyle.Render(strings.Join(caps, ", ")), messageIndent) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FlagList renders a plugin's flags with their current values.
func FlagList(flags []backend.Flag, values map[string]string) string {
	if len(flags) == 0 {
		return mutedStyle.Render("No flags.")
	}
	var b strings.Builder
	for _, f := range flags {
		value := values[f.ID]
		if value == "" {
			value = mutedStyle.Render("(unset)")
		}
		fmt.Fprintf(&b, "%s %s = %s\n", headingStyle.Render(f.ID), mutedStyle.Render(f.Flag), value)
		var desc []string
		for _, s := range []string{f.Label, f.Description} {
			if s != "" {
				desc = append(desc, s)
			}
		}
		if len(desc) > 0 {
			b.WriteString(indent.String(strings.Join(desc, ": "), messageIndent) + "\n")
		}
		if len(f.Options) > 0 {
			opts := make([]string, len(f.Options))
			for i, o := range f.Options {
				opts[i] = o.Value
			}
			b.WriteString(indent.String(mutedStyle.Render("options: "+strings.Join(opts, " | ")), messageIndent) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// History renders transcript messages, wrapped to width.
func History(msgs []backend.HistoryMessage, width int) string {
	if width <= messageIndent {
		width = DefaultWidth
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, Message(m, width))
	}
	return strings.Join(parts, "\n\n")
}

// Message renders one transcript message.
func Message(m backend.HistoryMessage, width int) string {
	label := roleLabel(m.Role)
	if m.Timestamp > 0 {
		label += " " + mutedStyle.Render(time.Unix(m.Timestamp, 0).Format(time.DateTime))
	}
	body := wordwrap.String(strings.TrimSpace(m.Content), width-messageIndent)
	return label + "\n" + indent.String(body, messageIndent)
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return userStyle.Render("You")
	case "assistant":
		return assistantStyle.Render("Assistant")
	case "system":
		return mutedStyle.Render("System")
	default:
		return headingStyle.Render(role)
	}
}

// Chunk renders one output chunk for live display.
func Chunk(c backend.OutputChunk, width int) string {
	if width <= messageIndent {
		width = DefaultWidth
	}
	switch c.Type {
	case backend.ChunkText:
		return wordwrap.String(c.Content, width)
	case backend.ChunkThinking:
		return mutedStyle.Render(wordwrap.String(c.Content, width))
	case backend.ChunkToolUse:
		return toolStyle.Render("["+c.Name+"]") + " " + toolInput(c.Input)
	case backend.ChunkToolResult:
		return toolStyle.Render("->") + " " + toolResult(c.Output, width-3)
	case backend.ChunkError:
		return errorStyle.Render(c.Content)
	case backend.ChunkStatusUpdate:
		return warningStyle.Render(c.Content)
	case backend.ChunkSessionID:
		return mutedStyle.Render("session " + c.Content)
	default:
		return c.Content
	}
}

// Event renders one classified output event as a short status line.
func Event(ev output.Event) string {
	switch ev.Kind {
	case output.KindFileChanged:
		return okStyle.Render(string(ev.Change)) + " " + ev.Path
	case output.KindTestRan:
		if ev.Passed {
			return okStyle.Render("PASS") + " " + ev.Name
		}
		return errorStyle.Render("FAIL") + " " + ev.Name
	case output.KindError:
		return errorStyle.Render(ev.Message)
	case output.KindWarning:
		return warningStyle.Render(ev.Message)
	case output.KindCommandExecuted:
		return toolStyle.Render("$") + " " + ev.Command
	case output.KindInputRequired:
		return warningStyle.Render("? " + ev.Prompt)
	case output.KindTaskCompleted, output.KindTaskCreated:
		return okStyle.Render(string(ev.Kind)) + " " + ev.Description
	case output.KindThinking:
		return mutedStyle.Render(ev.Message)
	case output.KindRawOutput:
		return ev.Line
	default:
		return ev.Content
	}
}

func toolInput(input string) string {
	input = strings.TrimSpace(strings.ReplaceAll(input, "\n", " "))
	return truncate.StringWithTail(input, maxToolInput, "...")
}

func toolResult(result string, width int) string {
	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
	if len(lines) > maxToolLines {
		lines = append(lines[:maxToolLines], "...")
	}
	for i, line := range lines {
		lines[i] = truncate.StringWithTail(line, uint(max(width, 4)), "...")
	}
	return strings.Join(lines, "\n   ")
}
