package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/tessro/atelier/internal/backend"
)

var pageTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #1f2937; }
.message { border-left: 3px solid #6B7280; margin: 1.5rem 0; padding: 0 1rem; }
.message.user { border-color: #10B981; }
.message.assistant { border-color: #7C3AED; }
.meta { color: #6B7280; font-size: 0.85rem; }
pre { background: #f3f4f6; padding: 0.75rem; overflow-x: auto; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="message {{.Role}}">
<p class="meta">{{.Role}}{{if .Time}} &middot; {{.Time}}{{end}}</p>
{{.Body}}
</div>
{{end}}</body>
</html>
`))

type pageData struct {
	Title    string
	Messages []pageMessage
}

type pageMessage struct {
	Role string
	Time string
	Body template.HTML
}

// HTMLExporter renders conversation history as a standalone HTML page.
// Message content is treated as Markdown.
type HTMLExporter struct {
	md goldmark.Markdown
}

// NewHTMLExporter creates an exporter with tables, autolinks, and hard
// wraps enabled. Raw HTML in messages is escaped.
func NewHTMLExporter() *HTMLExporter {
	return &HTMLExporter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Table,
				extension.Linkify,
				extension.Strikethrough,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
			),
		),
	}
}

// Export writes the page for msgs to w.
func (e *HTMLExporter) Export(w io.Writer, title string, msgs []backend.HistoryMessage) error {
	data := pageData{Title: title, Messages: make([]pageMessage, 0, len(msgs))}
	for _, m := range msgs {
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(m.Content), &buf); err != nil {
			return fmt.Errorf("converting message %s: %w", m.ID, err)
		}
		pm := pageMessage{Role: m.Role, Body: template.HTML(buf.String())}
		if m.Timestamp > 0 {
			pm.Time = time.Unix(m.Timestamp, 0).UTC().Format(time.RFC3339)
		}
		data.Messages = append(data.Messages, pm)
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	return nil
}
