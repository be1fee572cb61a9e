package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/atelier/internal/backend"
	"github.com/tessro/atelier/internal/render"
)

const outputPollInterval = 200 * time.Millisecond

var (
	historyOffset int
	historyLimit  int
	historyWidth  int
	historyHTML   string

	chatResume string
	chatWidth  int
)

var historyCmd = &cobra.Command{
	Use:   "history <plugin> <session-id>",
	Short: "Show a vendor session's history",
	Long: `Show the transcript of a session the CLI saved on its own.

With --limit, prints one page, most recent first. The page starts after the
last continuation summary when the session was compacted.`,
	Args: cobra.ExactArgs(2),
	RunE: runHistory,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <plugin> <project>",
	Short: "List a CLI's saved sessions for a project",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessions,
}

var chatCmd = &cobra.Command{
	Use:   "chat <plugin> <project> <message>",
	Short: "Send one message through a plugin and stream the reply",
	Args:  cobra.ExactArgs(3),
	RunE:  runChat,
}

func absDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.plugins.Get(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var (
		msgs   []backend.HistoryMessage
		footer string
	)
	if historyLimit > 0 {
		page, err := p.HistoryPage(ctx, args[1], historyOffset, historyLimit)
		if err != nil {
			return err
		}
		msgs = page.Messages
		footer = fmt.Sprintf("%d of %d messages (offset %d, more: %v)",
			len(page.Messages), page.TotalCount, page.Offset, page.HasMore)
	} else {
		msgs, err = p.History(ctx, args[1])
		if err != nil {
			return err
		}
	}

	if historyHTML != "" {
		return writeHistoryHTML(historyHTML, args[1], msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	fmt.Fprintln(out, render.History(msgs, historyWidth))
	if footer != "" {
		fmt.Fprintln(out, "\n"+footer)
	}
	return nil
}

func writeHistoryHTML(path, title string, msgs []backend.HistoryMessage) error {
	exp := render.NewHTMLExporter()
	if path == "-" {
		return exp.Export(os.Stdout, title, msgs)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := exp.Export(f, title, msgs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runSessions(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	p, err := e.plugins.Get(args[0])
	if err != nil {
		return err
	}
	project, err := absDir(args[1])
	if err != nil {
		return err
	}
	infos, err := p.ListSessions(cmd.Context(), project)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tLAST ACTIVITY\tMESSAGES\tSTATUS")
	for _, s := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.VendorSessionID, formatUnix(s.StartedAt), formatUnix(s.LastActivity), s.MessageCount, s.Status)
	}
	return w.Flush()
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format(time.DateTime)
}

func runChat(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	project, err := absDir(args[1])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		p backend.Plugin
		h backend.SessionHandle
	)
	if chatResume != "" {
		p, h, err = e.plugins.ResumeSession(ctx, args[0], chatResume, project)
	} else {
		p, h, err = e.plugins.StartSession(ctx, args[0], project)
	}
	if err != nil {
		return err
	}
	// Stop with a fresh context so an interrupt still cleans up.
	defer p.StopSession(context.Background(), h)

	if err := p.SendMessage(ctx, h, args[2]); err != nil {
		return err
	}
	return streamOutput(ctx, cmd, p, h)
}

// streamOutput prints chunks until the CLI exits and output is drained.
func streamOutput(ctx context.Context, cmd *cobra.Command, p backend.Plugin, h backend.SessionHandle) error {
	out := cmd.OutOrStdout()
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()

	for {
		chunks, err := p.ReadOutput(ctx, h)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			fmt.Fprintln(out, render.Chunk(c, chatWidth))
		}

		st, err := p.SessionStatus(ctx, h)
		if err != nil {
			return err
		}
		if !st.IsRunning && len(chunks) == 0 {
			if st.Error != "" {
				return fmt.Errorf("%s: %s", p.Name(), st.Error)
			}
			if id := st.Metadata["cli_session_id"]; id != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", id)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func init() {
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "messages to skip from the most recent")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "page size (0 prints the whole transcript)")
	historyCmd.Flags().IntVar(&historyWidth, "width", render.DefaultWidth, "wrap width")
	historyCmd.Flags().StringVar(&historyHTML, "html", "", "write an HTML export to this file (- for stdout)")

	chatCmd.Flags().StringVar(&chatResume, "resume", "", "continue this vendor session id")
	chatCmd.Flags().IntVar(&chatWidth, "width", render.DefaultWidth, "wrap width")

	rootCmd.AddCommand(historyCmd, sessionsCmd, chatCmd)
}
