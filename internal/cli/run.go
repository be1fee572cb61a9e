package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/atelier/internal/realtime"
	"github.com/tessro/atelier/internal/render"
	"github.com/tessro/atelier/internal/session"
)

var (
	runModel          string
	runPermissionMode string
	runMaxTurns       int
	runEvents         bool

	serveAddr string
)

var runCmd = &cobra.Command{
	Use:   "run <backend> <project> <message>",
	Short: "Run one message through a built-in agent backend",
	Long: `Start a session on a built-in backend (claude, codex, gemini, aider, opencode),
send one message, and print the CLI's output as it arrives.`,
	Args: cobra.ExactArgs(3),
	RunE: runRun,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Detect installed agent CLIs",
	Args:  cobra.NoArgs,
	RunE:  runAgents,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions and plugins over HTTP and websocket",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runRun(cmd *cobra.Command, args []string) error {
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

	reg := e.sessions()
	snap, err := reg.Start(ctx, project, args[0], session.Options{
		Model:          runModel,
		PermissionMode: runPermissionMode,
		MaxTurns:       runMaxTurns,
	})
	if err != nil {
		return err
	}
	defer reg.Stop(snap.ID)

	if err := reg.Send(ctx, snap.ID, args[2]); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()
	for {
		raw, events, err := reg.ReadBoth(snap.ID)
		if err != nil {
			return err
		}
		for _, line := range raw {
			fmt.Fprintln(out, line)
		}
		if runEvents {
			for _, ev := range events {
				fmt.Fprintln(cmd.ErrOrStderr(), render.Event(ev))
			}
		}

		st, err := reg.Status(snap.ID)
		if err != nil {
			return err
		}
		if st.PID == 0 && len(raw) == 0 {
			if st.Status == session.StatusError {
				return fmt.Errorf("%s: %s", args[0], st.Error)
			}
			if st.VendorSessionID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", st.VendorSessionID)
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

func runAgents(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tCOMMAND\tINSTALLED\tVERSION")
	for _, d := range e.sessions().Detect(cmd.Context()) {
		version := d.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", d.Name, d.Command, d.Installed, version)
	}
	return w.Flush()
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	addr := e.cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	rt := realtime.New(e.sessions(), e.plugins, e.cfg.Serve.PollInterval)
	defer rt.Close()
	srv := &http.Server{
		Addr:              addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "atelier listening on http://%s\n", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt.Close()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	runCmd.Flags().StringVar(&runModel, "model", "", "model name passed to the CLI")
	runCmd.Flags().StringVar(&runPermissionMode, "permission-mode", "", "permission mode passed to the CLI")
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "maximum agent turns")
	runCmd.Flags().BoolVar(&runEvents, "events", false, "print classified events to stderr")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	rootCmd.AddCommand(runCmd, agentsCmd, serveCmd)
}
