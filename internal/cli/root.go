package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tessro/atelier/internal/paths"
)

// Global flag values.
var (
	atelierDir string
	configFile string
	logLevel   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Drive AI coding CLIs through one interface",
	Long:  "atelier runs AI coding CLIs as plugins, manages their sessions, and reads their history.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Exported so every path helper sees the override.
		if atelierDir != "" {
			if err := os.Setenv(paths.EnvAtelierDir, atelierDir); err != nil {
				return err
			}
		}
		return nil
	},
	SilenceUsage: true,
}

// AtelierDir returns the value of the --atelier-dir flag.
func AtelierDir() string {
	return atelierDir
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&atelierDir, "atelier-dir", "", "base directory for atelier data (overrides ~/.atelier)")
	pf.StringVar(&configFile, "config", "", "config file (default ~/.config/atelier/config.toml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVarP(&verbose, "verbose", "v", false, "also log to stderr")
}

func Execute() error {
	return rootCmd.Execute()
}
