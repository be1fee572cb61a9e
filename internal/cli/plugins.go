package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessro/atelier/internal/plugin"
	"github.com/tessro/atelier/internal/render"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage CLI plugins",
	Long:  "List plugins, inspect their flags, and install the built-in manifests.",
}

var pluginsJSON bool

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded plugins",
	Args:  cobra.NoArgs,
	RunE:  runPluginsList,
}

var pluginsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check which plugin CLIs are installed",
	Long:  "Check each plugin's CLI binary on PATH and print its version.",
	Args:  cobra.NoArgs,
	RunE:  runPluginsCheck,
}

var pluginsFlagsCmd = &cobra.Command{
	Use:   "flags <plugin>",
	Short: "Show a plugin's flags and their values",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginsFlags,
}

var pluginsFlagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Read or change one plugin flag",
}

var pluginsFlagGetCmd = &cobra.Command{
	Use:   "get <plugin> <flag-id>",
	Short: "Print a flag value",
	Args:  cobra.ExactArgs(2),
	RunE:  runPluginsFlagGet,
}

var pluginsFlagSetCmd = &cobra.Command{
	Use:   "set <plugin> <flag-id> <value>",
	Short: "Store a flag value",
	Args:  cobra.ExactArgs(3),
	RunE:  runPluginsFlagSet,
}

var pluginsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the built-in plugin manifests",
	Long:  "Write the built-in plugin manifests into the plugin directory. Existing plugins are left untouched.",
	Args:  cobra.NoArgs,
	RunE:  runPluginsInstall,
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	infos := e.plugins.List()
	if pluginsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.PluginList(infos, nil))
	return nil
}

func runPluginsCheck(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	installed := make(map[string]bool)
	for _, name := range e.plugins.Names() {
		p, err := e.plugins.Get(name)
		if err != nil {
			continue
		}
		ok, err := p.CheckInstallation(ctx)
		if err != nil {
			return fmt.Errorf("check %s: %w", name, err)
		}
		installed[name] = ok
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.PluginList(e.plugins.List(), installed))

	for _, name := range e.plugins.Names() {
		if !installed[name] {
			continue
		}
		p, _ := e.plugins.Get(name)
		if v, err := p.CLIVersion(ctx); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, v)
		}
	}
	return nil
}

func runPluginsFlags(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	flags, err := e.plugins.Flags(args[0])
	if err != nil {
		return err
	}
	values, err := e.plugins.Settings(args[0])
	if err != nil {
		return err
	}
	if pluginsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(flags)
	}
	fmt.Fprintln(cmd.OutOrStdout(), render.FlagList(flags, values))
	return nil
}

func runPluginsFlagGet(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	v, err := e.plugins.GetFlag(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runPluginsFlagSet(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.plugins.SetFlag(cmd.Context(), args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", args[0], args[1], args[2])
	return nil
}

func runPluginsInstall(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	installed, err := plugin.InstallDefaults(e.cfg.PluginDir)
	if err != nil {
		return fmt.Errorf("install plugins: %w", err)
	}
	if len(installed) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "All built-in plugins already present in %s\n", e.cfg.PluginDir)
		return nil
	}
	for _, name := range installed {
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Plugin directory: %s\n", e.cfg.PluginDir)
	return nil
}

func init() {
	pluginsListCmd.Flags().BoolVar(&pluginsJSON, "json", false, "print JSON")
	pluginsFlagsCmd.Flags().BoolVar(&pluginsJSON, "json", false, "print JSON")

	pluginsFlagCmd.AddCommand(pluginsFlagGetCmd, pluginsFlagSetCmd)
	pluginsCmd.AddCommand(pluginsListCmd, pluginsCheckCmd, pluginsFlagsCmd, pluginsFlagCmd, pluginsInstallCmd)
	rootCmd.AddCommand(pluginsCmd)
}
