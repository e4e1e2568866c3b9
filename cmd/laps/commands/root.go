package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/laps/internal/config"
	"github.com/systmms/laps/internal/logging"
)

// NewRootCommand builds the laps command tree around cfg and env.
func NewRootCommand(cfg *config.Config, env *Environment, version string) *cobra.Command {
	var (
		configFile     string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	rootCmd := &cobra.Command{
		Use:   "laps",
		Short: "Local administrator password rotation",
		Long: `laps rotates the password of a local administrator account on a schedule
and escrows it in the system secure store or a directory service.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			if cfg.Logger == nil {
				cfg.Logger = logging.NewWithWriter(cmd.ErrOrStderr(), debug, noColor)
			}

			cfg.Path = configFile
			cfg.NonInteractive = nonInteractive
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt (scheduled runs)")

	rootCmd.AddCommand(
		NewRotateCommand(cfg, env),
		NewGetCommand(cfg, env),
		NewExportCommand(cfg, env),
		NewStatusCommand(cfg, env),
		NewHistoryCommand(cfg, env),
		NewDoctorCommand(cfg, env),
		NewCompletionCommand(),
	)

	return rootCmd
}

// VersionString formats build metadata for --version.
func VersionString(version, commit, date string) string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}
