// Package commands implements the opclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "opclaw",
		Short: "opclaw - natural-language operator for Discord servers",
		Long: `opclaw lets a single operator run a Discord server in plain language:
music playback, moderation and administration through one mention.

Examples:
  opclaw setup
  opclaw serve
  opclaw console
  opclaw audit list --limit 50`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(version),
		newSetupCmd(),
		newConsoleCmd(),
		newAuditCmd(),
		newHealthCmd(),
		newConfigCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
