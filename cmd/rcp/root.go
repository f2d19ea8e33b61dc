package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "rcp",
	Short: "Robot control panel service",
	Long: `rcp arbitrates exclusive control of robot arms between browser users,
validates joint commands against per-model limits, records every command in an
audit trail and forwards it to the robot over rosbridge.

Use "rcp [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $RCP_CONFIG or rcp.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rcp\n  Version: %s\n  Commit:  %s\n", Version, Commit)
	},
}
