package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the servicetree binary
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servicetree",
		Short: "Servicetree - composable prediction service",
		Long: `Servicetree serves a tree of HTTP services whose readiness is the
aggregate of every node's delayed initialization.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewConfigCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion returns the version line
func PrintVersion() string {
	return fmt.Sprintf("servicetree v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}
