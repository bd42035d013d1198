// Package main provides the entry point for the sluice CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sluice/cmd/sluice/commands"
	"github.com/Sumatoshi-tech/sluice/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sluice",
		Short: "Sluice - incremental streaming aggregation over watched record files",
		Long: `Sluice watches a directory for record files and keeps a set of
analytical query results continuously up to date, with exactly-once
processing across restarts.

Commands:
  run         Start the watch-and-aggregate loop
  checkpoint  Inspect or clear the persisted checkpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewCheckpointCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "sluice %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
