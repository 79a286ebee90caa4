package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"holodex/internal/version"
)

var (
	// formatFlag selects json or human output for all commands
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "holo",
	Short: "HoloIndex - self-indexing code intelligence",
	Long: `HoloIndex keeps a living index of a repository: full-text search over
code symbols and docs, per-module health scoring, dependency graph analysis,
and a background daemon that keeps it all fresh. Query answers are composed
from whichever components the learned routing rules select.`,
	Version: version.Info(),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print full version and build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
	},
}

func init() {
	rootCmd.SetVersionTemplate("holo version {{.Version}}\n")
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human",
		"Output format (human, json)")
}
