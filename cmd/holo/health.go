package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health <module-path>",
	Short: "Score one module's health",
	Long: `Score a module across the structural, maintenance, knowledge,
dependency, and pattern dimensions and print the weighted overall with its
trend.

Examples:
  holo health messaging
  holo health internal/storage --format=json`,
	Args: cobra.ExactArgs(1),
	Run:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	mh, err := a.scorer.Score(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scoring %s: %v\n", args[0], err)
		os.Exit(exitError)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(mh, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("%s\n", mh.ModulePath)
	fmt.Printf("  overall     %.2f (%s)\n", mh.Overall, mh.Trend)
	fmt.Printf("  structural  %.2f\n", mh.Structural)
	fmt.Printf("  maintenance %.2f\n", mh.Maintenance)
	fmt.Printf("  knowledge   %.2f\n", mh.Knowledge)
	fmt.Printf("  dependency  %.2f\n", mh.Dependency)
	fmt.Printf("  pattern     %.2f\n", mh.Pattern)
	if len(mh.Degraded) > 0 {
		fmt.Printf("  missing signals: %s\n", strings.Join(mh.Degraded, ", "))
	}
}
