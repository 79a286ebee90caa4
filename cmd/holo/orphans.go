package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var orphanEntryPoints []string

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List modules nothing imports",
	Long: `List modules with no non-test importer and no entry point role.
Modules imported only by tests are excluded; they are reported as
test-only, not orphaned. Modules invoked externally (cron jobs,
plugins) can be declared with --entry-point to keep them off the list.`,
	Args: cobra.NoArgs,
	Run:  runOrphans,
}

func init() {
	orphansCmd.Flags().StringSliceVar(&orphanEntryPoints, "entry-point", nil,
		"Module invoked externally, never flagged as orphan (repeatable)")
	rootCmd.AddCommand(orphansCmd)
}

func runOrphans(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	for _, p := range orphanEntryPoints {
		a.analyzer.RecordEntryPoint(p)
	}
	orphans, err := a.analyzer.Orphans()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error analyzing graph: %v\n", err)
		os.Exit(exitError)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(map[string]interface{}{
			"orphans": orphans,
			"count":   len(orphans),
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
		return
	}

	if len(orphans) == 0 {
		fmt.Println("No orphan modules")
		return
	}
	for _, o := range orphans {
		fmt.Println(o)
	}
}
