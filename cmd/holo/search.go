package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	holoerr "holodex/internal/errors"
	"holodex/internal/query"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Answer a free-text question about the codebase",
	Long: `Classify a free-text query, run the routed components, and print the
composed answer.

Examples:
  holo search "where is the chat sender implemented"
  holo search "is messaging/sender.go in good shape"
  holo search "research the protocol layer" --format=json`,
	Args: cobra.ExactArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	start := time.Now()
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	res, err := a.engine.Query(newContext(), args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(res.Response)
		if res.BreadcrumbID != "" {
			fmt.Printf("\nquery id: %s (rate with 'holo feedback %s <0..1>')\n", res.BreadcrumbID, res.BreadcrumbID)
		}
	}

	logger.Debug("Search completed", map[string]interface{}{
		"intent":   string(res.Intent),
		"findings": len(res.Findings),
		"duration": time.Since(start).Milliseconds(),
	})

	// An unbuilt index with nothing else to answer from is the one
	// degraded state with its own exit code
	if len(res.Findings) == 0 && res.ComponentErrors[query.CompIndex] == string(holoerr.IndexUnavailable) {
		fmt.Fprintln(os.Stderr, "Index has never been built; run 'holo reindex' first")
		os.Exit(exitIndexMissing)
	}
}
