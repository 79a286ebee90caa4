package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var recentLimit int

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent queries and their ratings",
	Long: `List the most recent recorded queries, newest first, with the
components each one invoked and any feedback rating attached. Use the
printed ids with 'holo feedback' to rate a past answer.`,
	Args: cobra.NoArgs,
	Run:  runRecent,
}

func init() {
	recentCmd.Flags().IntVar(&recentLimit, "limit", 10, "Maximum number of queries to list")
	rootCmd.AddCommand(recentCmd)
}

func runRecent(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	crumbs, err := a.db.RecentBreadcrumbs(recentLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading query history: %v\n", err)
		os.Exit(exitError)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(map[string]interface{}{
			"queries": crumbs,
			"count":   len(crumbs),
		}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
		return
	}

	if len(crumbs) == 0 {
		fmt.Println("No recorded queries")
		return
	}
	for _, bc := range crumbs {
		rating := "unrated"
		if bc.Rating != nil {
			rating = fmt.Sprintf("%.2f", *bc.Rating)
		}
		fmt.Printf("%s  %s  [%s via %s]  rating %s\n  %s\n",
			bc.Timestamp.Local().Format("2006-01-02 15:04"), bc.ID,
			bc.Intent, strings.Join(bc.ComponentsInvoked, ","), rating,
			bc.QueryText)
	}
}
