package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <query-id> <rating>",
	Short: "Rate a past query's usefulness",
	Long: `Attach a usefulness rating in [0,1] to a past query. Ratings feed the
routing learner: pairings that stay unhelpful across enough samples get
dropped from routing, consistently helpful ones get promoted.

Examples:
  holo feedback 7f3aa0c2-... 0.9`,
	Args: cobra.ExactArgs(2),
	Run:  runFeedback,
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	rating, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: rating %q is not a number\n", args[1])
		os.Exit(exitError)
	}

	if err := a.engine.RecordFeedback(args[0], rating); err != nil {
		fmt.Fprintf(os.Stderr, "Error recording feedback: %v\n", err)
		os.Exit(exitError)
	}
	fmt.Printf("rated %s at %.2f\n", args[0], rating)
}
