package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"holodex/internal/index"
)

var reindexCorpus string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the similarity index",
	Long: `Rebuild the code and docs corpora from the current file tree. The swap
is atomic: searches see the old index until the rebuild commits.

Examples:
  holo reindex
  holo reindex --corpus=docs`,
	Args: cobra.NoArgs,
	Run:  runReindex,
}

func init() {
	reindexCmd.Flags().StringVar(&reindexCorpus, "corpus", "", "Rebuild one corpus only (code, docs)")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	if a.idx == nil {
		fmt.Fprintln(os.Stderr, "Error: storage is unavailable, cannot build an index")
		os.Exit(exitError)
	}

	corpora := []index.Corpus{index.CodeCorpus, index.DocsCorpus}
	switch reindexCorpus {
	case "":
	case "code":
		corpora = []index.Corpus{index.CodeCorpus}
	case "docs":
		corpora = []index.Corpus{index.DocsCorpus}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown corpus %q (want code or docs)\n", reindexCorpus)
		os.Exit(exitError)
	}

	ctx := newContext()
	for _, corpus := range corpora {
		start := time.Now()
		if err := a.idx.Rebuild(ctx, corpus); err != nil {
			fmt.Fprintf(os.Stderr, "Error rebuilding %s corpus: %v\n", corpus, err)
			os.Exit(exitError)
		}
		n, _ := a.idx.Count(corpus)
		fmt.Printf("%s corpus rebuilt: %d entries in %s\n", corpus, n, time.Since(start).Truncate(time.Millisecond))
	}
}
