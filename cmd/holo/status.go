package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"holodex/internal/index"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show overall system status",
	Long:  "Report store availability, per-corpus index freshness, routing rule version, and the last daemon decision.",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type corpusStatus struct {
	Built   bool   `json:"built"`
	Entries int    `json:"entries"`
	Age     string `json:"age,omitempty"`
}

type systemStatus struct {
	StoreAvailable bool                    `json:"storeAvailable"`
	Corpora        map[string]corpusStatus `json:"corpora"`
	RuleVersion    int64                   `json:"ruleVersion"`
	LastDecision   string                  `json:"lastDecision,omitempty"`
	LastTickAt     string                  `json:"lastTickAt,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	st := systemStatus{
		StoreAvailable: a.db.Available(),
		Corpora:        make(map[string]corpusStatus),
		RuleVersion:    a.routing.Snapshot().Version,
	}

	if a.idx != nil {
		for _, corpus := range []index.Corpus{index.CodeCorpus, index.DocsCorpus} {
			cs := corpusStatus{}
			if age, err := a.idx.Age(corpus); err == nil {
				cs.Built = true
				cs.Age = age.Truncate(time.Second).String()
				cs.Entries, _ = a.idx.Count(corpus)
			}
			st.Corpora[string(corpus)] = cs
		}
	}

	if last, err := a.db.LatestDecision(); err == nil && last != nil {
		st.LastDecision = last.Decision
		st.LastTickAt = last.Timestamp.Local().Format(time.RFC3339)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("store:   available=%v\n", st.StoreAvailable)
	for name, cs := range st.Corpora {
		if cs.Built {
			fmt.Printf("index:   %s built, %d entries, age %s\n", name, cs.Entries, cs.Age)
		} else {
			fmt.Printf("index:   %s never built (run 'holo reindex')\n", name)
		}
	}
	fmt.Printf("routing: version %d\n", st.RuleVersion)
	if st.LastDecision != "" {
		fmt.Printf("daemon:  last decision %s at %s\n", st.LastDecision, st.LastTickAt)
	} else {
		fmt.Println("daemon:  no decisions recorded")
	}
}
