package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background maintenance loop",
	Long: `The daemon periodically checks index freshness, structural drift, and
health snapshot age, acting on the first criterion that fails and recording
every decision, skips included.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon in the foreground",
	Args:  cobra.NoArgs,
	Run:   runDaemonStart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last daemon decision",
	Args:  cobra.NoArgs,
	Run:   runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	ctx := newContext()
	if err := a.daemon.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting daemon: %v\n", err)
		os.Exit(exitError)
	}
	fmt.Printf("daemon running (tick every %s), Ctrl-C to stop\n", a.cfg.Daemon.TickInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	a.daemon.Stop()
}

func runDaemonStatus(cmd *cobra.Command, args []string) {
	logger := newLogger(formatFlag)
	a := mustGetApp(logger)

	// A foreground daemon in another process records its decisions in
	// the shared store; report from there.
	last, err := a.db.LatestDecision()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading decisions: %v\n", err)
		os.Exit(exitError)
	}

	if formatFlag == "json" {
		out, err := json.MarshalIndent(last, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(exitError)
		}
		fmt.Println(string(out))
		return
	}

	if last == nil {
		fmt.Println("No daemon decisions recorded yet")
		return
	}
	fmt.Printf("last tick: %s\n", last.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("decision:  %s (%s)\n", last.Decision, last.Reason)
	for name, crit := range last.Criteria {
		fmt.Printf("  %-18s passed=%v %s\n", name, crit.Passed, crit.Value)
	}
}
