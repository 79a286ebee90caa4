package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"holodex/internal/config"
	"holodex/internal/daemon"
	"holodex/internal/graph"
	"holodex/internal/health"
	"holodex/internal/index"
	"holodex/internal/learning"
	"holodex/internal/logging"
	"holodex/internal/query"
	"holodex/internal/storage"
	"holodex/internal/vcs"
)

// exit codes
const (
	exitOK           = 0
	exitError        = 1
	exitIndexMissing = 2
)

// app is the fully wired component set shared by all commands
type app struct {
	repoRoot string
	cfg      *config.Config
	logger   *logging.Logger
	db       *storage.DB
	idx      *index.Index
	analyzer *graph.Analyzer
	scorer   *health.Scorer
	routing  *query.RoutingTable
	engine   *query.Engine
	learner  *learning.Learner
	daemon   *daemon.Daemon
}

var (
	appOnce   sync.Once
	sharedApp *app
	appErr    error
)

// getApp lazily wires the full component set on first use
func getApp(logger *logging.Logger) (*app, error) {
	appOnce.Do(func() {
		repoRoot, err := os.Getwd()
		if err != nil {
			appErr = fmt.Errorf("resolving repository root: %w", err)
			return
		}

		cfg, err := config.LoadConfig(repoRoot)
		if err != nil {
			logger.Warn("Failed to load config, using defaults", map[string]interface{}{
				"error": err.Error(),
			})
			cfg = config.DefaultConfig()
		}

		db := storage.Open(repoRoot, logger)

		var idx *index.Index
		if db.Available() {
			idx, err = index.New(db.Conn(), logger)
			if err != nil {
				appErr = fmt.Errorf("initializing index: %w", err)
				return
			}
			idx.RegisterScanner(index.CodeCorpus, index.NewCodeScanner(repoRoot, cfg.Index, logger))
			idx.RegisterScanner(index.DocsCorpus, index.NewDocScanner(repoRoot, cfg.Index, logger))
		}

		analyzer := graph.NewAnalyzer(repoRoot, cfg.Index, cfg.Graph, logger)
		history, err := vcs.Open(repoRoot, logger)
		if err != nil {
			// No repository history just drops the maintenance signal
			history = nil
		}
		scorer := health.NewScorer(repoRoot, cfg.Health, db, history, analyzer, logger)
		routing := query.NewRoutingTable(db, logger)

		engine := query.NewEngine(cfg.Routing, cfg.Intent, cfg.Advisor, routing, idx, scorer, analyzer, db, logger)
		learner := learning.NewLearner(cfg.Routing, routing, logger)
		engine.SetObserver(learner)

		sharedApp = &app{
			repoRoot: repoRoot,
			cfg:      cfg,
			logger:   logger,
			db:       db,
			idx:      idx,
			analyzer: analyzer,
			scorer:   scorer,
			routing:  routing,
			engine:   engine,
			learner:  learner,
			daemon:   daemon.New(cfg, idx, scorer, analyzer, routing, db, logger),
		}
	})
	return sharedApp, appErr
}

// mustGetApp returns the wired application or exits
func mustGetApp(logger *logging.Logger) *app {
	a, err := getApp(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	return a
}

// newContext creates the context for one command execution
func newContext() context.Context {
	return context.Background()
}

// newLogger creates a logger matching the output format flag
func newLogger(format string) *logging.Logger {
	logFormat := logging.HumanFormat
	if format == "json" {
		logFormat = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: logFormat,
		Level:  logging.InfoLevel,
	})
}
