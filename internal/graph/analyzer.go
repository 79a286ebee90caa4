package graph

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"holodex/internal/config"
	"holodex/internal/logging"
)

// Analyzer owns graph construction and the derived views. Centrality
// and criticality are structurally dependent on the edge set, so they
// are served from the graph built by the latest Build call and never
// cached across builds.
type Analyzer struct {
	scanner *Scanner
	cfg     config.GraphConfig
	logger  *logging.Logger

	mu    sync.RWMutex
	graph *Graph

	// extraEntryPoints are module paths with recorded external
	// invocations, supplied by the caller on top of the structural
	// entry-point heuristics.
	extraEntryPoints map[string]bool
}

// NewAnalyzer creates a dependency graph analyzer
func NewAnalyzer(repoRoot string, indexCfg config.IndexConfig, graphCfg config.GraphConfig, logger *logging.Logger) *Analyzer {
	return &Analyzer{
		scanner:          NewScanner(repoRoot, indexCfg.CodeInclude, indexCfg.CodeExclude, logger),
		cfg:              graphCfg,
		logger:           logger.Component("graph"),
		extraEntryPoints: make(map[string]bool),
	}
}

// RecordEntryPoint marks a module as externally invoked, excluding it
// from orphan reporting.
func (a *Analyzer) RecordEntryPoint(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extraEntryPoints[path] = true
}

// Build scans the tree and replaces the current graph
func (a *Analyzer) Build() (*Graph, error) {
	g, err := a.scanner.Scan()
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.graph = g
	a.mu.Unlock()

	a.logger.Info("Dependency graph built", map[string]interface{}{
		"modules": len(g.Nodes()),
		"edges":   g.EdgeCount(),
	})
	return g, nil
}

// current returns the latest graph, building it on first use
func (a *Analyzer) current() (*Graph, error) {
	a.mu.RLock()
	g := a.graph
	a.mu.RUnlock()
	if g != nil {
		return g, nil
	}
	return a.Build()
}

// Centrality returns in_degree normalized by the graph maximum
func (a *Analyzer) Centrality(path string) (float64, error) {
	g, err := a.current()
	if err != nil {
		return 0, err
	}
	return g.Centrality(path), nil
}

// Criticality returns min(1, in_degree/K)
func (a *Analyzer) Criticality(path string) (float64, error) {
	g, err := a.current()
	if err != nil {
		return 0, err
	}
	return g.Criticality(path, a.cfg.CriticalityK), nil
}

// FoundationalModules returns the configured top fraction by
// (centrality+criticality)/2
func (a *Analyzer) FoundationalModules() ([]string, error) {
	g, err := a.current()
	if err != nil {
		return nil, err
	}
	return g.FoundationalModules(a.cfg.FoundationalFraction, a.cfg.CriticalityK), nil
}

// Modules lists every module in the current graph, sorted
func (a *Analyzer) Modules() ([]string, error) {
	g, err := a.current()
	if err != nil {
		return nil, err
	}
	mods := g.Nodes()
	sort.Strings(mods)
	return mods, nil
}

// Orphans returns modules with no non-test importer and no entry
// point role, sorted for stable output.
func (a *Analyzer) Orphans() ([]string, error) {
	g, err := a.current()
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	extra := make(map[string]bool, len(a.extraEntryPoints))
	for k := range a.extraEntryPoints {
		extra[k] = true
	}
	a.mu.RUnlock()

	flagged := g.Orphans(func(path string) bool {
		return extra[path] || isStructuralEntryPoint(path)
	})

	var out []string
	for path, kind := range flagged {
		if kind == OrphanModule {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// isStructuralEntryPoint recognizes modules invoked from outside the
// import graph: command binaries and language entry files.
func isStructuralEntryPoint(path string) bool {
	slash := filepath.ToSlash(path)
	if strings.HasPrefix(slash, "cmd/") || slash == "cmd" {
		return true
	}
	base := filepath.Base(slash)
	switch base {
	case "main.go", "main.py", "__main__.py", "index.ts", "index.js", "setup.py", "conftest.py":
		return true
	}
	return false
}
