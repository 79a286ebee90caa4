// Package graph builds the reverse-import dependency graph and
// derives centrality, criticality, foundational modules and orphans
// from observed fan-in.
package graph

import (
	"math"
	"sort"
)

// Edge is one directed import: importer depends on imported.
type Edge struct {
	Importer string
	Imported string
	// TestOnly marks edges whose importer is a test file. Such edges
	// count for reachability but not for orphan reporting.
	TestOnly bool
}

// Graph is an explicit edge list over arena-style integer node ids.
// Cycles are just edges; nothing here is a tree of live references.
type Graph struct {
	ids   map[string]int
	paths []string
	edges []edge

	inDegree     []int // non-test fan-in per node
	testInDegree []int // fan-in from test files only
	maxInDegree  int
}

type edge struct {
	from, to int
	testOnly bool
}

// New creates an empty graph
func New() *Graph {
	return &Graph{ids: make(map[string]int)}
}

// AddNode interns a module path and returns its id. Idempotent.
func (g *Graph) AddNode(path string) int {
	if id, ok := g.ids[path]; ok {
		return id
	}
	id := len(g.paths)
	g.ids[path] = id
	g.paths = append(g.paths, path)
	g.inDegree = append(g.inDegree, 0)
	g.testInDegree = append(g.testInDegree, 0)
	return id
}

// AddEdge records one import edge and updates the derived degree
// counters. Self-imports are ignored.
func (g *Graph) AddEdge(e Edge) {
	if e.Importer == e.Imported {
		return
	}
	from := g.AddNode(e.Importer)
	to := g.AddNode(e.Imported)
	g.edges = append(g.edges, edge{from: from, to: to, testOnly: e.TestOnly})
	if e.TestOnly {
		g.testInDegree[to]++
		return
	}
	g.inDegree[to]++
	if g.inDegree[to] > g.maxInDegree {
		g.maxInDegree = g.inDegree[to]
	}
}

// Nodes returns all module paths in the graph
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.paths))
	copy(out, g.paths)
	return out
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// InDegree returns the non-test fan-in of a module. Unknown modules
// have fan-in zero.
func (g *Graph) InDegree(path string) int {
	id, ok := g.ids[path]
	if !ok {
		return 0
	}
	return g.inDegree[id]
}

// Centrality is in_degree normalized by the maximum in-degree over
// the current graph, in [0,1]. Recomputed from the live degree
// counters on every call; adding an edge is immediately visible.
func (g *Graph) Centrality(path string) float64 {
	if g.maxInDegree == 0 {
		return 0
	}
	return float64(g.InDegree(path)) / float64(g.maxInDegree)
}

// Criticality is min(1, in_degree/K): K dependents means a failure is
// system-wide.
func (g *Graph) Criticality(path string, k int) float64 {
	if k <= 0 {
		return 0
	}
	return math.Min(1, float64(g.InDegree(path))/float64(k))
}

// FoundationalModules returns the top fraction of modules ranked by
// (centrality+criticality)/2. Infrastructure is inferred from fan-in,
// never declared.
func (g *Graph) FoundationalModules(topFraction float64, k int) []string {
	if len(g.paths) == 0 || topFraction <= 0 {
		return nil
	}

	type ranked struct {
		path  string
		score float64
	}
	all := make([]ranked, 0, len(g.paths))
	for _, path := range g.paths {
		score := (g.Centrality(path) + g.Criticality(path, k)) / 2
		all = append(all, ranked{path: path, score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].path < all[j].path
	})

	n := int(math.Ceil(float64(len(all)) * topFraction))
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, 0, n)
	for _, r := range all[:n] {
		out = append(out, r.path)
	}
	return out
}

// OrphanKind classifies unreferenced modules
type OrphanKind string

const (
	// OrphanModule has no importer at all and is not an entry point
	OrphanModule OrphanKind = "orphan"
	// TestOnlyModule is imported only from test files
	TestOnlyModule OrphanKind = "test-only"
)

// Orphans returns modules with no non-test importer that are not
// entry points. Modules imported only by tests are reported as
// test-only, never as orphans.
func (g *Graph) Orphans(isEntryPoint func(path string) bool) map[string]OrphanKind {
	out := make(map[string]OrphanKind)
	for id, path := range g.paths {
		if g.inDegree[id] > 0 {
			continue
		}
		if isEntryPoint != nil && isEntryPoint(path) {
			continue
		}
		if g.testInDegree[id] > 0 {
			out[path] = TestOnlyModule
			continue
		}
		out[path] = OrphanModule
	}
	return out
}
