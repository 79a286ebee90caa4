package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"holodex/internal/config"
	"holodex/internal/graph"
	"holodex/internal/health"
	"holodex/internal/index"
	"holodex/internal/intent"
	"holodex/internal/logging"
	"holodex/internal/query"
	"holodex/internal/storage"
)

func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"messaging/sender.go": "package messaging\n\nfunc Send(body string) error {\n\treturn nil\n}\n",
		"cmd/app/main.go":     "package main\n\nimport \"example.com/app/messaging\"\n\nfunc main() {\n\t_ = messaging.Send(\"hi\")\n}\n",
		"docs/protocol.md":    "# Protocol\n\nFrames are length-prefixed.\n",
		"go.mod":              "module example.com/app\n",
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type env struct {
	dir     string
	cfg     *config.Config
	db      *storage.DB
	idx     *index.Index
	routing *query.RoutingTable
	daemon  *Daemon
}

func testDaemon(t *testing.T) *env {
	t.Helper()
	dir := testRepo(t)
	cfg := config.DefaultConfig()

	db := storage.Open(dir, logging.Nop())
	t.Cleanup(func() { db.Close() })

	idx, err := index.New(db.Conn(), logging.Nop())
	if err != nil {
		t.Fatalf("index.New() error = %v", err)
	}
	idx.RegisterScanner(index.CodeCorpus, index.NewCodeScanner(dir, cfg.Index, logging.Nop()))
	idx.RegisterScanner(index.DocsCorpus, index.NewDocScanner(dir, cfg.Index, logging.Nop()))

	analyzer := graph.NewAnalyzer(dir, cfg.Index, cfg.Graph, logging.Nop())
	scorer := health.NewScorer(dir, cfg.Health, db, nil, analyzer, logging.Nop())
	routing := query.NewRoutingTable(db, logging.Nop())

	d := New(cfg, idx, scorer, analyzer, routing, db, logging.Nop())
	return &env{dir: dir, cfg: cfg, db: db, idx: idx, routing: routing, daemon: d}
}

func decisions(t *testing.T, db *storage.DB) []*storage.DaemonDecision {
	t.Helper()
	ds, err := db.RecentDecisions(50)
	if err != nil {
		t.Fatalf("RecentDecisions() error = %v", err)
	}
	return ds
}

func TestFirstTickReindexesNeverBuiltIndex(t *testing.T) {
	e := testDaemon(t)
	e.daemon.Tick(context.Background())

	ds := decisions(t, e.db)
	if len(ds) != 1 {
		t.Fatalf("decisions = %d, want 1", len(ds))
	}
	if ds[0].Decision != DecisionReindex {
		t.Fatalf("decision = %s, want reindex", ds[0].Decision)
	}
	crit, ok := ds[0].Criteria["index_stale"]
	if !ok || !crit.Passed {
		t.Errorf("index_stale criterion = %+v, want passed", crit)
	}

	// The reindex actually ran
	if _, err := e.idx.Age(index.CodeCorpus); err != nil {
		t.Errorf("code corpus still unbuilt after tick: %v", err)
	}
	if n, err := e.idx.Count(index.CodeCorpus); err != nil || n == 0 {
		t.Errorf("code corpus count = %d (%v), want > 0", n, err)
	}
}

func TestTickSequenceReindexRescoreSkip(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()

	e.daemon.Tick(ctx) // reindex: never built
	e.daemon.Tick(ctx) // rescore: modules never scored
	e.daemon.Tick(ctx) // skip: everything fresh

	ds := decisions(t, e.db)
	if len(ds) != 3 {
		t.Fatalf("decisions = %d, want 3", len(ds))
	}
	// RecentDecisions returns newest first
	want := []string{DecisionSkip, DecisionRescore, DecisionReindex}
	for i, w := range want {
		if ds[i].Decision != w {
			t.Errorf("decision[%d] = %s, want %s", i, ds[i].Decision, w)
		}
	}

	// The rescore left snapshots behind
	snap, err := e.db.LatestHealthSnapshot("messaging")
	if err != nil {
		t.Fatalf("LatestHealthSnapshot() error = %v", err)
	}
	if snap == nil {
		t.Error("no snapshot for messaging after rescore tick")
	}
}

func TestRescoreTouchesOnlyStaleModules(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()

	e.daemon.Tick(ctx) // reindex: never built

	seed := func(module string, at time.Time) {
		t.Helper()
		err := e.db.AppendHealthSnapshot(&storage.HealthSnapshot{
			ModulePath: module,
			Structural: 0.5, Maintenance: 0.5, Knowledge: 0.5,
			Dependency: 0.5, Pattern: 0.5,
			Overall:    0.5,
			ComputedAt: at,
		})
		if err != nil {
			t.Fatalf("AppendHealthSnapshot(%s): %v", module, err)
		}
	}
	now := time.Now().UTC()
	seed("messaging", now)
	seed("cmd/app", now.Add(-e.cfg.Health.SnapshotMaxAge-time.Hour))

	e.daemon.Tick(ctx) // rescore: only cmd/app is stale

	ds := decisions(t, e.db)
	if ds[0].Decision != DecisionRescore {
		t.Fatalf("decision = %s, want %s", ds[0].Decision, DecisionRescore)
	}

	freshHist, err := e.db.HealthHistory("messaging", 10)
	if err != nil {
		t.Fatalf("HealthHistory(messaging): %v", err)
	}
	if len(freshHist) != 1 {
		t.Errorf("messaging snapshots = %d, want 1; fresh module was rescored", len(freshHist))
	}
	staleHist, err := e.db.HealthHistory("cmd/app", 10)
	if err != nil {
		t.Fatalf("HealthHistory(cmd/app): %v", err)
	}
	if len(staleHist) != 2 {
		t.Errorf("cmd/app snapshots = %d, want 2 (seed plus rescore)", len(staleHist))
	}
}

func TestEveryTickRecordsExactlyOneDecision(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		e.daemon.Tick(ctx)
	}
	if ds := decisions(t, e.db); len(ds) != 5 {
		t.Errorf("decisions = %d, want 5", len(ds))
	}
}

func TestStructuralDriftTriggersReindex(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()

	e.daemon.Tick(ctx) // build
	e.daemon.Tick(ctx) // rescore

	// New file changes the corpus fingerprint
	path := filepath.Join(e.dir, "messaging", "receiver.go")
	content := "package messaging\n\nfunc Receive() string {\n\treturn \"\"\n}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	e.daemon.Tick(ctx)
	ds := decisions(t, e.db)
	if ds[0].Decision != DecisionReindex {
		t.Fatalf("decision = %s, want reindex on drift", ds[0].Decision)
	}
	crit := ds[0].Criteria["structural_drift"]
	if !crit.Passed {
		t.Errorf("structural_drift criterion = %+v, want passed", crit)
	}
}

func TestRoutingChangeAudited(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()

	e.daemon.Tick(ctx) // reindex
	e.daemon.Tick(ctx) // rescore

	if _, err := e.routing.Remove(intent.Research, query.CompGraph, "{}"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	e.daemon.Tick(ctx)
	ds := decisions(t, e.db)
	if ds[0].Decision != DecisionAdjustRouting {
		t.Fatalf("decision = %s, want adjust_routing", ds[0].Decision)
	}

	// Once observed, the next tick settles back to skip
	e.daemon.Tick(ctx)
	ds = decisions(t, e.db)
	if ds[0].Decision != DecisionSkip {
		t.Errorf("decision = %s, want skip after routing observed", ds[0].Decision)
	}
}

func TestSkipDecisionCarriesAllCriteria(t *testing.T) {
	e := testDaemon(t)
	ctx := context.Background()
	e.daemon.Tick(ctx)
	e.daemon.Tick(ctx)
	e.daemon.Tick(ctx)

	ds := decisions(t, e.db)
	skip := ds[0]
	if skip.Decision != DecisionSkip {
		t.Fatalf("decision = %s, want skip", skip.Decision)
	}
	for _, name := range []string{"index_stale", "structural_drift", "health_stale", "routing_changed"} {
		crit, ok := skip.Criteria[name]
		if !ok {
			t.Errorf("skip decision missing criterion %s", name)
			continue
		}
		if crit.Passed {
			t.Errorf("criterion %s passed on a skip tick", name)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	e := testDaemon(t)
	e.cfg.Daemon.TickInterval = 10 * time.Millisecond

	d := New(e.cfg, e.idx, nil, nil, e.routing, e.db, logging.Nop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	time.Sleep(50 * time.Millisecond)
	d.Stop()

	st := d.Status()
	if st.Running {
		t.Error("Status().Running = true after Stop")
	}
	if st.Ticks == 0 {
		t.Error("Status().Ticks = 0, want at least one")
	}
	if st.LastDecision == nil {
		t.Error("Status().LastDecision = nil after ticks")
	}

	// Stop is idempotent
	d.Stop()
}
