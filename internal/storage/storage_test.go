package storage

import (
	"os"
	"testing"
	"time"

	holoerr "holodex/internal/errors"
	"holodex/internal/logging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db := Open(t.TempDir(), logging.Nop())
	if !db.Available() {
		t.Fatal("test database should be available")
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBreadcrumbRoundTrip(t *testing.T) {
	db := openTestDB(t)

	bc := &Breadcrumb{
		SessionID:         "session-1",
		QueryText:         "where is the chat sender implemented",
		Intent:            "CODE_LOCATION",
		ComponentsInvoked: []string{"index"},
		ModulesReferenced: []string{"internal/chat/sender.go"},
		ResultSummary:     "[FINDINGS]\ninternal/chat/sender.go Send function",
	}
	id, err := db.AppendBreadcrumb(bc)
	if err != nil {
		t.Fatalf("AppendBreadcrumb: %v", err)
	}
	if id == "" {
		t.Fatal("AppendBreadcrumb returned empty id")
	}

	got, err := db.GetBreadcrumb(id)
	if err != nil {
		t.Fatalf("GetBreadcrumb: %v", err)
	}
	if got.QueryText != bc.QueryText {
		t.Errorf("QueryText = %q, want %q", got.QueryText, bc.QueryText)
	}
	if got.Intent != "CODE_LOCATION" {
		t.Errorf("Intent = %q, want CODE_LOCATION", got.Intent)
	}
	if len(got.ComponentsInvoked) != 1 || got.ComponentsInvoked[0] != "index" {
		t.Errorf("ComponentsInvoked = %v, want [index]", got.ComponentsInvoked)
	}
	if got.ResultSummary != bc.ResultSummary {
		t.Errorf("ResultSummary = %q, want %q", got.ResultSummary, bc.ResultSummary)
	}
	if got.Rating != nil {
		t.Error("Rating should be nil before feedback")
	}
}

func TestAttachRatingLeavesOtherFieldsUnchanged(t *testing.T) {
	db := openTestDB(t)

	bc := &Breadcrumb{
		SessionID:         "s",
		QueryText:         "module health of internal/index",
		Intent:            "MODULE_HEALTH",
		ComponentsInvoked: []string{"health", "graph"},
		ResultSummary:     "overall 0.8",
	}
	id, err := db.AppendBreadcrumb(bc)
	if err != nil {
		t.Fatalf("AppendBreadcrumb: %v", err)
	}

	if err := db.AttachRating(id, 0.9); err != nil {
		t.Fatalf("AttachRating: %v", err)
	}

	got, err := db.GetBreadcrumb(id)
	if err != nil {
		t.Fatalf("GetBreadcrumb: %v", err)
	}
	if got.Rating == nil || *got.Rating != 0.9 {
		t.Errorf("Rating = %v, want 0.9", got.Rating)
	}
	if got.QueryText != bc.QueryText || got.Intent != bc.Intent {
		t.Error("AttachRating must not change other fields")
	}
	if got.ResultSummary != bc.ResultSummary {
		t.Error("AttachRating must not change the result summary")
	}
}

func TestAttachRatingUnknownID(t *testing.T) {
	db := openTestDB(t)
	err := db.AttachRating("no-such-id", 0.5)
	if err == nil {
		t.Fatal("AttachRating on unknown id should fail")
	}
	if !holoerr.IsCode(err, holoerr.QueryInvalid) {
		t.Errorf("error code = %v, want QUERY_INVALID", holoerr.CodeOf(err))
	}
}

func TestUsageForModule(t *testing.T) {
	db := openTestDB(t)

	rated := 0.8
	crumbs := []*Breadcrumb{
		{SessionID: "s", QueryText: "q1", Intent: "GENERAL",
			ComponentsInvoked: []string{"index"},
			ModulesReferenced: []string{"internal/a.go", "internal/b.go"}},
		{SessionID: "s", QueryText: "q2", Intent: "GENERAL",
			ComponentsInvoked: []string{"index"},
			ModulesReferenced: []string{"internal/a.go"}, Rating: &rated},
		{SessionID: "s", QueryText: "q3", Intent: "GENERAL",
			ComponentsInvoked: []string{"index"},
			ModulesReferenced: []string{"internal/c.go"}},
	}
	for _, bc := range crumbs {
		if _, err := db.AppendBreadcrumb(bc); err != nil {
			t.Fatalf("AppendBreadcrumb: %v", err)
		}
	}

	usage, err := db.UsageForModule("internal/a.go")
	if err != nil {
		t.Fatalf("UsageForModule: %v", err)
	}
	if usage.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", usage.QueryCount)
	}
	if usage.RatedCount != 1 {
		t.Errorf("RatedCount = %d, want 1", usage.RatedCount)
	}
	if usage.MeanRating != 0.8 {
		t.Errorf("MeanRating = %g, want 0.8", usage.MeanRating)
	}
}

func TestHealthHistoryOrderAndLimit(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s := &HealthSnapshot{
			ModulePath: "internal/index",
			Structural: 0.5, Maintenance: 0.5, Knowledge: 0.5,
			Dependency: 0.5, Pattern: 0.5,
			Overall:    float64(i) / 10,
			ComputedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.AppendHealthSnapshot(s); err != nil {
			t.Fatalf("AppendHealthSnapshot: %v", err)
		}
	}

	history, err := db.HealthHistory("internal/index", 3)
	if err != nil {
		t.Fatalf("HealthHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	// Newest 3, returned oldest first
	if history[0].Overall != 0.2 || history[2].Overall != 0.4 {
		t.Errorf("history overall = [%g %g %g], want [0.2 0.3 0.4]",
			history[0].Overall, history[1].Overall, history[2].Overall)
	}
}

func TestStaleModules(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC()
	snaps := map[string]time.Time{
		"internal/index": now,
		"internal/graph": now.Add(-48 * time.Hour),
	}
	for module, at := range snaps {
		s := &HealthSnapshot{
			ModulePath: module,
			Structural: 0.5, Maintenance: 0.5, Knowledge: 0.5,
			Dependency: 0.5, Pattern: 0.5,
			Overall:    0.5,
			ComputedAt: at,
		}
		if err := db.AppendHealthSnapshot(s); err != nil {
			t.Fatalf("AppendHealthSnapshot: %v", err)
		}
	}

	stale, err := db.StaleModules([]string{"internal/index", "internal/graph", "internal/query"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("StaleModules: %v", err)
	}
	// Old snapshot and never-scored module, in input order; the
	// fresh module stays out of the batch.
	want := []string{"internal/graph", "internal/query"}
	if len(stale) != len(want) {
		t.Fatalf("StaleModules = %v, want %v", stale, want)
	}
	for i := range want {
		if stale[i] != want[i] {
			t.Errorf("StaleModules[%d] = %q, want %q", i, stale[i], want[i])
		}
	}
}

func TestDecisionAppendAndLatest(t *testing.T) {
	db := openTestDB(t)

	if latest, err := db.LatestDecision(); err != nil || latest != nil {
		t.Fatalf("LatestDecision on empty store = (%v, %v), want (nil, nil)", latest, err)
	}

	d := &DaemonDecision{
		Criteria: map[string]Criterion{
			"index_staleness":  {Passed: false, Value: "age=10m max=6h"},
			"structural_drift": {Passed: false, Value: "fingerprint unchanged"},
		},
		Decision:   "skip",
		Reason:     "no criterion met",
		Confidence: 1.0,
	}
	if err := db.AppendDecision(d); err != nil {
		t.Fatalf("AppendDecision: %v", err)
	}

	latest, err := db.LatestDecision()
	if err != nil {
		t.Fatalf("LatestDecision: %v", err)
	}
	if latest.Decision != "skip" {
		t.Errorf("Decision = %q, want skip", latest.Decision)
	}
	if len(latest.Criteria) != 2 {
		t.Errorf("len(Criteria) = %d, want 2", len(latest.Criteria))
	}
	if latest.Criteria["index_staleness"].Value != "age=10m max=6h" {
		t.Errorf("criterion value = %q", latest.Criteria["index_staleness"].Value)
	}
}

func TestRulesSaveLoadAndChangeLog(t *testing.T) {
	db := openTestDB(t)

	rule := &StoredRule{
		Intent:     "RESEARCH",
		Components: []string{"index", "graph"},
		Version:    2,
	}
	change := &RuleChange{
		Intent:    "RESEARCH",
		Action:    "remove",
		Component: "health",
		Stats:     `{"usefulness":0.21,"samples":12}`,
	}
	if err := db.SaveRule(rule, change); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	rules, err := db.LoadRules()
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	got, ok := rules["RESEARCH"]
	if !ok {
		t.Fatal("RESEARCH rule missing after save")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if len(got.Components) != 2 {
		t.Errorf("Components = %v, want [index graph]", got.Components)
	}

	changes, err := db.RuleChanges(10)
	if err != nil {
		t.Fatalf("RuleChanges: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("len(changes) = %d, want 1", len(changes))
	}
	if changes[0].Action != "remove" || changes[0].Component != "health" {
		t.Errorf("change = %+v, want remove health", changes[0])
	}
}

func TestDegradedStore(t *testing.T) {
	// Point the store at a path that cannot be a directory
	dir := t.TempDir()
	blocker := dir + "/.holo"
	if err := os.WriteFile(blocker, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	db := Open(dir, logging.Nop())
	if db.Available() {
		t.Fatal("store should be degraded when .holo cannot be created")
	}

	if _, err := db.AppendBreadcrumb(&Breadcrumb{SessionID: "s", QueryText: "q", Intent: "GENERAL"}); err == nil {
		t.Error("AppendBreadcrumb on degraded store should fail")
	} else if !holoerr.IsCode(err, holoerr.StoreUnavailable) {
		t.Errorf("error code = %v, want STORE_UNAVAILABLE", holoerr.CodeOf(err))
	}
	if _, err := db.LoadRules(); !holoerr.IsCode(err, holoerr.StoreUnavailable) {
		t.Errorf("LoadRules error code = %v, want STORE_UNAVAILABLE", holoerr.CodeOf(err))
	}
}
