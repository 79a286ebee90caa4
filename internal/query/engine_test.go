package query

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"holodex/internal/config"
	"holodex/internal/graph"
	"holodex/internal/health"
	"holodex/internal/index"
	"holodex/internal/intent"
	"holodex/internal/logging"
	"holodex/internal/storage"
)

// testRepo lays down a small multi-package repository: a chat sender
// used by a command entry point, plus one doc.
func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"messaging/sender.go": "package messaging\n\n// SendChatMessage delivers one chat message to a peer\nfunc SendChatMessage(peer, body string) error {\n\treturn nil\n}\n",
		"messaging/codec.go":  "package messaging\n\nfunc encodeFrame(body string) []byte {\n\treturn []byte(body)\n}\n",
		"cmd/app/main.go":     "package main\n\nimport \"example.com/app/messaging\"\n\nfunc main() {\n\t_ = messaging.SendChatMessage(\"peer\", \"hi\")\n}\n",
		"docs/protocol.md":    "# Chat Protocol\n\nMessages are framed as length-prefixed UTF-8.\n",
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

func testEngine(t *testing.T) (*Engine, *storage.DB) {
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
	for _, corpus := range []index.Corpus{index.CodeCorpus, index.DocsCorpus} {
		if err := idx.Rebuild(context.Background(), corpus); err != nil {
			t.Fatalf("Rebuild(%s) error = %v", corpus, err)
		}
	}

	analyzer := graph.NewAnalyzer(dir, cfg.Index, cfg.Graph, logging.Nop())
	scorer := health.NewScorer(dir, cfg.Health, db, nil, analyzer, logging.Nop())
	routing := NewRoutingTable(db, logging.Nop())

	eng := NewEngine(cfg.Routing, cfg.Intent, cfg.Advisor, routing, idx, scorer, analyzer, db, logging.Nop())
	return eng, db
}

func TestQueryCodeLocation(t *testing.T) {
	eng, _ := testEngine(t)

	res, err := eng.Query(context.Background(), "where is the chat sender implemented")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Intent != intent.CodeLocation {
		t.Fatalf("intent = %s, want CODE_LOCATION", res.Intent)
	}
	if len(res.Components) != 1 || res.Components[0] != CompIndex {
		t.Errorf("components = %v, want [index]", res.Components)
	}
	if !strings.Contains(res.Response, "messaging/sender.go") {
		t.Errorf("response does not name the sender file:\n%s", res.Response)
	}

	// Narrow intent: content lines capped, sections in order
	content := 0
	for _, line := range strings.Split(res.Response, "\n") {
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		content++
	}
	if content > 5 {
		t.Errorf("content lines = %d, want <= 5", content)
	}
	if i, f := strings.Index(res.Response, sectionIntent), strings.Index(res.Response, sectionFindings); i < 0 || f < 0 || i > f {
		t.Errorf("section order wrong:\n%s", res.Response)
	}
}

func TestQueryDocLookup(t *testing.T) {
	eng, _ := testEngine(t)

	res, err := eng.Query(context.Background(), "what does the chat protocol documentation say about framing")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Intent != intent.DocLookup {
		t.Fatalf("intent = %s, want DOC_LOOKUP", res.Intent)
	}
	if !strings.Contains(res.Response, "protocol.md") {
		t.Errorf("response does not surface the doc:\n%s", res.Response)
	}
}

func TestQueryRecordsBreadcrumb(t *testing.T) {
	eng, db := testEngine(t)

	res, err := eng.Query(context.Background(), "where is the chat sender implemented")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.BreadcrumbID == "" {
		t.Fatal("no breadcrumb recorded")
	}

	bc, err := db.GetBreadcrumb(res.BreadcrumbID)
	if err != nil {
		t.Fatalf("GetBreadcrumb() error = %v", err)
	}
	if bc.Intent != string(intent.CodeLocation) {
		t.Errorf("breadcrumb intent = %s, want CODE_LOCATION", bc.Intent)
	}
	if len(bc.ComponentsInvoked) != 1 || bc.ComponentsInvoked[0] != "index" {
		t.Errorf("componentsInvoked = %v, want [index]", bc.ComponentsInvoked)
	}
	if bc.Rating != nil {
		t.Error("fresh breadcrumb has a rating")
	}
}

func TestQueryEmptyTextRejected(t *testing.T) {
	eng, _ := testEngine(t)
	if _, err := eng.Query(context.Background(), "   "); err == nil {
		t.Fatal("Query() with blank text should fail")
	}
}

func TestComponentFailureIsolated(t *testing.T) {
	dir := testRepo(t)
	cfg := config.DefaultConfig()
	db := storage.Open(dir, logging.Nop())
	defer db.Close()

	// No index attached: the routed index component must degrade to
	// an alert, not fail the query.
	routing := NewRoutingTable(db, logging.Nop())
	analyzer := graph.NewAnalyzer(dir, cfg.Index, cfg.Graph, logging.Nop())
	scorer := health.NewScorer(dir, cfg.Health, db, nil, analyzer, logging.Nop())
	eng := NewEngine(cfg.Routing, cfg.Intent, cfg.Advisor, routing, nil, scorer, analyzer, db, logging.Nop())

	res, err := eng.Query(context.Background(), "research the overall architecture of this system")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	found := false
	for _, a := range res.Alerts {
		if strings.Contains(a, "index unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want index unavailable entry", res.Alerts)
	}
}

func TestDegradedStoreSurfacesInAlertsNotLogs(t *testing.T) {
	dir := testRepo(t)
	cfg := config.DefaultConfig()

	// Block the state directory so the store opens degraded
	if err := os.WriteFile(filepath.Join(dir, ".holo"), []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	db := storage.Open(dir, logging.Nop())
	defer db.Close()
	if db.Available() {
		t.Fatal("store should be degraded")
	}

	var logs bytes.Buffer
	logger := logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.WarnLevel,
		Output: &logs,
	})
	routing := NewRoutingTable(db, logging.Nop())
	eng := NewEngine(cfg.Routing, cfg.Intent, cfg.Advisor, routing, nil, nil, nil, db, logger)

	var res *Result
	for i := 0; i < 5; i++ {
		var err error
		res, err = eng.Query(context.Background(), "where is the message sender defined")
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
	}

	found := false
	for _, a := range res.Alerts {
		if strings.Contains(a, "history store unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want history store unavailable entry", res.Alerts)
	}
	if !strings.Contains(res.Response, "history store unavailable") {
		t.Errorf("response missing store alert:\n%s", res.Response)
	}
	// The missed breadcrumb is logged at debug, so repeated queries
	// must not emit a warning per request.
	if strings.Contains(logs.String(), "Breadcrumb not recorded") {
		t.Errorf("breadcrumb warnings flooded the log:\n%s", logs.String())
	}
}

func TestRecordFeedback(t *testing.T) {
	eng, db := testEngine(t)

	res, err := eng.Query(context.Background(), "where is the chat sender implemented")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if err := eng.RecordFeedback(res.BreadcrumbID, 1.2); err == nil {
		t.Error("rating above 1 should be rejected")
	}
	if err := eng.RecordFeedback(res.BreadcrumbID, 0.9); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	bc, err := db.GetBreadcrumb(res.BreadcrumbID)
	if err != nil {
		t.Fatalf("GetBreadcrumb() error = %v", err)
	}
	if bc.Rating == nil || *bc.Rating != 0.9 {
		t.Errorf("rating = %v, want 0.9", bc.Rating)
	}
}

type captureObserver struct {
	in         intent.Intent
	components []string
	rating     float64
	calls      int
}

func (o *captureObserver) Observe(in intent.Intent, components []string, rating float64) error {
	o.in = in
	o.components = components
	o.rating = rating
	o.calls++
	return nil
}

func TestFeedbackForwardedToObserver(t *testing.T) {
	eng, _ := testEngine(t)
	obs := &captureObserver{}
	eng.SetObserver(obs)

	res, err := eng.Query(context.Background(), "where is the chat sender implemented")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if err := eng.RecordFeedback(res.BreadcrumbID, 0.2); err != nil {
		t.Fatalf("RecordFeedback() error = %v", err)
	}

	if obs.calls != 1 {
		t.Fatalf("observer calls = %d, want 1", obs.calls)
	}
	if obs.in != intent.CodeLocation {
		t.Errorf("observer intent = %s, want CODE_LOCATION", obs.in)
	}
	if obs.rating != 0.2 {
		t.Errorf("observer rating = %v, want 0.2", obs.rating)
	}
}

func TestModulesInQuery(t *testing.T) {
	mods := modulesInQuery("is messaging/sender.go in good shape?")
	if len(mods) != 1 || mods[0] != "messaging/sender.go" {
		t.Errorf("modulesInQuery() = %v, want [messaging/sender.go]", mods)
	}
	if mods := modulesInQuery("how healthy is this repo"); len(mods) != 0 {
		t.Errorf("modulesInQuery() = %v, want none", mods)
	}
}
