package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"holodex/internal/advisor"
	"holodex/internal/compression"
	"holodex/internal/config"
	holoerr "holodex/internal/errors"
	"holodex/internal/graph"
	"holodex/internal/health"
	"holodex/internal/index"
	"holodex/internal/intent"
	"holodex/internal/logging"
	"holodex/internal/storage"
)

// query lifecycle stages, logged at debug level as the engine moves
// a request through
const (
	stageReceived   = "RECEIVED"
	stageClassified = "CLASSIFIED"
	stageRouted     = "ROUTED"
	stageExecuting  = "EXECUTING"
	stageComposing  = "COMPOSING"
	stageLogged     = "LOGGED"
)

const (
	searchLimit        = 10
	generalSearchLimit = 5 // GENERAL reads both corpora, so each gets half the budget
	maxHealthTargets   = 3
	maxOrphanAlerts    = 5
	maxFoundationLines = 5
)

// Result carries everything one query produced, before and after
// composition
type Result struct {
	BreadcrumbID string        `json:"breadcrumbId"`
	Intent       intent.Intent `json:"intent"`
	Confidence   float64       `json:"confidence"`
	Components   []Component   `json:"components"`
	RuleVersion  int64         `json:"ruleVersion"`
	Findings     []string      `json:"findings"`
	Alerts       []string      `json:"alerts"`
	Actions      []string      `json:"actions"`
	Modules      []string      `json:"modules"`
	Response     string        `json:"response"`
	// ComponentErrors maps a failed component to its error code so
	// callers can distinguish degraded results from empty ones
	ComponentErrors map[Component]string `json:"componentErrors,omitempty"`
}

// FeedbackObserver receives rated queries. The learner implements
// this; the engine stays ignorant of learning policy.
type FeedbackObserver interface {
	Observe(in intent.Intent, components []string, rating float64) error
}

// slot is one component's private output; components never touch
// each other's slots
type slot struct {
	findings []string
	alerts   []string
	modules  []string
}

// Engine orchestrates one query end to end: classify, route,
// execute components in parallel, compose, and record a breadcrumb.
// A failing component degrades its section; it never fails the
// query.
type Engine struct {
	cfg        config.RoutingConfig
	advisorCfg config.AdvisorConfig
	classifier *intent.Classifier
	routing    *RoutingTable
	idx        *index.Index
	scorer     *health.Scorer
	analyzer   *graph.Analyzer
	store      *storage.DB
	adv        advisor.Advisor
	observer   FeedbackObserver
	logger     *logging.Logger
	composer   *composer
	sessionID  string
}

// NewEngine wires the orchestrator. Any of idx, scorer, analyzer may
// be nil in tests; a routed component that is nil reports itself in
// the alerts section instead of failing the query.
func NewEngine(cfg config.RoutingConfig, intentCfg config.IntentConfig, advisorCfg config.AdvisorConfig, routing *RoutingTable, idx *index.Index, scorer *health.Scorer, analyzer *graph.Analyzer, store *storage.DB, logger *logging.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		advisorCfg: advisorCfg,
		classifier: intent.NewClassifier(intentCfg.ConfidenceThreshold),
		routing:    routing,
		idx:        idx,
		scorer:     scorer,
		analyzer:   analyzer,
		store:      store,
		logger:     logger.Component("query"),
		composer:   &composer{lineCap: cfg.NarrowLineCap},
		sessionID:  uuid.NewString(),
	}
}

// SetAdvisor installs an external advisor. Without one, next-action
// suggestions come from the built-in templates.
func (e *Engine) SetAdvisor(a advisor.Advisor) { e.adv = a }

// SetObserver installs the feedback observer
func (e *Engine) SetObserver(o FeedbackObserver) { e.observer = o }

// Query runs one query through the full lifecycle and returns the
// composed result
func (e *Engine) Query(ctx context.Context, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, holoerr.New(holoerr.QueryInvalid, "query text is empty", nil)
	}
	e.stage(stageReceived, text, nil)

	in, confidence := e.classifier.Classify(text)
	e.stage(stageClassified, text, map[string]interface{}{
		"intent":     string(in),
		"confidence": confidence,
	})

	rules := e.routing.Snapshot()
	comps := rules.components(in)
	e.stage(stageRouted, text, map[string]interface{}{
		"components":  componentNames(comps),
		"ruleVersion": rules.Version,
	})

	res := &Result{
		Intent:      in,
		Confidence:  confidence,
		Components:  comps,
		RuleVersion: rules.Version,
	}

	e.stage(stageExecuting, text, nil)
	e.execute(ctx, text, res)

	// Store degradation must be visible in the composed answer, not
	// just in the logs.
	if e.store != nil && !e.store.Available() {
		res.Alerts = append(res.Alerts, "history store unavailable: this response and its feedback are not recorded")
	}

	e.stage(stageComposing, text, nil)
	e.appendActions(ctx, text, res)
	res.Response = e.composer.compose(res)

	e.record(text, res)
	e.stage(stageLogged, text, map[string]interface{}{
		"breadcrumb": res.BreadcrumbID,
	})
	return res, nil
}

// execute fans the routed components out in parallel. Each component
// writes only its own slot; the merge below is single-threaded.
func (e *Engine) execute(ctx context.Context, text string, res *Result) {
	slots := make(map[Component]*slot, len(res.Components))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, comp := range res.Components {
		comp := comp
		g.Go(func() error {
			s := &slot{}
			var err error
			switch comp {
			case CompIndex:
				err = e.runIndex(gctx, text, res.Intent, s)
			case CompHealth:
				err = e.runHealth(text, s)
			case CompGraph:
				err = e.runGraph(res.Intent, s)
			}
			mu.Lock()
			if err != nil {
				// Failure isolation: the component's absence is
				// surfaced as an alert, not an error.
				s.alerts = append(s.alerts, fmt.Sprintf("%s unavailable: %s", comp, err.Error()))
				if res.ComponentErrors == nil {
					res.ComponentErrors = make(map[Component]string)
				}
				res.ComponentErrors[comp] = string(holoerr.CodeOf(err))
				e.logger.Warn("Component failed", map[string]interface{}{
					"component": string(comp),
					"error":     err.Error(),
				})
			}
			slots[comp] = s
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Merge in routed order so output is deterministic regardless of
	// completion order
	for _, comp := range res.Components {
		s := slots[comp]
		if s == nil {
			continue
		}
		res.Findings = append(res.Findings, s.findings...)
		res.Alerts = append(res.Alerts, s.alerts...)
		res.Modules = append(res.Modules, s.modules...)
	}
	res.Modules = uniqueSorted(res.Modules)
}

// corporaFor maps an intent to the corpora worth searching:
// documentation lookups read docs, location queries read code, and
// broad intents read both.
func corporaFor(in intent.Intent) []index.Corpus {
	switch in {
	case intent.DocLookup:
		return []index.Corpus{index.DocsCorpus}
	case intent.CodeLocation:
		return []index.Corpus{index.CodeCorpus}
	default:
		return []index.Corpus{index.CodeCorpus, index.DocsCorpus}
	}
}

func (e *Engine) runIndex(_ context.Context, text string, in intent.Intent, s *slot) error {
	if e.idx == nil {
		return holoerr.New(holoerr.IndexUnavailable, "no index attached", nil)
	}
	limit := searchLimit
	if in == intent.General {
		limit = generalSearchLimit
	}
	for _, corpus := range corporaFor(in) {
		matches, err := e.idx.Search(text, limit, corpus)
		if err != nil {
			return err
		}
		for _, m := range matches {
			s.findings = append(s.findings, formatMatch(corpus, m))
			s.modules = append(s.modules, m.Entry.Path)
		}
	}
	return nil
}

func formatMatch(corpus index.Corpus, m index.Match) string {
	where := m.Entry.Path
	if m.Entry.SymbolName != "" {
		where = fmt.Sprintf("%s (%s)", m.Entry.Path, m.Entry.SymbolName)
	}
	summary := compression.Truncate(m.Entry.SummaryText, 120)
	if summary != "" {
		return fmt.Sprintf("%s score %.2f: %s", where, m.Score, summary)
	}
	return fmt.Sprintf("%s score %.2f [%s]", where, m.Score, corpus)
}

func (e *Engine) runHealth(text string, s *slot) error {
	if e.scorer == nil {
		return holoerr.New(holoerr.ComponentFailure, "no scorer attached", nil)
	}
	targets := modulesInQuery(text)
	if len(targets) == 0 && e.analyzer != nil {
		foundational, err := e.analyzer.FoundationalModules()
		if err == nil && len(foundational) > maxHealthTargets {
			foundational = foundational[:maxHealthTargets]
		}
		targets = foundational
	}
	if len(targets) == 0 {
		return nil
	}

	for _, mod := range targets {
		mh, err := e.scorer.Score(mod)
		if err != nil {
			s.alerts = append(s.alerts, fmt.Sprintf("health unscored for %s: %s", mod, err.Error()))
			continue
		}
		s.modules = append(s.modules, mod)
		s.findings = append(s.findings, fmt.Sprintf("%s health %.2f trend %s", mod, mh.Overall, mh.Trend))
		if mh.Overall < 0.5 {
			s.alerts = append(s.alerts, fmt.Sprintf("%s health is low (%.2f)", mod, mh.Overall))
		}
		if mh.Trend == "declining" {
			s.alerts = append(s.alerts, fmt.Sprintf("%s health is declining", mod))
		}
		if len(mh.Degraded) > 0 {
			s.alerts = append(s.alerts, fmt.Sprintf("%s scored without %s signals", mod, strings.Join(mh.Degraded, ", ")))
		}
	}
	return nil
}

func (e *Engine) runGraph(in intent.Intent, s *slot) error {
	if e.analyzer == nil {
		return holoerr.New(holoerr.ComponentFailure, "no analyzer attached", nil)
	}

	orphans, err := e.analyzer.Orphans()
	if err != nil {
		return err
	}
	for i, o := range orphans {
		if i >= maxOrphanAlerts {
			s.alerts = append(s.alerts, fmt.Sprintf("and %d more orphan modules", len(orphans)-maxOrphanAlerts))
			break
		}
		s.alerts = append(s.alerts, fmt.Sprintf("orphan module: %s", o))
	}

	if in == intent.Research || in == intent.General {
		foundational, err := e.analyzer.FoundationalModules()
		if err != nil {
			return err
		}
		if len(foundational) > maxFoundationLines {
			foundational = foundational[:maxFoundationLines]
		}
		for _, f := range foundational {
			s.findings = append(s.findings, fmt.Sprintf("foundational module: %s", f))
			s.modules = append(s.modules, f)
		}
	}
	return nil
}

// modulesInQuery pulls path-looking tokens out of the query text so
// MODULE_HEALTH questions about a specific file score that file
func modulesInQuery(text string) []string {
	var mods []string
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ".,;:!?'\"`()")
		if tok == "" {
			continue
		}
		if strings.ContainsRune(tok, '/') || hasSourceExt(tok) {
			mods = append(mods, tok)
		}
	}
	return mods
}

func hasSourceExt(tok string) bool {
	for _, ext := range []string{".go", ".py", ".ts", ".tsx", ".js", ".jsx"} {
		if strings.HasSuffix(tok, ext) {
			return true
		}
	}
	return false
}

func componentNames(comps []Component) []string {
	names := make([]string, len(comps))
	for i, c := range comps {
		names[i] = string(c)
	}
	return names
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) stage(name, text string, extra map[string]interface{}) {
	fields := map[string]interface{}{
		"stage": name,
		"query": text,
	}
	for k, v := range extra {
		fields[k] = v
	}
	e.logger.Debug("Query stage", fields)
}

func (e *Engine) record(text string, res *Result) {
	if e.store == nil {
		return
	}
	id, err := e.store.AppendBreadcrumb(&storage.Breadcrumb{
		SessionID:         e.sessionID,
		QueryText:         text,
		Intent:            string(res.Intent),
		ComponentsInvoked: componentNames(res.Components),
		ModulesReferenced: res.Modules,
		ResultSummary:     res.Response,
	})
	if err != nil {
		// An unavailable store already surfaced in the response and
		// in the daemon's per-tick warning; repeating it at warn for
		// every request would flood the log.
		fields := map[string]interface{}{"error": err.Error()}
		if holoerr.IsCode(err, holoerr.StoreUnavailable) {
			e.logger.Debug("Breadcrumb not recorded", fields)
		} else {
			e.logger.Warn("Breadcrumb not recorded", fields)
		}
		return
	}
	res.BreadcrumbID = id
}

// RecordFeedback attaches a rating to a past query and forwards it
// to the learner
func (e *Engine) RecordFeedback(breadcrumbID string, rating float64) error {
	if rating < 0 || rating > 1 {
		return holoerr.New(holoerr.QueryInvalid,
			fmt.Sprintf("rating %.2f outside [0,1]", rating), nil)
	}
	if e.store == nil {
		return holoerr.New(holoerr.StoreUnavailable, "no store attached", nil)
	}
	if err := e.store.AttachRating(breadcrumbID, rating); err != nil {
		return err
	}
	if e.observer == nil {
		return nil
	}
	bc, err := e.store.GetBreadcrumb(breadcrumbID)
	if err != nil {
		return err
	}
	if err := e.observer.Observe(intent.Intent(bc.Intent), bc.ComponentsInvoked, rating); err != nil {
		e.logger.Warn("Feedback observer failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// appendActions derives the NEXT ACTIONS section from what the
// components produced, with the advisor adding one free-form line
// when enabled
func (e *Engine) appendActions(ctx context.Context, text string, res *Result) {
	if len(res.Findings) == 0 {
		res.Actions = append(res.Actions, "No matches; rebuild the index with 'holo reindex' or broaden the query")
	}
	for _, alert := range res.Alerts {
		if strings.Contains(alert, "declining") {
			res.Actions = append(res.Actions, "Inspect recent changes to the declining modules before building on them")
			break
		}
	}
	if e.advisorCfg.Enabled {
		prompt := fmt.Sprintf("%s [%s]", text, res.Intent)
		line := advisor.Advise(ctx, e.adv, e.advisorCfg.Timeout, prompt, e.logger)
		if line != "" {
			res.Actions = append(res.Actions, line)
		}
	}
}
