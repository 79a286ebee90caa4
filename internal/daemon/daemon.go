// Package daemon runs the background maintenance loop: keep indexes
// fresh, keep health snapshots current, and audit every decision. All
// rebuild and rescore work happens inside the daemon goroutine, never
// on a query path.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"holodex/internal/config"
	holoerr "holodex/internal/errors"
	"holodex/internal/graph"
	"holodex/internal/health"
	"holodex/internal/index"
	"holodex/internal/logging"
	"holodex/internal/query"
	"holodex/internal/storage"
)

// decision outcomes
const (
	DecisionReindex       = "reindex"
	DecisionRescore       = "rescore"
	DecisionAdjustRouting = "adjust_routing"
	DecisionSkip          = "skip"
)

// criterion names as persisted in decision records
const (
	critIndexStale      = "index_stale"
	critStructuralDrift = "structural_drift"
	critHealthStale     = "health_stale"
	critRoutingChanged  = "routing_changed"
)

// Status is a point-in-time view of the daemon
type Status struct {
	Running      bool                    `json:"running"`
	Ticks        int64                   `json:"ticks"`
	RuleVersion  int64                   `json:"ruleVersion"`
	LastDecision *storage.DaemonDecision `json:"lastDecision,omitempty"`
}

// Daemon owns the tick loop. Construct with New, drive with Start
// and Stop; there is no package-level state.
type Daemon struct {
	cfg       config.DaemonConfig
	indexCfg  config.IndexConfig
	healthCfg config.HealthConfig

	idx      *index.Index
	scorer   *health.Scorer
	analyzer *graph.Analyzer
	routing  *query.RoutingTable
	store    *storage.DB
	logger   *logging.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	ticks           int64
	lastRuleVersion int64
	lastDecision    *storage.DaemonDecision
}

func New(cfg *config.Config, idx *index.Index, scorer *health.Scorer, analyzer *graph.Analyzer, routing *query.RoutingTable, store *storage.DB, logger *logging.Logger) *Daemon {
	d := &Daemon{
		cfg:       cfg.Daemon,
		indexCfg:  cfg.Index,
		healthCfg: cfg.Health,
		idx:       idx,
		scorer:    scorer,
		analyzer:  analyzer,
		routing:   routing,
		store:     store,
		logger:    logger.Component("daemon"),
	}
	if routing != nil {
		d.lastRuleVersion = routing.Snapshot().Version
	}
	return d
}

// Start launches the tick loop. The first tick runs immediately so a
// fresh checkout gets indexed without waiting a full interval.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.mu.Unlock()

	d.logger.Info("Daemon started", map[string]interface{}{
		"tickInterval": d.cfg.TickInterval.String(),
	})

	go d.loop(ctx)
	return nil
}

// Stop requests shutdown and waits for the loop to drain. A tick in
// progress finishes its current module, not its whole batch.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	d.logger.Info("Daemon stopped", nil)
}

// Status reports the current daemon state
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:      d.running,
		Ticks:        atomic.LoadInt64(&d.ticks),
		RuleVersion:  d.lastRuleVersion,
		LastDecision: d.lastDecision,
	}
}

func (d *Daemon) loop(ctx context.Context) {
	defer close(d.done)

	d.Tick(ctx)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick evaluates the maintenance criteria in order and acts on the
// first that holds. Exactly one decision record is appended, skip
// included.
func (d *Daemon) Tick(ctx context.Context) {
	if d.stopRequested() {
		return
	}
	atomic.AddInt64(&d.ticks, 1)

	if d.store != nil && !d.store.Available() {
		// Once per tick, not once per failed write
		d.logger.Warn("Store unavailable, decisions will not be audited", nil)
	}

	criteria := make(map[string]storage.Criterion)

	staleCorpora := d.checkIndexStale(criteria)
	driftedCorpora := d.checkStructuralDrift(criteria)
	staleModules := d.checkHealthStale(criteria)
	routingChanged, ruleVersion := d.checkRoutingChanged(criteria)

	var decision, reason string
	switch {
	case len(staleCorpora) > 0:
		decision = DecisionReindex
		reason = fmt.Sprintf("index stale for %v", staleCorpora)
		d.reindex(ctx, staleCorpora)
	case len(driftedCorpora) > 0:
		decision = DecisionReindex
		reason = fmt.Sprintf("structural drift in %v", driftedCorpora)
		d.reindex(ctx, driftedCorpora)
	case len(staleModules) > 0:
		decision = DecisionRescore
		reason = fmt.Sprintf("%d modules with stale health", len(staleModules))
		d.rescore(staleModules)
	case routingChanged:
		decision = DecisionAdjustRouting
		reason = fmt.Sprintf("routing rules advanced to version %d", ruleVersion)
	default:
		decision = DecisionSkip
		reason = "all criteria healthy"
	}

	d.mu.Lock()
	d.lastRuleVersion = ruleVersion
	d.mu.Unlock()

	d.recordDecision(criteria, decision, reason)
}

func (d *Daemon) checkIndexStale(criteria map[string]storage.Criterion) []index.Corpus {
	var stale []index.Corpus
	if d.idx == nil {
		criteria[critIndexStale] = storage.Criterion{Passed: false, Value: "no index"}
		return nil
	}
	var values []string
	for _, corpus := range []index.Corpus{index.CodeCorpus, index.DocsCorpus} {
		age, err := d.idx.Age(corpus)
		if err != nil {
			stale = append(stale, corpus)
			values = append(values, fmt.Sprintf("%s=never", corpus))
			continue
		}
		values = append(values, fmt.Sprintf("%s=%s", corpus, age.Truncate(time.Second)))
		if age > d.indexCfg.MaxAge {
			stale = append(stale, corpus)
		}
	}
	if len(stale) > 0 {
		d.logger.Warn("Index stale, scheduling rebuild", map[string]interface{}{
			"code":    string(holoerr.IndexStale),
			"corpora": fmt.Sprintf("%v", stale),
		})
	}
	criteria[critIndexStale] = storage.Criterion{
		Passed: len(stale) > 0,
		Value:  fmt.Sprintf("%v", values),
	}
	return stale
}

func (d *Daemon) checkStructuralDrift(criteria map[string]storage.Criterion) []index.Corpus {
	var drifted []index.Corpus
	if d.idx == nil {
		criteria[critStructuralDrift] = storage.Criterion{Passed: false, Value: "no index"}
		return nil
	}
	for _, corpus := range []index.Corpus{index.CodeCorpus, index.DocsCorpus} {
		built, err := d.idx.Fingerprint(corpus)
		if err != nil || built == "" {
			continue
		}
		current, err := d.idx.CurrentFingerprint(corpus)
		if err != nil {
			continue
		}
		if current != built {
			drifted = append(drifted, corpus)
		}
	}
	criteria[critStructuralDrift] = storage.Criterion{
		Passed: len(drifted) > 0,
		Value:  fmt.Sprintf("%v", drifted),
	}
	return drifted
}

func (d *Daemon) checkHealthStale(criteria map[string]storage.Criterion) []string {
	if d.scorer == nil || d.analyzer == nil || d.store == nil || !d.store.Available() {
		criteria[critHealthStale] = storage.Criterion{Passed: false, Value: "unavailable"}
		return nil
	}
	modules, err := d.analyzer.Modules()
	if err != nil || len(modules) == 0 {
		criteria[critHealthStale] = storage.Criterion{Passed: false, Value: "no modules"}
		return nil
	}
	stale, err := d.store.StaleModules(modules, d.healthCfg.SnapshotMaxAge)
	if err != nil {
		criteria[critHealthStale] = storage.Criterion{Passed: false, Value: err.Error()}
		return nil
	}
	criteria[critHealthStale] = storage.Criterion{
		Passed: len(stale) > 0,
		Value:  fmt.Sprintf("stale=%d of %d", len(stale), len(modules)),
	}
	return stale
}

func (d *Daemon) checkRoutingChanged(criteria map[string]storage.Criterion) (bool, int64) {
	if d.routing == nil {
		criteria[critRoutingChanged] = storage.Criterion{Passed: false, Value: "no routing"}
		return false, 0
	}
	version := d.routing.Snapshot().Version
	d.mu.Lock()
	changed := version != d.lastRuleVersion
	d.mu.Unlock()
	criteria[critRoutingChanged] = storage.Criterion{
		Passed: changed,
		Value:  fmt.Sprintf("version=%d", version),
	}
	return changed, version
}

func (d *Daemon) reindex(ctx context.Context, corpora []index.Corpus) {
	for _, corpus := range corpora {
		if d.stopRequested() {
			return
		}
		if err := d.idx.Rebuild(ctx, corpus); err != nil {
			d.logger.Warn("Reindex failed", map[string]interface{}{
				"corpus": string(corpus),
				"error":  err.Error(),
			})
			continue
		}
		d.logger.Info("Corpus reindexed", map[string]interface{}{
			"corpus": string(corpus),
		})
	}
}

// rescore walks the batch with a stop check between modules so
// shutdown never waits on a long sweep
func (d *Daemon) rescore(modules []string) {
	scored := 0
	for _, mod := range modules {
		if d.stopRequested() {
			break
		}
		if _, err := d.scorer.Score(mod); err != nil {
			d.logger.Debug("Module not scored", map[string]interface{}{
				"module": mod,
				"error":  err.Error(),
			})
			continue
		}
		scored++
	}
	d.logger.Info("Health batch complete", map[string]interface{}{
		"scored": scored,
		"of":     len(modules),
	})
}

func (d *Daemon) recordDecision(criteria map[string]storage.Criterion, decision, reason string) {
	rec := &storage.DaemonDecision{
		Timestamp:  time.Now().UTC(),
		Criteria:   criteria,
		Decision:   decision,
		Reason:     reason,
		Confidence: 1.0,
	}
	d.mu.Lock()
	d.lastDecision = rec
	d.mu.Unlock()

	if d.store == nil {
		return
	}
	if err := d.store.AppendDecision(rec); err != nil {
		d.logger.Debug("Decision not persisted", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	d.logger.Info("Tick decision", map[string]interface{}{
		"decision": decision,
		"reason":   reason,
	})
}

func (d *Daemon) stopRequested() bool {
	d.mu.Lock()
	stop := d.stop
	d.mu.Unlock()
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
