// Package health computes multi-dimensional module health scores
// from cheap filesystem, history and graph signals.
package health

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"holodex/internal/config"
	holoerr "holodex/internal/errors"
	"holodex/internal/graph"
	"holodex/internal/logging"
	"holodex/internal/paths"
	"holodex/internal/storage"
	"holodex/internal/vcs"
)

// Dimension names, also the keys of config.HealthConfig.Weights
const (
	DimStructural  = "structural"
	DimMaintenance = "maintenance"
	DimKnowledge   = "knowledge"
	DimDependency  = "dependency"
	DimPattern     = "pattern"
)

// Trend labels derived from snapshot history
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// ModuleHealth is one computed snapshot plus its trend context
type ModuleHealth struct {
	storage.HealthSnapshot
	Trend string `json:"trend"`
	// Degraded lists signal sources that were unavailable and whose
	// weight was renormalized away. Surfaced in composed responses.
	Degraded []string `json:"degraded,omitempty"`
}

// Scorer computes module health. The store and history accessors are
// optional; a missing source drops its signals rather than zeroing
// the dimension.
type Scorer struct {
	repoRoot string
	cfg      config.HealthConfig
	store    *storage.DB
	history  *vcs.History
	analyzer *graph.Analyzer
	logger   *logging.Logger
}

// NewScorer creates a health scorer. history may be nil when the tree
// is not a git repository.
func NewScorer(repoRoot string, cfg config.HealthConfig, store *storage.DB, history *vcs.History, analyzer *graph.Analyzer, logger *logging.Logger) *Scorer {
	return &Scorer{
		repoRoot: repoRoot,
		cfg:      cfg,
		store:    store,
		history:  history,
		analyzer: analyzer,
		logger:   logger.Component("health"),
	}
}

// Score computes one snapshot for a module, appends it to the
// immutable history, and returns it with the trend over recent
// snapshots.
func (s *Scorer) Score(modulePath string) (*ModuleHealth, error) {
	if !paths.IsWithinRepo(filepath.Join(s.repoRoot, modulePath), s.repoRoot) {
		return nil, holoerr.New(holoerr.QueryInvalid,
			fmt.Sprintf("module path escapes the repository: %s", modulePath), nil)
	}
	var degraded []string

	structural, err := s.structuralScore(modulePath)
	if err != nil {
		return nil, err
	}

	maintenance, ok := s.maintenanceScore(modulePath)
	if !ok {
		degraded = append(degraded, "maintenance: no git history")
	}
	knowledge := s.knowledgeScore(modulePath)
	dependency, ok := s.dependencyScore(modulePath)
	if !ok {
		degraded = append(degraded, "dependency: graph unavailable")
	}
	pattern, ok := s.patternScore(modulePath)
	if !ok {
		degraded = append(degraded, "pattern: no usage history")
	}

	scores := map[string]float64{
		DimStructural: structural,
		DimKnowledge:  knowledge,
	}
	if maintenance >= 0 {
		scores[DimMaintenance] = maintenance
	}
	if dependency >= 0 {
		scores[DimDependency] = dependency
	}
	if pattern >= 0 {
		scores[DimPattern] = pattern
	}

	overall := s.weightedOverall(scores)

	snapshot := storage.HealthSnapshot{
		ModulePath:  modulePath,
		Structural:  structural,
		Maintenance: clampMissing(maintenance),
		Knowledge:   knowledge,
		Dependency:  clampMissing(dependency),
		Pattern:     clampMissing(pattern),
		Overall:     overall,
		ComputedAt:  time.Now().UTC(),
	}

	trend := TrendStable
	if s.store != nil && s.store.Available() {
		if err := s.store.AppendHealthSnapshot(&snapshot); err != nil {
			s.logger.Warn("Failed to persist health snapshot", map[string]interface{}{
				"module": modulePath, "error": err.Error(),
			})
		}
		history, err := s.store.HealthHistory(modulePath, s.cfg.TrendWindow)
		if err == nil {
			trend = trendOf(history, s.cfg.TrendThreshold)
		}
	} else {
		degraded = append(degraded, "history: store unavailable")
	}

	return &ModuleHealth{
		HealthSnapshot: snapshot,
		Trend:          trend,
		Degraded:       degraded,
	}, nil
}

// weightedOverall combines present dimensions with renormalized
// weights, so a dropped signal does not read as a zero score.
func (s *Scorer) weightedOverall(scores map[string]float64) float64 {
	var sum, weightSum float64
	for dim, score := range scores {
		w := s.cfg.Weights[dim]
		sum += w * score
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// structuralScore rates line count against the ideal band. Both tiny
// and huge modules drift from 1; there is an optimal range, not a
// "smaller is better" rule.
func (s *Scorer) structuralScore(modulePath string) (float64, error) {
	lines, err := s.countLines(modulePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read module %s: %w", modulePath, err)
	}

	min := float64(s.cfg.IdealMinLines)
	max := float64(s.cfg.IdealMaxLines)
	n := float64(lines)
	switch {
	case n >= min && n <= max:
		return 1.0, nil
	case n < min:
		if min == 0 {
			return 1.0, nil
		}
		return 0.3 + 0.7*(n/min), nil
	default:
		// Decay with how far past the band the module has grown
		over := (n - max) / max
		score := 1.0 - 0.5*over
		if score < 0.1 {
			score = 0.1
		}
		return score, nil
	}
}

func (s *Scorer) countLines(modulePath string) (int, error) {
	full := filepath.Join(s.repoRoot, filepath.FromSlash(modulePath))
	info, err := os.Stat(full)
	if err != nil {
		return 0, err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if !e.IsDir() && isSourceFile(e.Name()) {
				files = append(files, filepath.Join(full, e.Name()))
			}
		}
	} else {
		files = []string{full}
	}

	total := 0
	for _, f := range files {
		n, err := countFileLines(f)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// maintenanceScore rates change activity: stability with periodic,
// bounded change scores highest. Returns -1 when no history source
// exists.
func (s *Scorer) maintenanceScore(modulePath string) (float64, bool) {
	if s.history == nil {
		return -1, false
	}
	// A single-file module gets the cheaper filename-filtered log walk.
	var fh *vcs.FileHistory
	var err error
	if info, statErr := os.Stat(filepath.Join(s.repoRoot, modulePath)); statErr == nil && !info.IsDir() {
		fh, err = s.history.ForFile(modulePath, s.cfg.ChangeWindow)
	} else {
		fh, err = s.history.ForModule(modulePath, s.cfg.ChangeWindow)
	}
	if err != nil {
		s.logger.Debug("History lookup failed", map[string]interface{}{
			"module": modulePath, "error": err.Error(),
		})
		return -1, false
	}

	// Change-frequency band: 1..12 changes per window is healthy,
	// frozen or churning both lose points.
	var freq float64
	switch {
	case fh.ChangeCount == 0:
		freq = 0.5
	case fh.ChangeCount <= 12:
		freq = 1.0
	default:
		freq = 1.0 - float64(fh.ChangeCount-12)/24
		if freq < 0.2 {
			freq = 0.2
		}
	}

	// Recency: changed within the window scores higher than ancient
	recency := 0.5
	if !fh.LastChanged.IsZero() {
		age := time.Since(fh.LastChanged)
		switch {
		case age < 7*24*time.Hour:
			recency = 1.0
		case age < 30*24*time.Hour:
			recency = 0.8
		case age < 90*24*time.Hour:
			recency = 0.6
		}
	}

	score := 0.6*freq + 0.4*recency
	if s.store != nil && s.store.Available() {
		// Low-rated breadcrumbs referencing the module stand in for
		// observed defect density.
		if usage, err := s.store.UsageForModule(modulePath); err == nil && usage.RatedCount > 0 && usage.MeanRating < 0.4 {
			score *= 0.7
		}
	}
	return clamp01(score), true
}

// knowledgeScore rates documentation, tests and observed usage
func (s *Scorer) knowledgeScore(modulePath string) float64 {
	score := 0.2 // floor for existing at all

	if s.hasCompanionTests(modulePath) {
		score += 0.35
	}
	if s.hasCompanionDocs(modulePath) {
		score += 0.25
	}
	if s.store != nil && s.store.Available() {
		if usage, err := s.store.UsageForModule(modulePath); err == nil {
			switch {
			case usage.QueryCount >= 5:
				score += 0.2
			case usage.QueryCount >= 1:
				score += 0.1
			}
		}
	}
	return clamp01(score)
}

// dependencyScore derives from graph centrality and criticality
func (s *Scorer) dependencyScore(modulePath string) (float64, bool) {
	if s.analyzer == nil {
		return -1, false
	}
	centrality, err := s.analyzer.Centrality(modulePath)
	if err != nil {
		return -1, false
	}
	criticality, err := s.analyzer.Criticality(modulePath)
	if err != nil {
		return -1, false
	}
	// Moderately depended-on modules are healthy; one nothing depends
	// on contributes less, a maximally critical one carries risk.
	base := 0.4 + 0.6*centrality
	risk := 0.3 * criticality
	return clamp01(base - risk + 0.3), true
}

// patternScore derives from breadcrumb ratings referencing the module
func (s *Scorer) patternScore(modulePath string) (float64, bool) {
	if s.store == nil || !s.store.Available() {
		return -1, false
	}
	usage, err := s.store.UsageForModule(modulePath)
	if err != nil {
		return -1, false
	}
	if usage.RatedCount == 0 {
		return 0.5, true // no evidence either way
	}
	return clamp01(usage.MeanRating), true
}

// trendOf labels the signed difference between the newest-half mean
// and the oldest-half mean of the snapshot history.
func trendOf(history []*storage.HealthSnapshot, threshold float64) string {
	if len(history) < 2 {
		return TrendStable
	}
	mid := len(history) / 2
	oldMean := meanOverall(history[:mid])
	newMean := meanOverall(history[mid:])
	diff := newMean - oldMean
	switch {
	case diff > threshold:
		return TrendImproving
	case diff < -threshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func meanOverall(snaps []*storage.HealthSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range snaps {
		sum += s.Overall
	}
	return sum / float64(len(snaps))
}

func (s *Scorer) hasCompanionTests(modulePath string) bool {
	full := filepath.Join(s.repoRoot, filepath.FromSlash(modulePath))
	info, err := os.Stat(full)
	if err != nil {
		return false
	}
	if info.IsDir() {
		entries, err := os.ReadDir(full)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if isTestName(e.Name()) {
				return true
			}
		}
		return false
	}

	dir := filepath.Dir(full)
	base := strings.TrimSuffix(filepath.Base(full), filepath.Ext(full))
	candidates := []string{
		filepath.Join(dir, base+"_test.go"),
		filepath.Join(dir, "test_"+base+".py"),
		filepath.Join(dir, base+".test.ts"),
		filepath.Join(dir, "tests", "test_"+base+".py"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return true
		}
	}
	return false
}

func (s *Scorer) hasCompanionDocs(modulePath string) bool {
	full := filepath.Join(s.repoRoot, filepath.FromSlash(modulePath))
	dir := full
	if info, err := os.Stat(full); err != nil || !info.IsDir() {
		dir = filepath.Dir(full)
	}
	for _, name := range []string{"README.md", "README.rst", "doc.go", "docs.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func isTestName(name string) bool {
	return strings.HasSuffix(name, "_test.go") ||
		(strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py")) ||
		strings.Contains(name, ".test.") || strings.Contains(name, ".spec.")
}

func isSourceFile(name string) bool {
	switch filepath.Ext(name) {
	case ".go", ".py", ".ts", ".tsx", ".js", ".jsx":
		return true
	}
	return false
}

func countFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampMissing maps the "signal missing" sentinel to 0 for storage;
// the overall never includes it because the weight was renormalized.
func clampMissing(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
