package query

import (
	"sync"

	holoerr "holodex/internal/errors"
	"holodex/internal/intent"
	"holodex/internal/logging"
	"holodex/internal/storage"
)

// Component names the analyses the orchestrator can invoke
type Component string

const (
	// CompIndex is the similarity index search
	CompIndex Component = "index"
	// CompHealth is the module health scorer
	CompHealth Component = "health"
	// CompGraph is the dependency graph analyzer
	CompGraph Component = "graph"
)

// knownComponents guards rule loading: a persisted rule referencing a
// component that no longer exists is dropped with a warning, never a
// hard failure.
var knownComponents = map[Component]bool{
	CompIndex:  true,
	CompHealth: true,
	CompGraph:  true,
}

// RuleSet is one immutable routing snapshot. Readers hold a snapshot
// for the whole request; mutation builds a new set and swaps the
// reference, so no reader ever sees a half-applied change.
type RuleSet struct {
	Version int64
	Rules   map[intent.Intent][]Component
}

// Components returns the component set for an intent, falling back
// to the hardcoded defaults so the system is never inert.
func (rs *RuleSet) Components(in intent.Intent) []Component {
	return rs.components(in)
}

func (rs *RuleSet) components(in intent.Intent) []Component {
	if comps, ok := rs.Rules[in]; ok {
		return comps
	}
	return defaultRules()[in]
}

// defaultRules is the hardcoded intent -> component mapping used
// before any learning has occurred
func defaultRules() map[intent.Intent][]Component {
	return map[intent.Intent][]Component{
		intent.CodeLocation: {CompIndex},
		intent.DocLookup:    {CompIndex},
		intent.ModuleHealth: {CompHealth, CompGraph},
		intent.Research:     {CompIndex, CompHealth, CompGraph},
		intent.General:      {CompIndex, CompHealth, CompGraph},
	}
}

// RoutingTable owns the current rule set and its persistence. Only
// the feedback learner mutates it, one component add/remove at a
// time, each recorded in the rule change log.
type RoutingTable struct {
	mu      sync.RWMutex
	current *RuleSet
	store   *storage.DB
	logger  *logging.Logger
}

// NewRoutingTable loads persisted rules over the defaults. Stale
// rules are dropped at load time with a warning.
func NewRoutingTable(store *storage.DB, logger *logging.Logger) *RoutingTable {
	t := &RoutingTable{
		store:  store,
		logger: logger.Component("routing"),
		current: &RuleSet{
			Version: 1,
			Rules:   defaultRules(),
		},
	}
	t.loadPersisted()
	return t
}

func (t *RoutingTable) loadPersisted() {
	if t.store == nil || !t.store.Available() {
		return
	}
	persisted, err := t.store.LoadRules()
	if err != nil {
		t.logger.Warn("Failed to load routing rules, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	maxVersion := t.current.Version
	for intentName, rule := range persisted {
		var comps []Component
		stale := false
		for _, c := range rule.Components {
			comp := Component(c)
			if !knownComponents[comp] {
				t.logger.Warn("Dropping stale routing rule component", map[string]interface{}{
					"code":      string(holoerr.StaleRoutingRule),
					"intent":    intentName,
					"component": c,
				})
				stale = true
				continue
			}
			comps = append(comps, comp)
		}
		if stale && len(comps) == 0 {
			continue
		}
		t.current.Rules[intent.Intent(intentName)] = comps
		if rule.Version > maxVersion {
			maxVersion = rule.Version
		}
	}
	t.current.Version = maxVersion
}

// Snapshot returns the current immutable rule set
func (t *RoutingTable) Snapshot() *RuleSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Remove drops one component from an intent's rule. Returns false
// when the component was not present. statsJSON carries the
// triggering statistics into the change log.
func (t *RoutingTable) Remove(in intent.Intent, comp Component, statsJSON string) (bool, error) {
	return t.mutate(in, comp, statsJSON, "remove")
}

// Add appends one component to an intent's rule. Returns false when
// already present.
func (t *RoutingTable) Add(in intent.Intent, comp Component, statsJSON string) (bool, error) {
	return t.mutate(in, comp, statsJSON, "add")
}

func (t *RoutingTable) mutate(in intent.Intent, comp Component, statsJSON, action string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.current.components(in)
	var next []Component
	changed := false
	switch action {
	case "remove":
		for _, c := range old {
			if c == comp {
				changed = true
				continue
			}
			next = append(next, c)
		}
	case "add":
		next = append(next, old...)
		present := false
		for _, c := range old {
			if c == comp {
				present = true
			}
		}
		if !present {
			next = append(next, comp)
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	// Copy-on-write: build the complete replacement set, then swap
	newRules := make(map[intent.Intent][]Component, len(t.current.Rules))
	for k, v := range t.current.Rules {
		newRules[k] = v
	}
	newRules[in] = next
	newSet := &RuleSet{
		Version: t.current.Version + 1,
		Rules:   newRules,
	}

	if t.store != nil && t.store.Available() {
		comps := make([]string, len(next))
		for i, c := range next {
			comps[i] = string(c)
		}
		err := t.store.SaveRule(
			&storage.StoredRule{
				Intent:     string(in),
				Components: comps,
				Version:    newSet.Version,
			},
			&storage.RuleChange{
				Intent:    string(in),
				Action:    action,
				Component: string(comp),
				Stats:     statsJSON,
			},
		)
		if err != nil {
			return false, err
		}
	}

	t.current = newSet
	t.logger.Info("Routing rule updated", map[string]interface{}{
		"intent":    string(in),
		"action":    action,
		"component": string(comp),
		"version":   newSet.Version,
	})
	return true, nil
}
