// Package intent classifies free-text queries into the closed set of
// intents the orchestrator routes on. Keyword rules only; no model
// dependency, and ties resolve to GENERAL rather than guessing.
package intent

import (
	"sort"
	"strings"
)

// Intent is the closed enumeration of query purposes
type Intent string

const (
	// CodeLocation asks where something is implemented
	CodeLocation Intent = "CODE_LOCATION"
	// DocLookup asks what a protocol or spec says
	DocLookup Intent = "DOC_LOOKUP"
	// ModuleHealth asks whether a module is in good shape
	ModuleHealth Intent = "MODULE_HEALTH"
	// Research is open-ended exploration
	Research Intent = "RESEARCH"
	// General is the low-confidence fallback that triggers every
	// component at reduced verbosity
	General Intent = "GENERAL"
)

// All lists every intent in tie-break order
var All = []Intent{CodeLocation, DocLookup, ModuleHealth, Research, General}

// rule is one weighted keyword or phrase for an intent
type rule struct {
	phrase string
	weight float64
}

var rules = map[Intent][]rule{
	CodeLocation: {
		{"where is", 2.0},
		{"where are", 2.0},
		{"implemented", 1.5},
		{"implementation", 1.5},
		{"defined", 1.5},
		{"definition", 1.2},
		{"find", 1.0},
		{"locate", 1.5},
		{"location", 1.0},
		{"which file", 2.0},
		{"function", 0.8},
		{"class", 0.8},
		{"symbol", 1.0},
	},
	DocLookup: {
		{"documentation", 2.0},
		{"document", 1.5},
		{"docs", 1.5},
		{"protocol", 2.0},
		{"spec say", 2.5},
		{"specification", 1.5},
		{"what does", 1.0},
		{"policy", 1.5},
		{"guideline", 1.5},
		{"according to", 1.5},
	},
	ModuleHealth: {
		{"health", 2.5},
		{"healthy", 2.5},
		{"good shape", 2.5},
		{"quality", 1.5},
		{"maintainab", 2.0},
		{"technical debt", 2.0},
		{"rotting", 2.0},
		{"stale", 1.2},
		{"well tested", 1.5},
	},
	Research: {
		{"research", 2.5},
		{"explore", 2.0},
		{"understand", 1.5},
		{"overview", 2.0},
		{"architecture", 1.8},
		{"how does", 1.5},
		{"deep dive", 2.5},
		{"compare", 1.5},
		{"learn about", 2.0},
	},
}

// Classifier maps query text to an intent with a confidence
type Classifier struct {
	threshold float64
}

// NewClassifier creates a classifier. Confidence below threshold
// falls back to General.
func NewClassifier(threshold float64) *Classifier {
	return &Classifier{threshold: threshold}
}

// Classify returns the intent and its confidence in [0,1].
// Deterministic: equal scores resolve by the fixed intent order.
func (c *Classifier) Classify(query string) (Intent, float64) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return General, 0
	}

	type scored struct {
		intent Intent
		score  float64
	}
	var results []scored
	for _, in := range All {
		var score float64
		for _, r := range rules[in] {
			if strings.Contains(q, r.phrase) {
				score += r.weight
			}
		}
		results = append(results, scored{intent: in, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	best := results[0]
	confidence := best.score / (best.score + 1.5)
	if confidence < c.threshold || best.score == 0 {
		return General, confidence
	}
	return best.intent, confidence
}
