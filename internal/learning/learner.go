// Package learning adjusts routing rules from feedback ratings. Each
// (intent, component) pairing carries an exponential moving average
// of usefulness; pairings that stay unhelpful get dropped from the
// routing table, consistently helpful extras get added. Every
// mutation lands in the rule change log.
package learning

import (
	"encoding/json"
	"fmt"
	"sync"

	"holodex/internal/config"
	"holodex/internal/intent"
	"holodex/internal/logging"
	"holodex/internal/query"
)

type pairKey struct {
	in   intent.Intent
	comp query.Component
}

type pairStat struct {
	ema     float64
	samples int
}

// Learner implements query.FeedbackObserver
type Learner struct {
	mu     sync.Mutex
	cfg    config.RoutingConfig
	table  *query.RoutingTable
	logger *logging.Logger
	stats  map[pairKey]*pairStat
}

func NewLearner(cfg config.RoutingConfig, table *query.RoutingTable, logger *logging.Logger) *Learner {
	return &Learner{
		cfg:    cfg,
		table:  table,
		logger: logger.Component("learning"),
		stats:  make(map[pairKey]*pairStat),
	}
}

// Observe folds one rated query into the per-pairing statistics and
// applies the mutation policy. Mutation requires MinSamples
// observations; a single bad rating never rewrites routing.
func (l *Learner) Observe(in intent.Intent, components []string, rating float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range components {
		comp := query.Component(c)
		key := pairKey{in: in, comp: comp}
		st := l.stats[key]
		if st == nil {
			st = &pairStat{ema: rating, samples: 1}
			l.stats[key] = st
		} else {
			st.ema = l.cfg.LearnAlpha*rating + (1-l.cfg.LearnAlpha)*st.ema
			st.samples++
		}
		if err := l.apply(in, comp, st); err != nil {
			return err
		}
	}
	return nil
}

func (l *Learner) apply(in intent.Intent, comp query.Component, st *pairStat) error {
	if st.samples < l.cfg.MinSamples {
		return nil
	}

	inRule := false
	for _, c := range l.table.Snapshot().Components(in) {
		if c == comp {
			inRule = true
		}
	}

	switch {
	case inRule && st.ema < l.cfg.UsefulnessFloor:
		changed, err := l.table.Remove(in, comp, statsJSON(st))
		if err != nil {
			return fmt.Errorf("removing %s from %s: %w", comp, in, err)
		}
		if changed {
			l.logger.Info("Dropped unhelpful component", map[string]interface{}{
				"intent":    string(in),
				"component": string(comp),
				"ema":       st.ema,
				"samples":   st.samples,
			})
		}
	case !inRule && st.ema > l.cfg.UsefulnessCeiling:
		changed, err := l.table.Add(in, comp, statsJSON(st))
		if err != nil {
			return fmt.Errorf("adding %s to %s: %w", comp, in, err)
		}
		if changed {
			l.logger.Info("Promoted helpful component", map[string]interface{}{
				"intent":    string(in),
				"component": string(comp),
				"ema":       st.ema,
				"samples":   st.samples,
			})
		}
	}
	return nil
}

// Stat reports the current usefulness estimate for a pairing, for
// status output. The second return is false when the pairing has
// never been rated.
func (l *Learner) Stat(in intent.Intent, comp query.Component) (float64, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stats[pairKey{in: in, comp: comp}]
	if st == nil {
		return 0, 0, false
	}
	return st.ema, st.samples, true
}

func statsJSON(st *pairStat) string {
	b, err := json.Marshal(map[string]interface{}{
		"ema":     st.ema,
		"samples": st.samples,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}
