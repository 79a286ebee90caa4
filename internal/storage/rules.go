package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StoredRule is the persisted form of one routing rule
type StoredRule struct {
	Intent     string    `json:"intent"`
	Components []string  `json:"components"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RuleChange is one audit entry for a learner mutation. Every add or
// remove of a component is recorded with the statistics that caused
// it, so any learning step can be reversed by hand.
type RuleChange struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Intent    string    `json:"intent"`
	Action    string    `json:"action"` // "add" or "remove"
	Component string    `json:"component"`
	Stats     string    `json:"stats"` // JSON of the triggering statistics
}

// SaveRule upserts one routing rule and appends the change record in
// the same transaction, so the rule table and its audit log never
// drift apart.
func (db *DB) SaveRule(rule *StoredRule, change *RuleChange) error {
	if !db.Available() {
		return db.unavailable()
	}
	components, err := json.Marshal(rule.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now().UTC()
	}
	return db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO routing_rules (intent, components, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(intent) DO UPDATE SET
				components = excluded.components,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, rule.Intent, string(components), rule.Version, rule.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		if change.Timestamp.IsZero() {
			change.Timestamp = time.Now().UTC()
		}
		_, err = tx.Exec(`
			INSERT INTO rule_changes (timestamp, intent, action, component, stats)
			VALUES (?, ?, ?, ?, ?)
		`, change.Timestamp.Format(time.RFC3339Nano), change.Intent, change.Action,
			change.Component, change.Stats)
		return err
	})
}

// LoadRules returns all persisted routing rules keyed by intent
func (db *DB) LoadRules() (map[string]*StoredRule, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	rows, err := db.Query("SELECT intent, components, version, updated_at FROM routing_rules")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make(map[string]*StoredRule)
	for rows.Next() {
		var (
			r          StoredRule
			components string
			updated    string
		)
		if err := rows.Scan(&r.Intent, &components, &r.Version, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(components), &r.Components); err != nil {
			return nil, fmt.Errorf("corrupt rule components: %w", err)
		}
		r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, err
		}
		rules[r.Intent] = &r
	}
	return rules, rows.Err()
}

// RuleChanges returns up to limit rule change records, newest first
func (db *DB) RuleChanges(limit int) ([]*RuleChange, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	rows, err := db.Query(`
		SELECT id, timestamp, intent, action, component, stats
		FROM rule_changes ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RuleChange
	for rows.Next() {
		var (
			c  RuleChange
			ts string
		)
		if err := rows.Scan(&c.ID, &ts, &c.Intent, &c.Action, &c.Component, &c.Stats); err != nil {
			return nil, err
		}
		c.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
