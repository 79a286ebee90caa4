package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Criterion is one evaluated check inside a daemon decision
type Criterion struct {
	Passed bool   `json:"passed"`
	Value  string `json:"value"`
}

// DaemonDecision is the audit record of one background tick. One is
// written per tick regardless of outcome; a "skip" is as auditable as
// a reindex.
type DaemonDecision struct {
	ID         int64                `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	Criteria   map[string]Criterion `json:"criteria"`
	Decision   string               `json:"decision"`
	Reason     string               `json:"reason"`
	Confidence float64              `json:"confidence"`
}

// AppendDecision writes one daemon decision record
func (db *DB) AppendDecision(d *DaemonDecision) error {
	if !db.Available() {
		return db.unavailable()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	criteria, err := json.Marshal(d.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}
	return db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO daemon_decisions (timestamp, criteria, decision, reason, confidence)
			VALUES (?, ?, ?, ?, ?)
		`, d.Timestamp.Format(time.RFC3339Nano), string(criteria), d.Decision, d.Reason, d.Confidence)
		if err != nil {
			return err
		}
		d.ID, err = res.LastInsertId()
		return err
	})
}

// RecentDecisions returns up to limit decisions, newest first
func (db *DB) RecentDecisions(limit int) ([]*DaemonDecision, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	rows, err := db.Query(`
		SELECT id, timestamp, criteria, decision, reason, confidence
		FROM daemon_decisions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DaemonDecision
	for rows.Next() {
		var (
			d        DaemonDecision
			ts       string
			criteria string
		)
		if err := rows.Scan(&d.ID, &ts, &criteria, &d.Decision, &d.Reason, &d.Confidence); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(criteria), &d.Criteria); err != nil {
			return nil, fmt.Errorf("corrupt criteria: %w", err)
		}
		d.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// LatestDecision returns the newest daemon decision, or nil when the
// daemon has never ticked.
func (db *DB) LatestDecision() (*DaemonDecision, error) {
	decisions, err := db.RecentDecisions(1)
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, nil
	}
	return decisions[0], nil
}
