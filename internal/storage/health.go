package storage

import (
	"database/sql"
	"time"
)

// HealthSnapshot is one immutable module health record
type HealthSnapshot struct {
	ModulePath  string    `json:"modulePath"`
	Structural  float64   `json:"structural"`
	Maintenance float64   `json:"maintenance"`
	Knowledge   float64   `json:"knowledge"`
	Dependency  float64   `json:"dependency"`
	Pattern     float64   `json:"pattern"`
	Overall     float64   `json:"overall"`
	ComputedAt  time.Time `json:"computedAt"`
}

// AppendHealthSnapshot writes one snapshot. Snapshots are never
// updated or deleted; history only grows.
func (db *DB) AppendHealthSnapshot(s *HealthSnapshot) error {
	if !db.Available() {
		return db.unavailable()
	}
	if s.ComputedAt.IsZero() {
		s.ComputedAt = time.Now().UTC()
	}
	return db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO module_health
				(module_path, structural, maintenance, knowledge, dependency, pattern, overall, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ModulePath, s.Structural, s.Maintenance, s.Knowledge, s.Dependency,
			s.Pattern, s.Overall, s.ComputedAt.Format(time.RFC3339Nano))
		return err
	})
}

// HealthHistory returns up to limit snapshots for a module, oldest
// first, so trend math can split halves directly.
func (db *DB) HealthHistory(modulePath string, limit int) ([]*HealthSnapshot, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	rows, err := db.Query(`
		SELECT module_path, structural, maintenance, knowledge, dependency, pattern, overall, computed_at
		FROM (
			SELECT * FROM module_health
			WHERE module_path = ?
			ORDER BY computed_at DESC LIMIT ?
		) ORDER BY computed_at ASC
	`, modulePath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HealthSnapshot
	for rows.Next() {
		var (
			s  HealthSnapshot
			ts string
		)
		if err := rows.Scan(&s.ModulePath, &s.Structural, &s.Maintenance, &s.Knowledge,
			&s.Dependency, &s.Pattern, &s.Overall, &ts); err != nil {
			return nil, err
		}
		s.ComputedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// LatestHealthSnapshot returns the newest snapshot for a module, or
// nil when the module has never been scored.
func (db *DB) LatestHealthSnapshot(modulePath string) (*HealthSnapshot, error) {
	history, err := db.HealthHistory(modulePath, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return history[0], nil
}

// StaleModules returns the subset of modulePaths whose latest health
// snapshot is older than maxAge. Modules never scored at all count as
// infinitely stale. Input order is preserved so rescoring batches are
// deterministic.
func (db *DB) StaleModules(modulePaths []string, maxAge time.Duration) ([]string, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	now := time.Now().UTC()
	var stale []string
	for _, path := range modulePaths {
		latest, err := db.LatestHealthSnapshot(path)
		if err != nil {
			return nil, err
		}
		if latest == nil || now.Sub(latest.ComputedAt) > maxAge {
			stale = append(stale, path)
		}
	}
	return stale, nil
}
