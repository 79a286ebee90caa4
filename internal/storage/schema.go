package storage

import (
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createBreadcrumbsTable(tx); err != nil {
			return err
		}
		if err := createModuleHealthTable(tx); err != nil {
			return err
		}
		if err := createDaemonDecisionsTable(tx); err != nil {
			return err
		}
		if err := createRoutingRulesTable(tx); err != nil {
			return err
		}
		if err := createRuleChangesTable(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}
	if version == currentSchemaVersion {
		return nil
	}
	if version == 0 {
		// Database file exists but carries no schema
		return db.initializeSchema()
	}

	db.logger.Info("Running database migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})

	// Migration functions go here as the schema evolves
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

// breadcrumbs is append-only; rating is the only column ever updated
func createBreadcrumbsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS breadcrumbs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			query_text TEXT NOT NULL,
			intent TEXT NOT NULL,
			components_invoked TEXT NOT NULL,
			modules_referenced TEXT NOT NULL DEFAULT '[]',
			result_summary BLOB,
			timestamp TEXT NOT NULL,
			rating REAL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create breadcrumbs table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_breadcrumbs_session ON breadcrumbs(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_breadcrumbs_timestamp ON breadcrumbs(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_breadcrumbs_intent ON breadcrumbs(intent)",
	}
	for _, idx := range indexes {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("failed to create breadcrumb index: %w", err)
		}
	}
	return nil
}

// module_health snapshots are immutable once written
func createModuleHealthTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS module_health (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			module_path TEXT NOT NULL,
			structural REAL NOT NULL,
			maintenance REAL NOT NULL,
			knowledge REAL NOT NULL,
			dependency REAL NOT NULL,
			pattern REAL NOT NULL,
			overall REAL NOT NULL,
			computed_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create module_health table: %w", err)
	}
	_, err = tx.Exec("CREATE INDEX IF NOT EXISTS idx_module_health_path ON module_health(module_path, computed_at)")
	if err != nil {
		return fmt.Errorf("failed to create module_health index: %w", err)
	}
	return nil
}

// daemon_decisions is the audit trail of every background tick
func createDaemonDecisionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS daemon_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			criteria TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL,
			confidence REAL NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create daemon_decisions table: %w", err)
	}
	return nil
}

func createRoutingRulesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS routing_rules (
			intent TEXT PRIMARY KEY,
			components TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create routing_rules table: %w", err)
	}
	return nil
}

// rule_changes is the append-only audit of learner mutations
func createRuleChangesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS rule_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			intent TEXT NOT NULL,
			action TEXT NOT NULL,
			component TEXT NOT NULL,
			stats TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create rule_changes table: %w", err)
	}
	return nil
}
