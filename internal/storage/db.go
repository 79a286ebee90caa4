// Package storage provides the HoloIndex persistent store: a single
// SQLite database holding breadcrumbs, health snapshots, daemon
// decisions and routing rules, safe for one writer and many readers.
package storage

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	holoerr "holodex/internal/errors"
	"holodex/internal/logging"
	"holodex/internal/paths"
)

// DB represents a database connection with transaction helpers.
//
// A DB may be degraded: when the underlying database cannot be opened
// the constructor still returns a DB so callers keep working on
// filesystem-only signals. Every accessor on a degraded DB returns a
// STORE_UNAVAILABLE error.
type DB struct {
	conn    *sql.DB
	logger  *logging.Logger
	dbPath  string
	openErr error
}

// Open opens or creates the SQLite database at <repoRoot>/.holo/holo.db.
// On failure the returned DB is degraded rather than nil; use Available
// to test for it.
func Open(repoRoot string, logger *logging.Logger) *DB {
	db, err := open(repoRoot, logger)
	if err != nil {
		logger.Warn("Persistent store unavailable, continuing without history", map[string]interface{}{
			"error": err.Error(),
		})
		return &DB{logger: logger, openErr: err}
	}
	return db
}

func open(repoRoot string, logger *logging.Logger) (*DB, error) {
	if _, err := paths.EnsureStateDir(repoRoot); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dbPath := paths.DatabasePath(repoRoot)
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // readers keep working during writes
		"PRAGMA synchronous=NORMAL", // durable enough under WAL
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating new database", map[string]interface{}{
			"path": dbPath,
		})
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		if err := db.runMigrations(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Available reports whether the store opened successfully
func (db *DB) Available() bool {
	return db.openErr == nil && db.conn != nil
}

// unavailable returns the coded error for a degraded store
func (db *DB) unavailable() error {
	return holoerr.New(holoerr.StoreUnavailable, "persistent store is not available", db.openErr)
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection, or nil when degraded.
// The similarity index shares this connection for its corpus tables.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// WithTx executes fn within a transaction. The transaction is rolled
// back if fn returns an error or panics, committed otherwise.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	if !db.Available() {
		return db.unavailable()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// QueryRow runs a single-row query against the store
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Query runs a multi-row query against the store
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	return db.conn.Query(query, args...)
}

// Exec runs a statement against the store
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	return db.conn.Exec(query, args...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
