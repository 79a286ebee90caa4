package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"holodex/internal/compression"
	holoerr "holodex/internal/errors"
)

// Breadcrumb is one recorded query and its outcome. Append-only; only
// the rating may be attached after the fact.
type Breadcrumb struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"sessionId"`
	QueryText         string    `json:"queryText"`
	Intent            string    `json:"intent"`
	ComponentsInvoked []string  `json:"componentsInvoked"`
	ModulesReferenced []string  `json:"modulesReferenced"`
	ResultSummary     string    `json:"resultSummary"`
	Timestamp         time.Time `json:"timestamp"`
	Rating            *float64  `json:"rating,omitempty"`
}

// AppendBreadcrumb writes a breadcrumb in one transaction and returns
// its id. A missing id or timestamp is filled in.
func (db *DB) AppendBreadcrumb(bc *Breadcrumb) (string, error) {
	if !db.Available() {
		return "", db.unavailable()
	}
	if bc.ID == "" {
		bc.ID = uuid.NewString()
	}
	if bc.Timestamp.IsZero() {
		bc.Timestamp = time.Now().UTC()
	}

	components, err := json.Marshal(bc.ComponentsInvoked)
	if err != nil {
		return "", fmt.Errorf("failed to marshal components: %w", err)
	}
	modules, err := json.Marshal(bc.ModulesReferenced)
	if err != nil {
		return "", fmt.Errorf("failed to marshal module refs: %w", err)
	}
	// Result summaries compress well and can be large for RESEARCH
	// queries, so they are stored zstd-compressed
	summary := compression.Compress([]byte(bc.ResultSummary))

	err = db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO breadcrumbs
				(id, session_id, query_text, intent, components_invoked, modules_referenced, result_summary, timestamp, rating)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, bc.ID, bc.SessionID, bc.QueryText, bc.Intent, string(components), string(modules),
			summary, bc.Timestamp.Format(time.RFC3339Nano), bc.Rating)
		return err
	})
	if err != nil {
		return "", err
	}
	return bc.ID, nil
}

// AttachRating sets the rating on an existing breadcrumb. This is the
// only permitted mutation of a breadcrumb.
func (db *DB) AttachRating(id string, rating float64) error {
	if !db.Available() {
		return db.unavailable()
	}
	return db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("UPDATE breadcrumbs SET rating = ? WHERE id = ?", rating, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return holoerr.New(holoerr.QueryInvalid, fmt.Sprintf("no breadcrumb with id %s", id), nil)
		}
		return nil
	})
}

// GetBreadcrumb loads a single breadcrumb by id
func (db *DB) GetBreadcrumb(id string) (*Breadcrumb, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	row := db.QueryRow(`
		SELECT id, session_id, query_text, intent, components_invoked, modules_referenced, result_summary, timestamp, rating
		FROM breadcrumbs WHERE id = ?
	`, id)
	bc, err := scanBreadcrumb(row)
	if err == sql.ErrNoRows {
		return nil, holoerr.New(holoerr.QueryInvalid, fmt.Sprintf("no breadcrumb with id %s", id), nil)
	}
	return bc, err
}

// RecentBreadcrumbs returns up to limit breadcrumbs, newest first
func (db *DB) RecentBreadcrumbs(limit int) ([]*Breadcrumb, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	rows, err := db.Query(`
		SELECT id, session_id, query_text, intent, components_invoked, modules_referenced, result_summary, timestamp, rating
		FROM breadcrumbs ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Breadcrumb
	for rows.Next() {
		bc, err := scanBreadcrumb(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// ModuleUsage summarizes breadcrumb history for one module: how often
// it appeared in results, and the mean rating of rated breadcrumbs
// that referenced it.
type ModuleUsage struct {
	QueryCount int
	RatedCount int
	MeanRating float64
}

// UsageForModule aggregates breadcrumb signals for a module path
func (db *DB) UsageForModule(modulePath string) (*ModuleUsage, error) {
	if !db.Available() {
		return nil, db.unavailable()
	}
	// modules_referenced is a JSON array of paths; a LIKE match against
	// the quoted path is exact enough and avoids a JSON1 dependency.
	pattern := "%\"" + modulePath + "\"%"
	usage := &ModuleUsage{}
	err := db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(rating),
		       COALESCE(AVG(rating), 0)
		FROM breadcrumbs WHERE modules_referenced LIKE ?
	`, pattern).Scan(&usage.QueryCount, &usage.RatedCount, &usage.MeanRating)
	if err != nil {
		return nil, err
	}
	return usage, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBreadcrumb(row rowScanner) (*Breadcrumb, error) {
	var (
		bc         Breadcrumb
		components string
		modules    string
		summary    []byte
		ts         string
		rating     sql.NullFloat64
	)
	err := row.Scan(&bc.ID, &bc.SessionID, &bc.QueryText, &bc.Intent,
		&components, &modules, &summary, &ts, &rating)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(components), &bc.ComponentsInvoked); err != nil {
		return nil, fmt.Errorf("corrupt components_invoked: %w", err)
	}
	if err := json.Unmarshal([]byte(modules), &bc.ModulesReferenced); err != nil {
		return nil, fmt.Errorf("corrupt modules_referenced: %w", err)
	}
	if len(summary) > 0 {
		decoded, err := compression.Decompress(summary)
		if err != nil {
			return nil, fmt.Errorf("corrupt result_summary: %w", err)
		}
		bc.ResultSummary = string(decoded)
	}
	bc.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp: %w", err)
	}
	if rating.Valid {
		bc.Rating = &rating.Float64
	}
	return &bc, nil
}
