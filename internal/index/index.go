// Package index implements the pluggable similarity index over the
// code and docs corpora. Ranking is SQLite FTS5 bm25 normalized into
// [0,1]: lexical, deterministic, and monotone for exact matches,
// which is the whole contract the callers rely on.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	holoerr "holodex/internal/errors"
	"holodex/internal/logging"
)

// Corpus identifies which index a call addresses
type Corpus string

const (
	// CodeCorpus indexes source symbols
	CodeCorpus Corpus = "code"
	// DocsCorpus indexes protocol/knowledge documents
	DocsCorpus Corpus = "doc"
)

// Entry is one indexed unit: a code symbol or a document
type Entry struct {
	Path          string    `json:"path"`
	SymbolName    string    `json:"symbolName"`
	Kind          string    `json:"kind"`
	SummaryText   string    `json:"summaryText"`
	LastIndexedAt time.Time `json:"lastIndexedAt"`
}

// Match is one search result with its similarity score in [0,1]
type Match struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Scanner produces the entries for one corpus rebuild
type Scanner interface {
	Scan(ctx context.Context) ([]Entry, error)
	Fingerprint() (string, error)
}

// Index serves similarity queries over both corpora. It shares the
// persistent store's SQLite connection; rebuilds are single-writer
// and searches keep seeing the previous index until the swap commits.
type Index struct {
	conn     *sql.DB
	logger   *logging.Logger
	scanners map[Corpus]Scanner
}

// New creates the similarity index on an open connection. conn may be
// nil when the store is degraded; every operation then reports
// IndexUnavailable.
func New(conn *sql.DB, logger *logging.Logger) (*Index, error) {
	idx := &Index{
		conn:     conn,
		logger:   logger.Component("index"),
		scanners: make(map[Corpus]Scanner),
	}
	if conn != nil {
		if err := idx.initSchema(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// RegisterScanner installs the entry source for a corpus
func (idx *Index) RegisterScanner(corpus Corpus, s Scanner) {
	idx.scanners[corpus] = s
}

func (idx *Index) initSchema() error {
	for _, corpus := range []Corpus{CodeCorpus, DocsCorpus} {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				path TEXT NOT NULL,
				symbol_name TEXT NOT NULL,
				kind TEXT NOT NULL,
				summary_text TEXT NOT NULL,
				last_indexed_at TEXT NOT NULL
			)`, corpus),
			fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s_fts USING fts5(
				symbol_name,
				summary_text,
				content='%s_entries',
				content_rowid='id'
			)`, corpus, corpus),
		}
		for _, stmt := range stmts {
			if _, err := idx.conn.Exec(stmt); err != nil {
				return fmt.Errorf("failed to create %s index schema: %w", corpus, err)
			}
		}
	}
	_, err := idx.conn.Exec(`CREATE TABLE IF NOT EXISTS index_meta (
		corpus TEXT PRIMARY KEY,
		built_at TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		entry_count INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create index_meta: %w", err)
	}
	return nil
}

// Rebuild scans the corpus and atomically swaps the new entries in.
// The scan runs fully off to the side; a scan failure leaves the
// previous index serving queries unchanged.
func (idx *Index) Rebuild(ctx context.Context, corpus Corpus) error {
	if idx.conn == nil {
		return holoerr.New(holoerr.IndexUnavailable, "no database connection for index", nil)
	}
	scanner, ok := idx.scanners[corpus]
	if !ok {
		return holoerr.New(holoerr.InternalError, fmt.Sprintf("no scanner registered for corpus %s", corpus), nil)
	}

	start := time.Now()
	entries, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan of %s corpus failed: %w", corpus, err)
	}
	fingerprint, err := scanner.Fingerprint()
	if err != nil {
		return fmt.Errorf("fingerprint of %s corpus failed: %w", corpus, err)
	}

	now := time.Now().UTC()
	tx, err := idx.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s_entries", corpus)); err != nil {
		return fmt.Errorf("failed to clear %s entries: %w", corpus, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s_entries (path, symbol_name, kind, summary_text, last_indexed_at)
		VALUES (?, ?, ?, ?, ?)
	`, corpus))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.Path, e.SymbolName, e.Kind, e.SummaryText, now.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.Path, err)
		}
	}

	// Repopulate the FTS table from the content table in the same
	// transaction, so the swap is all-or-nothing to readers.
	if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s_fts(%s_fts) VALUES('rebuild')", corpus, corpus)); err != nil {
		return fmt.Errorf("failed to rebuild fts: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO index_meta (corpus, built_at, fingerprint, entry_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(corpus) DO UPDATE SET
			built_at = excluded.built_at,
			fingerprint = excluded.fingerprint,
			entry_count = excluded.entry_count
	`, string(corpus), now.Format(time.RFC3339Nano), fingerprint, len(entries))
	if err != nil {
		return fmt.Errorf("failed to update index meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebuild: %w", err)
	}

	idx.logger.Info("Corpus rebuilt", map[string]interface{}{
		"corpus":  string(corpus),
		"entries": len(entries),
		"took":    time.Since(start).String(),
	})
	return nil
}

// Search returns up to limit matches ranked by similarity. An index
// that has been built but holds no entries returns an empty list; an
// index that has never been built returns IndexUnavailable.
func (idx *Index) Search(query string, limit int, corpus Corpus) ([]Match, error) {
	if idx.conn == nil {
		return nil, holoerr.New(holoerr.IndexUnavailable, "no database connection for index", nil)
	}
	if _, err := idx.meta(corpus); err != nil {
		return nil, err
	}

	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := idx.conn.Query(fmt.Sprintf(`
		SELECT e.path, e.symbol_name, e.kind, e.summary_text, e.last_indexed_at, bm25(%s_fts)
		FROM %s_fts f
		JOIN %s_entries e ON e.id = f.rowid
		WHERE %s_fts MATCH ?
		ORDER BY bm25(%s_fts) ASC, e.path ASC, e.symbol_name ASC
		LIMIT ?
	`, corpus, corpus, corpus, corpus, corpus), ftsQuery, limit)
	if err != nil {
		// An unparseable query is a caller problem, not an index crash
		return nil, holoerr.New(holoerr.QueryInvalid, "query could not be parsed", err)
	}
	defer rows.Close()

	normalized := strings.ToLower(strings.TrimSpace(query))
	var matches []Match
	for rows.Next() {
		var (
			e    Entry
			ts   string
			rank float64
		)
		if err := rows.Scan(&e.Path, &e.SymbolName, &e.Kind, &e.SummaryText, &ts, &rank); err != nil {
			return nil, err
		}
		e.LastIndexedAt, _ = time.Parse(time.RFC3339Nano, ts)
		matches = append(matches, Match{Entry: e, Score: scoreFromRank(rank, normalized, e)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Exact-match bonuses can reorder; re-sort with the deterministic
	// tie-break before returning.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Entry.Path != matches[j].Entry.Path {
			return matches[i].Entry.Path < matches[j].Entry.Path
		}
		return matches[i].Entry.SymbolName < matches[j].Entry.SymbolName
	})
	return matches, nil
}

// Age returns how old the corpus index is. Never built reports
// IndexUnavailable rather than a zero age, so staleness checks cannot
// silently treat "missing" as "fresh".
func (idx *Index) Age(corpus Corpus) (time.Duration, error) {
	m, err := idx.meta(corpus)
	if err != nil {
		return 0, err
	}
	return time.Since(m.builtAt), nil
}

// Count returns the number of entries in the corpus
func (idx *Index) Count(corpus Corpus) (int, error) {
	m, err := idx.meta(corpus)
	if err != nil {
		return 0, err
	}
	return m.entryCount, nil
}

// Fingerprint returns the corpus fingerprint recorded at last rebuild
func (idx *Index) Fingerprint(corpus Corpus) (string, error) {
	m, err := idx.meta(corpus)
	if err != nil {
		return "", err
	}
	return m.fingerprint, nil
}

// CurrentFingerprint recomputes the fingerprint from the filesystem
func (idx *Index) CurrentFingerprint(corpus Corpus) (string, error) {
	scanner, ok := idx.scanners[corpus]
	if !ok {
		return "", holoerr.New(holoerr.InternalError, fmt.Sprintf("no scanner registered for corpus %s", corpus), nil)
	}
	return scanner.Fingerprint()
}

type metaRow struct {
	builtAt     time.Time
	fingerprint string
	entryCount  int
}

func (idx *Index) meta(corpus Corpus) (*metaRow, error) {
	if idx.conn == nil {
		return nil, holoerr.New(holoerr.IndexUnavailable, "no database connection for index", nil)
	}
	var (
		m  metaRow
		ts string
	)
	err := idx.conn.QueryRow(
		"SELECT built_at, fingerprint, entry_count FROM index_meta WHERE corpus = ?",
		string(corpus),
	).Scan(&ts, &m.fingerprint, &m.entryCount)
	if err == sql.ErrNoRows {
		return nil, holoerr.New(holoerr.IndexUnavailable,
			fmt.Sprintf("%s index has never been built, run reindex first", corpus), nil)
	}
	if err != nil {
		return nil, err
	}
	m.builtAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("corrupt index meta: %w", err)
	}
	return &m, nil
}

// scoreFromRank maps an FTS5 bm25 rank onto [0,1]. bm25 values are
// negative with better matches more negative; an entry whose symbol
// or summary equals the query scores the maximum.
func scoreFromRank(rank float64, normalizedQuery string, e Entry) float64 {
	if normalizedQuery != "" {
		if strings.ToLower(e.SymbolName) == normalizedQuery ||
			strings.ToLower(strings.TrimSpace(e.SummaryText)) == normalizedQuery {
			return 1.0
		}
	}
	s := -rank
	if s < 0 {
		s = 0
	}
	return s / (s + 1)
}

// buildFTSQuery turns free text into a safe FTS5 OR-query. Tokens are
// quoted so user punctuation cannot break MATCH syntax.
func buildFTSQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r == '_' || r == '.' || r == '/' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9'))
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
