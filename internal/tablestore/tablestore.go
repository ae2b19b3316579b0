// Package tablestore implements the in-process analytical table store (C2):
// named tables keyed by entity/tier/run, built with a single declarative
// CreateTableAs projection and write-once semantics.
package tablestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrTableExists is returned by CreateTableAs when the named table already
// exists in this run's namespace; table creation is write-once.
var ErrTableExists = errors.New("tablestore: table already exists")

// ColumnInfo describes one column as reported by Schema.
type ColumnInfo struct {
	Name string
	Type string
}

// Store wraps a single SQLite connection used as the tiered analytical
// store. All tiers of all entities within one run share a Store.
type Store struct {
	db *sql.DB

	mu         sync.Mutex // guards tableLocks
	tableLocks map[string]*sync.Mutex
}

// Open creates or opens the SQLite-backed store. dataDir == "" opens an
// in-memory database, an ephemeral mode for tests and single-shot runs
// that never need the file to survive the process.
func Open(dataDir string) (*Store, error) {
	dsn := "file::memory:?cache=shared"
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("tablestore: create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "pipeline.db")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("tablestore: open database: %w", err)
	}
	// A single shared connection keeps CreateTableAs/Count/Sample
	// consistent under SQLite's single-writer model; per-table mutexes
	// (below) still serialize writers to the same table name.
	db.SetMaxOpenConns(1)

	return &Store{
		db:         db,
		tableLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tableLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.tableLocks[name] = l
	}
	return l
}

// exists reports whether a table with the given name is already registered
// in sqlite_master.
func (s *Store) exists(name string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateTableAs executes `CREATE TABLE "<name>" AS <selectSQL>` against the
// store, enforcing write-once table creation. selectSQL may
// reference any table previously created in this store. args are bound
// positionally into selectSQL's placeholders.
func (s *Store) CreateTableAs(name, selectSQL string, args ...any) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	already, err := s.exists(name)
	if err != nil {
		return fmt.Errorf("tablestore: check existence of %q: %w", name, err)
	}
	if already {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	stmt := fmt.Sprintf(`CREATE TABLE %s AS %s`, quoteIdent(name), selectSQL)
	if _, err := s.db.Exec(stmt, args...); err != nil {
		return fmt.Errorf("tablestore: create table %q: %w", name, err)
	}
	return nil
}

// CreateEmptyTable creates a table with the given column definitions but no
// rows, used to satisfy the "always create an empty-but-schema-stable
// table" rule when a projection has no candidate rows.
func (s *Store) CreateEmptyTable(name string, columns []ColumnInfo) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	already, err := s.exists(name)
	if err != nil {
		return fmt.Errorf("tablestore: check existence of %q: %w", name, err)
	}
	if already {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
	}
	stmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("tablestore: create empty table %q: %w", name, err)
	}
	return nil
}

// CreateTableFromRows materializes a new table directly from row data,
// inferring a TEXT/REAL/INTEGER column type per key from the first row that
// carries a non-nil value. This is how Bronze processors load reader
// output into the store before any further transform becomes a regular
// CreateTableAs projection over that table.
func (s *Store) CreateTableFromRows(name string, rows []map[string]any) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	already, err := s.exists(name)
	if err != nil {
		return fmt.Errorf("tablestore: check existence of %q: %w", name, err)
	}
	if already {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	cols := inferColumns(rows)
	if len(cols) == 0 {
		// No rows and therefore no inferable schema: still create a valid
		// (empty) table rather than emitting `CREATE TABLE x ()`, which
		// SQLite rejects. This is the empty-source boundary case.
		cols = []string{"_placeholder"}
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(c), columnType(rows, c))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("tablestore: begin tx for %q: %w", name, err)
	}

	createStmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
	if _, err := tx.Exec(createStmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("tablestore: create table %q: %w", name, err)
	}

	if len(rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		quotedCols := make([]string, len(cols))
		for i, c := range cols {
			quotedCols[i] = quoteIdent(c)
		}
		insertStmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quoteIdent(name), strings.Join(quotedCols, ", "), placeholders)

		stmt, err := tx.Prepare(insertStmt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("tablestore: prepare insert for %q: %w", name, err)
		}
		for _, row := range rows {
			args := make([]any, len(cols))
			for i, c := range cols {
				args[i] = sqlValue(row[c])
			}
			if _, err := stmt.Exec(args...); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return fmt.Errorf("tablestore: insert row into %q: %w", name, err)
			}
		}
		_ = stmt.Close()
	}

	return tx.Commit()
}

// inferColumns returns a stable column ordering covering every key seen
// across all rows, so that rows with sparse/missing fields don't shrink
// the schema.
func inferColumns(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// sqlValue prepares a Go value for storage in a SQLite column. Nested
// maps and slices (e.g. a row's address/coordinates/features sub-record)
// have no native SQLite representation, so they are JSON-encoded; callers
// reading such a column back decode it with encoding/json.
func sqlValue(v any) any {
	switch v.(type) {
	case map[string]any, []any, []string, []map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(data)
	default:
		return v
	}
}

func columnType(rows []map[string]any, col string) string {
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case int, int32, int64:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		case bool:
			return "INTEGER"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

// Count returns the row count of the named table.
func (s *Store) Count(name string) (int64, error) {
	var n int64
	err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(name))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tablestore: count %q: %w", name, err)
	}
	return n, nil
}

// Sample returns up to k rows from the named table as generic column maps.
// Deterministic ordering is NOT guaranteed unless the caller issues
// its own ordered query via Query.
func (s *Store) Sample(name string, k int) ([]map[string]any, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT * FROM %s LIMIT ?`, quoteIdent(name)), k)
	if err != nil {
		return nil, fmt.Errorf("tablestore: sample %q: %w", name, err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

// Query runs an arbitrary SELECT against the store and returns the result
// as generic column maps. Used by enrichment and scoring passes that need
// their own ORDER BY / WHERE clauses.
func (s *Store) Query(selectSQL string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.Query(selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("tablestore: query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = raw[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Schema returns the column name/type pairs for the named table, via
// PRAGMA table_info.
func (s *Store) Schema(name string) ([]ColumnInfo, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("tablestore: schema %q: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []ColumnInfo
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("tablestore: scan schema row: %w", err)
		}
		cols = append(cols, ColumnInfo{Name: colName, Type: colType})
	}
	return cols, rows.Err()
}

// Drop removes the named table.
func (s *Store) Drop(name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("tablestore: drop %q: %w", name, err)
	}
	return nil
}

// DropRun drops every table whose name contains "_<runId>", tearing down a
// completed run's intermediate tables.
func (s *Store) DropRun(runID string) error {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	if err != nil {
		return fmt.Errorf("tablestore: list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return fmt.Errorf("tablestore: scan table name: %w", err)
		}
		names = append(names, n)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	needle := "_" + runID
	for _, n := range names {
		if strings.Contains(n, needle) {
			if err := s.Drop(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// quoteIdent wraps a table name in double quotes for use as a SQL
// identifier; table names are always generated internally from entity/tier/
// runId tokens, never from untrusted input.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
