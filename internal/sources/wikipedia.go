package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// wikipediaRow mirrors one row of the articles ⋈ page_summaries join.
// Nullable columns use sql.Null* so a missing
// page_summaries match (or a null optional column) decodes cleanly.
type wikipediaRow struct {
	PageID         int             `db:"pageid"`
	Title          string          `db:"title"`
	URL            string          `db:"url"`
	RelevanceScore sql.NullFloat64 `db:"relevance_score"`
	Latitude       sql.NullFloat64 `db:"latitude"`
	Longitude      sql.NullFloat64 `db:"longitude"`
	Categories     sql.NullString  `db:"categories"`
	ShortSummary   sql.NullString  `db:"short_summary"`
	LongSummary    sql.NullString  `db:"long_summary"`
	KeyTopics      sql.NullString  `db:"key_topics"`
	BestCity       sql.NullString  `db:"best_city"`
	BestState      sql.NullString  `db:"best_state"`
}

// wikipediaQuery implements the articles ⋈ page_summaries join:
// inner join on pageid/page_id, filter long_summary non-empty, ordered by
// relevance_score DESC so that a LIMIT gives a deterministic top-N.
const wikipediaQuery = `
SELECT
	a.pageid AS pageid,
	a.title AS title,
	a.url AS url,
	a.relevance_score AS relevance_score,
	a.latitude AS latitude,
	a.longitude AS longitude,
	a.categories AS categories,
	s.short_summary AS short_summary,
	s.long_summary AS long_summary,
	s.key_topics AS key_topics,
	s.best_city AS best_city,
	s.best_state AS best_state
FROM articles a
JOIN page_summaries s ON a.pageid = s.page_id
WHERE s.long_summary IS NOT NULL AND s.long_summary <> ''
ORDER BY a.relevance_score DESC
`

// WikipediaReader reads the Wikipedia article/summary relational store.
// The DSN identifies a database reachable through database/sql;
// the concrete driver is supplied by the caller's import (the engine
// itself only depends on database/sql + sqlx).
type WikipediaReader struct {
	db *sqlx.DB
}

// NewWikipediaReader wraps an already-open *sql.DB. Accepting the
// connection rather than a DSN string keeps this reader ignorant of the
// driver import (sqlite3/postgres/mysql); the store connection is a
// collaborator, not something this package owns.
func NewWikipediaReader(db *sql.DB, driverName string) *WikipediaReader {
	return &WikipediaReader{db: sqlx.NewDb(db, driverName)}
}

// Read implements Reader. path is accepted for interface symmetry with
// the file-based readers but ignored; the store connection is already
// bound at construction time. limit, when > 0, becomes a SQL LIMIT so
// sampling stays deterministic.
func (r *WikipediaReader) Read(ctx context.Context, path string, limit int) (RawTable, ReadStats, error) {
	query := wikipediaQuery
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var dbRows []wikipediaRow
	if err := r.db.SelectContext(ctx, &dbRows, query); err != nil {
		return RawTable{}, ReadStats{SourcePath: path}, fmt.Errorf("%w: %v", ErrSourceUnparseable, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]Row, 0, len(dbRows))
	for _, d := range dbRows {
		fields := map[string]any{
			"page_id":         d.PageID,
			"title":           d.Title,
			"url":             d.URL,
			"relevance_score": nullFloatOrZero(d.RelevanceScore),
			"latitude":        nullFloatOrNil(d.Latitude),
			"longitude":       nullFloatOrNil(d.Longitude),
			"categories":      splitCSV(d.Categories),
			"short_summary":   nullStringOrNil(d.ShortSummary),
			"long_summary":    nullStringOrNil(d.LongSummary),
			"key_topics":      splitCSV(d.KeyTopics),
			"best_city":       nullStringOrNil(d.BestCity),
			"best_state":      nullStringOrNil(d.BestState),
			"ingested_at":     now,
			"source_file":     "wikipedia:articles+page_summaries",
		}
		rows = append(rows, Row{Fields: fields})
	}

	stats := ReadStats{RowsRead: len(rows), RowsCorrupt: 0, SourcePath: path}
	return RawTable{Rows: rows, SourcePath: path}, stats, nil
}

func nullFloatOrZero(v sql.NullFloat64) float64 {
	if !v.Valid {
		return 0
	}
	return v.Float64
}

func nullFloatOrNil(v sql.NullFloat64) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func nullStringOrNil(v sql.NullString) any {
	if !v.Valid || v.String == "" {
		return nil
	}
	return v.String
}

// splitCSV turns a comma-separated categories/key_topics column into a
// []string, treating null/empty as an empty slice per the "arrays
// missing ≡ empty array" coercion rule.
func splitCSV(v sql.NullString) []string {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return []string{}
	}
	parts := strings.Split(v.String, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
