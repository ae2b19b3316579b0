// Package sources implements the per-input readers (C1): property and
// neighborhood JSON, a Wikipedia relational store, and the location
// reference file. Every reader returns a RawTable plus ReadStats and
// never aborts on a single bad row — only a missing path or a top-level
// parse failure is fatal.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrSourceMissing is returned when the configured path does not exist.
var ErrSourceMissing = errors.New("sources: path does not exist")

// ErrSourceUnparseable is returned when the top-level document cannot be
// parsed at all (e.g. the file is not a JSON array).
var ErrSourceUnparseable = errors.New("sources: top-level document is not parseable")

// Row is a single raw record as decoded from the source, before any tier
// processing. Corrupt rows carry nil Fields and a non-empty RawText.
type Row struct {
	Fields  map[string]any
	RawText string // populated only when the row failed coercion
}

// RawTable is the unprocessed output of a Reader.
type RawTable struct {
	Rows       []Row
	SourcePath string
}

// ReadStats summarizes one Read call, independent of RawTable so callers
// can log it without re-walking the rows.
type ReadStats struct {
	RowsRead    int
	RowsCorrupt int
	SourcePath  string
}

// Reader is implemented by every source-specific reader in this package.
type Reader interface {
	Read(ctx context.Context, path string, limit int) (RawTable, ReadStats, error)
}

// readJSONDocuments loads path as either a single JSON array file or a
// directory of JSON array files concatenated by name. It returns
// one json.RawMessage per top-level array element, in source order.
func readJSONDocuments(path string) ([]json.RawMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("sources: stat %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("sources: read dir %s: %w", path, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var all []json.RawMessage
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("sources: read %s: %w", f, err)
		}
		var docs []json.RawMessage
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnparseable, f, err)
		}
		all = append(all, docs...)
	}
	return all, nil
}

// decodeRows turns each raw JSON element into a Row, normalizing field
// values per the type coercion rules. Elements that fail to
// unmarshal into an object become corrupt rows instead of failing the
// whole read.
func decodeRows(docs []json.RawMessage, limit int) ([]Row, int) {
	rows := make([]Row, 0, len(docs))
	corrupt := 0
	for _, doc := range docs {
		if limit > 0 && len(rows) >= limit {
			break
		}
		var fields map[string]any
		if err := json.Unmarshal(doc, &fields); err != nil {
			rows = append(rows, Row{RawText: string(doc)})
			corrupt++
			continue
		}
		rows = append(rows, Row{Fields: normalizeFields(fields)})
	}
	return rows, corrupt
}

// normalizeFields applies the type coercion rules recursively to the keys
// present: strings trimmed (empty string becomes nil), nested objects and
// arrays normalized element by element. Keys absent from the input stay
// absent; no empty array or object is synthesized for them.
func normalizeFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return nil
		}
		return trimmed
	case map[string]any:
		return normalizeFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// asFloat coerces a field value read by a Reader into a float64, honoring
// the "numeric strings parsed with locale-independent rules" rule; it
// returns false (never panics) when the value can't be coerced, which is
// how a corrupt numeric field surfaces into tier processing.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asStringSlice coerces a field into a []string, treating a missing or
// nil value as an empty slice (never nil).
func asStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// withLineage stamps ingested_at/source_file onto every non-corrupt row,
// which is what Bronze processors expect to find already present.
func withLineage(rows []Row, sourcePath string, now time.Time) []Row {
	for i := range rows {
		if rows[i].Fields == nil {
			continue
		}
		rows[i].Fields["ingested_at"] = now.UTC().Format(time.RFC3339)
		rows[i].Fields["source_file"] = sourcePath
	}
	return rows
}
