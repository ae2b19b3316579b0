// Package tiers implements the Bronze/Silver/Gold processors (C3): one
// file per entity plus the shared cleaning, validation, and geographic
// hierarchy helpers they all call. Each entity's Validate function
// follows the single Validate(row) → (row, []ValidationIssue) shape
// rather than per-field decorator validators, so validation_status and
// data_quality_score are always computed from one issues list.
package tiers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"realestate-kb-pipeline/internal/core"
)

// clampUnit clamps a float into [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clamp clamps v into [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeStringSlice lowercases, trims, dedupes, and sorts a string
// slice ascending — the shared array-normalization rule every Silver
// processor applies.
func normalizeStringSlice(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		t := strings.ToLower(strings.TrimSpace(s))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// trimText trims leading/trailing whitespace and collapses internal
// whitespace runs in long-form text fields.
func trimText(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// presenceIssues converts weighted field-presence checks into issues:
// each absent field yields one ValidationIssue carrying its quality
// weight as severity. The issues list is the single source both
// data_quality_score and validation_status are derived from.
func presenceIssues(weights map[string]float64, present map[string]bool) []core.ValidationIssue {
	var issues []core.ValidationIssue
	for field, w := range weights {
		if !present[field] {
			issues = append(issues, core.ValidationIssue{Field: field, Reason: "missing", Severity: w})
		}
	}
	return issues
}

// issueScore derives data_quality_score from a row's issues list: a
// perfect 1.0 minus each issue's severity, rounded to 9 decimal places
// (so weights summing to 1 leave exactly 0, not float residue) and
// clamped to [0,1].
func issueScore(issues []core.ValidationIssue) float64 {
	score := 1.0
	for _, issue := range issues {
		score -= issue.Severity
	}
	return clampUnit(math.Round(score*1e9) / 1e9)
}

// validationStatus applies the per-entity quality threshold.
func validationStatus(score, threshold float64) string {
	if score >= threshold {
		return "validated"
	}
	return "low_quality"
}

// asString returns v as a trimmed string, or "" when v is nil or not a
// string (a corrupt/missing field never panics a Silver transform).
func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// asFloat coerces a bronze field (float64, int, or numeric string) into a
// float64 per the "numeric strings parsed with locale-independent rules"
// coercion rule. Non-finite literals ("NaN", "Inf", "-Inf") are rejected
// even though strconv.ParseFloat accepts them, since source data
// spelling out "NaN" means the field is unusable, not that it holds the
// IEEE-754 not-a-number value.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// asStringSlice coerces a bronze/silver field into a []string. A value
// read back out of the table store arrives as a JSON-encoded string
// (tablestore.sqlValue's encoding for nested slices), so a string value
// is decoded as JSON before falling back to treating it as empty.
func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out
		}
		return []string{}
	default:
		return []string{}
	}
}

// asMap coerces a bronze/silver field into a nested map[string]any,
// decoding the JSON-encoded string form tablestore round-trips produce,
// and returning nil (not an empty map) when absent, per the "nested
// objects missing ≡ null sub-record" coercion rule.
func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out
		}
		return nil
	default:
		return nil
	}
}

// RawRow is the shape internal/sources.Row reduces to once the reader
// layer is done with it; tiers depends on this instead of importing
// internal/sources directly, since Bronze is the only stage that needs
// it and the shape is intentionally minimal.
type RawRow struct {
	Fields  map[string]any
	RawText string
}

// bronzeRows turns raw reader rows into the canonical Bronze row shape:
// primary key checked non-null, a _corrupt_record column populated for
// rows that failed reader-level coercion, are missing their key, or fail
// the entity's own schema coercion check (e.g. a numeric field holding an
// unparseable string). It never drops a row; the caller decides whether
// the batch aborts (each Bronze processor aborts only when no row decoded
// as an object).
func bronzeRows(rows []RawRow, pkField string, schemaOK func(fields map[string]any) bool) ([]map[string]any, int64) {
	out := make([]map[string]any, 0, len(rows))
	var corrupt int64
	for _, row := range rows {
		if row.Fields == nil {
			corrupt++
			out = append(out, map[string]any{
				pkField:           nil,
				"_corrupt_record": row.RawText,
				"ingested_at":     nil,
				"source_file":     nil,
			})
			continue
		}

		pk := row.Fields[pkField]
		rec := map[string]any{"_corrupt_record": nil}
		for k, v := range row.Fields {
			rec[k] = v
		}
		if pk == nil || pk == "" || (schemaOK != nil && !schemaOK(row.Fields)) {
			corrupt++
			rec["_corrupt_record"] = fmt.Sprintf("%v", row.Fields)
		}
		out = append(out, rec)
	}
	return out, corrupt
}

// RowStore is the minimal store surface a tier processor needs: it loads
// an input table's rows as generic column maps, transforms them in Go,
// then materializes the result with CreateTableFromRows — the
// equivalent, for row shapes that don't reduce to one SQL expression, of
// the single declarative CreateTableAs projection the store otherwise
// enforces.
type RowStore interface {
	Query(selectSQL string, args ...any) ([]map[string]any, error)
	CreateTableFromRows(name string, rows []map[string]any) error
}
