package tiers

import (
	"fmt"
	"time"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
)

const neighborhoodQualityThreshold = 0.3

var neighborhoodQualityWeights = map[string]float64{
	"city":         0.2,
	"state":        0.2,
	"description":  0.15,
	"demographics": 0.2,
	"amenities":    0.1,
	"coordinates":  0.15,
}

func neighborhoodSchemaOK(fields map[string]any) bool {
	demo := asMap(fields["demographics"])
	for _, key := range []string{"population", "households", "median_age", "median_income"} {
		v, present := demo[key]
		if !present || v == nil {
			continue
		}
		if _, ok := asFloat(v); !ok {
			return false
		}
	}
	return true
}

// NeighborhoodBronze materializes the bronze table from raw reader rows.
func NeighborhoodBronze(store RowStore, runID string, rows []RawRow) (string, int64, int64, error) {
	tableName := fmt.Sprintf("neighborhood_bronze_%s", runID)

	out, corrupt := bronzeRows(rows, "neighborhood_id", neighborhoodSchemaOK)
	undecodable := 0
	for _, row := range rows {
		if row.Fields == nil {
			undecodable++
		}
	}
	if len(rows) > 0 && undecodable == len(rows) {
		return "", 0, corrupt, fmt.Errorf("tiers: neighborhood bronze: all %d rows corrupt", len(rows))
	}
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, 0, fmt.Errorf("tiers: neighborhood bronze: %w", err)
	}
	return tableName, int64(len(out)), corrupt, nil
}

// NeighborhoodSilver cleans Bronze: validates demographic
// ranges (out-of-range values are nulled and penalize the quality
// score), computes demographic_completeness, and assigns income_bracket.
func NeighborhoodSilver(store RowStore, runID, bronzeTable string) (string, int64, error) {
	bronzeRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, bronzeTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: neighborhood silver: read bronze: %w", err)
	}

	out := make([]map[string]any, 0, len(bronzeRows))
	for _, row := range bronzeRows {
		cleaned, issues := ValidateNeighborhood(row)
		score := issueScore(issues)
		cleaned["data_quality_score"] = score
		cleaned["validation_status"] = validationStatus(score, neighborhoodQualityThreshold)
		out = append(out, cleaned)
	}

	tableName := fmt.Sprintf("neighborhood_silver_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: neighborhood silver: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// demographicRangePenalty is the quality-score deduction for each
// demographic value found outside its allowed range (the value itself is
// nulled out rather than carried through).
const demographicRangePenalty = 0.05

// ValidateNeighborhood cleans one bronze neighborhood row and reports
// every issue found; the caller derives data_quality_score and
// validation_status from the issues list.
func ValidateNeighborhood(row map[string]any) (map[string]any, []core.ValidationIssue) {
	city := asString(row["city"])
	state := asString(row["state"])
	description := trimText(asString(row["description"]))
	demo := asMap(row["demographics"])
	coords := asMap(row["coordinates"])

	population, popOK := validatedFloat(demo["population"], 0, 1e9)
	households, hhOK := validatedFloat(demo["households"], 0, 1e9)
	medianAge, ageOK := validatedFloat(demo["median_age"], 0, 120)
	medianIncome, incomeOK := validatedFloat(demo["median_income"], 0, 1e9)

	completenessFields := []bool{popOK, hhOK, ageOK, incomeOK}
	completeness := 0.0
	for _, ok := range completenessFields {
		if ok {
			completeness += 1.0 / float64(len(completenessFields))
		}
	}

	present := map[string]bool{
		"city":         city != "",
		"state":        state != "",
		"description":  description != "",
		"demographics": demo != nil,
		"amenities":    len(asStringSlice(row["amenities"])) > 0,
		"coordinates":  coords != nil,
	}
	issues := presenceIssues(neighborhoodQualityWeights, present)
	for _, check := range []struct {
		field string
		ok    bool
	}{
		{"population", popOK},
		{"households", hhOK},
		{"median_age", ageOK},
		{"median_income", incomeOK},
	} {
		if !check.ok && demo[check.field] != nil {
			issues = append(issues, core.ValidationIssue{
				Field: check.field, Reason: "out of range", Severity: demographicRangePenalty,
			})
		}
	}

	out := map[string]any{
		"neighborhood_id":          row["neighborhood_id"],
		"name":                     asString(row["name"]),
		"city":                     city,
		"state":                    state,
		"county":                   asString(row["county"]),
		"city_normalized":          normalizeCity(city),
		"state_normalized":         normalizeState(state),
		"description":              description,
		"amenities":                normalizeStringSlice(asStringSlice(row["amenities"])),
		"characteristics":          normalizeStringSlice(asStringSlice(row["characteristics"])),
		"population":               nullableFloat(popOK, population),
		"households":               nullableFloat(hhOK, households),
		"median_age":               nullableFloat(ageOK, medianAge),
		"median_income":            nullableFloat(incomeOK, medianIncome),
		"demographic_completeness": completeness,
		"income_bracket":           incomeBracket(incomeOK, medianIncome),
		"processed_at":             time.Now().UTC().Format(time.RFC3339),
		"ingested_at":              row["ingested_at"],
		"source_file":              row["source_file"],
	}
	return out, issues
}

// validatedFloat coerces v and checks it falls in [lo, hi]; an
// out-of-range or uncoercible value is reported as not-ok so it is
// nulled out and left out of demographic_completeness; ValidateNeighborhood
// adds a demographicRangePenalty issue for an out-of-range value.
func validatedFloat(v any, lo, hi float64) (float64, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	if f < lo || f > hi {
		return 0, false
	}
	return f, true
}

// incomeBracket buckets median_income into the income bands.
func incomeBracket(ok bool, income float64) string {
	switch {
	case !ok:
		return "unknown"
	case income < 30000:
		return "low"
	case income < 60000:
		return "lower-middle"
	case income < 100000:
		return "middle"
	case income < 150000:
		return "upper-middle"
	default:
		return "high"
	}
}

// NeighborhoodGold assigns correlation_uuid, resolves geographic
// hierarchy, and assembles embedding_text.
func NeighborhoodGold(store RowStore, runID, silverTable string, refs []LocationRef) (string, int64, error) {
	silverRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, silverTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: neighborhood gold: read silver: %w", err)
	}

	out := make([]map[string]any, 0, len(silverRows))
	for _, row := range silverRows {
		neighborhoodID := asString(row["neighborhood_id"])
		hierarchy := ResolveHierarchy(refs, asString(row["city_normalized"]), asString(row["state_normalized"]), asString(row["name"]))

		gold := cloneRow(row)
		gold["correlation_uuid"] = CorrelationUUID(string(core.EntityNeighborhood), neighborhoodID)
		gold["county_resolved"] = hierarchy.CountyResolved
		gold["parent_city"] = hierarchy.ParentCity
		gold["parent_county"] = hierarchy.ParentCounty
		gold["parent_state"] = hierarchy.ParentState
		gold["location_hierarchy"] = hierarchy.LocationHierarchy
		gold["embedding_text"] = NeighborhoodEmbeddingText(row)
		out = append(out, gold)
	}

	tableName := fmt.Sprintf("neighborhood_gold_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: neighborhood gold: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// NeighborhoodEmbeddingText assembles the neighborhood template.
func NeighborhoodEmbeddingText(row map[string]any) string {
	return embedding.NeighborhoodText(
		asString(row["name"]),
		asString(row["city_normalized"]),
		asString(row["state_normalized"]),
		asStringSlice(row["characteristics"]),
		asString(row["description"]),
	)
}
