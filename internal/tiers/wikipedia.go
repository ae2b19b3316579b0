package tiers

import (
	"fmt"
	"time"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
)

const (
	wikipediaQualityThreshold = 0.5
	wikipediaConfidenceGate   = 0.6
)

var wikipediaQualityWeights = map[string]float64{
	"long_summary":     0.3,
	"best_city":        0.15,
	"best_state":       0.15,
	"key_topics":       0.15,
	"relevance_score":  0.15,
	"confidence_score": 0.1,
}

func wikipediaSchemaOK(fields map[string]any) bool {
	for _, key := range []string{"relevance_score", "latitude", "longitude"} {
		v, present := fields[key]
		if !present || v == nil {
			continue
		}
		if _, ok := asFloat(v); !ok {
			return false
		}
	}
	return true
}

// WikipediaBronze materializes the bronze table from raw reader rows.
// page_id arrives as an int (the reader already typed it), so the
// presence check compares against the zero value rather than "".
func WikipediaBronze(store RowStore, runID string, rows []RawRow) (string, int64, int64, error) {
	tableName := fmt.Sprintf("wikipedia_bronze_%s", runID)

	out := make([]map[string]any, 0, len(rows))
	var corrupt int64
	undecodable := 0
	for _, row := range rows {
		if row.Fields == nil {
			corrupt++
			undecodable++
			out = append(out, map[string]any{
				"page_id":         nil,
				"_corrupt_record": row.RawText,
			})
			continue
		}
		rec := map[string]any{"_corrupt_record": nil}
		for k, v := range row.Fields {
			rec[k] = v
		}
		pageID, _ := asFloat(row.Fields["page_id"])
		if pageID <= 0 || !wikipediaSchemaOK(row.Fields) {
			corrupt++
			rec["_corrupt_record"] = fmt.Sprintf("%v", row.Fields)
		}
		out = append(out, rec)
	}

	if len(rows) > 0 && undecodable == len(rows) {
		return "", 0, corrupt, fmt.Errorf("tiers: wikipedia bronze: all %d rows corrupt", len(rows))
	}
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, 0, fmt.Errorf("tiers: wikipedia bronze: %w", err)
	}
	return tableName, int64(len(out)), corrupt, nil
}

// WikipediaSilver cleans Bronze: gates has_valid_location on
// confidence_score ≥ 0.6, computes location_specificity, and derives
// relevance_category from a composite score.
func WikipediaSilver(store RowStore, runID, bronzeTable string) (string, int64, error) {
	bronzeRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, bronzeTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: wikipedia silver: read bronze: %w", err)
	}

	out := make([]map[string]any, 0, len(bronzeRows))
	for _, row := range bronzeRows {
		cleaned, issues := ValidateWikipedia(row)
		score := issueScore(issues)
		cleaned["data_quality_score"] = score
		cleaned["validation_status"] = validationStatus(score, wikipediaQualityThreshold)
		out = append(out, cleaned)
	}

	tableName := fmt.Sprintf("wikipedia_silver_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: wikipedia silver: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// ValidateWikipedia cleans one bronze wikipedia row and reports every
// issue found; the caller derives data_quality_score and
// validation_status from the issues list.
func ValidateWikipedia(row map[string]any) (map[string]any, []core.ValidationIssue) {
	bestCity := asString(row["best_city"])
	bestState := asString(row["best_state"])
	longSummary := trimText(asString(row["long_summary"]))
	keyTopics := normalizeStringSlice(asStringSlice(row["key_topics"]))
	categories := normalizeStringSlice(asStringSlice(row["categories"]))
	relevance, _ := asFloat(row["relevance_score"])
	confidence, hasConfidence := asFloat(row["confidence_score"])

	hasValidLocation := hasConfidence && confidence >= wikipediaConfidenceGate && (bestCity != "" || bestState != "")

	present := map[string]bool{
		"long_summary":     longSummary != "",
		"best_city":        bestCity != "",
		"best_state":       bestState != "",
		"key_topics":       len(keyTopics) > 0,
		"relevance_score":  relevance > 0,
		"confidence_score": hasConfidence,
	}
	issues := presenceIssues(wikipediaQualityWeights, present)

	specificity := locationSpecificity(bestCity, bestState)
	// Composite relevance weights confidence_score over the raw
	// relevance_score: a highly-confident location match on an article
	// with no independent relevance_score should still read as relevant.
	relevanceScore := clampUnit(confidence*0.7 + (relevance/100)*0.3)
	category := relevanceCategory(relevanceScore)

	out := map[string]any{
		"page_id":              row["page_id"],
		"title":                asString(row["title"]),
		"url":                  asString(row["url"]),
		"best_city":            bestCity,
		"best_state":           bestState,
		"short_summary":        trimText(asString(row["short_summary"])),
		"long_summary":         longSummary,
		"categories":           categories,
		"key_topics":           keyTopics,
		"latitude":             row["latitude"],
		"longitude":            row["longitude"],
		"relevance_score":      relevance,
		"confidence_score":     nullableFloat(hasConfidence, confidence),
		"has_valid_location":   hasValidLocation,
		"location_specificity": specificity,
		"relevance_category":   category,
		"processed_at":         time.Now().UTC().Format(time.RFC3339),
		"ingested_at":          row["ingested_at"],
		"source_file":          row["source_file"],
	}
	return out, issues
}

// locationSpecificity classifies how specific a Wikipedia article's
// location attribution is.
func locationSpecificity(city, state string) string {
	switch {
	case city != "" && state != "":
		return "city_and_state"
	case state != "":
		return "state_only"
	case city != "":
		return "city_only"
	default:
		return "none"
	}
}

// relevanceCategory derives a coarse bucket from the composite
// location-relevance score computed in ValidateWikipedia.
func relevanceCategory(score float64) string {
	switch {
	case score >= 0.8:
		return "highly_relevant"
	case score >= 0.5:
		return "relevant"
	case score >= 0.2:
		return "marginally_relevant"
	default:
		return "not_relevant"
	}
}

// WikipediaGold assigns correlation_uuid, resolves geographic hierarchy,
// and assembles embedding_text.
func WikipediaGold(store RowStore, runID, silverTable string, refs []LocationRef) (string, int64, error) {
	silverRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, silverTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: wikipedia gold: read silver: %w", err)
	}

	out := make([]map[string]any, 0, len(silverRows))
	for _, row := range silverRows {
		pageID := fmt.Sprintf("%v", row["page_id"])
		hierarchy := ResolveHierarchy(refs, asString(row["best_city"]), asString(row["best_state"]), "")

		gold := cloneRow(row)
		gold["correlation_uuid"] = CorrelationUUID(string(core.EntityWikipedia), pageID)
		gold["county_resolved"] = hierarchy.CountyResolved
		gold["parent_city"] = hierarchy.ParentCity
		gold["parent_county"] = hierarchy.ParentCounty
		gold["parent_state"] = hierarchy.ParentState
		gold["location_hierarchy"] = hierarchy.LocationHierarchy
		gold["embedding_text"] = WikipediaEmbeddingText(row)
		out = append(out, gold)
	}

	tableName := fmt.Sprintf("wikipedia_gold_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: wikipedia gold: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// WikipediaEmbeddingText assembles the wikipedia template,
// preferring long_summary and falling back to short_summary.
func WikipediaEmbeddingText(row map[string]any) string {
	summary := asString(row["long_summary"])
	if summary == "" {
		summary = asString(row["short_summary"])
	}
	return embedding.WikipediaText(
		asString(row["title"]),
		asString(row["best_city"]),
		asString(row["best_state"]),
		asStringSlice(row["key_topics"]),
		summary,
	)
}
