// Package enrichment implements the Cross-Entity Enricher (C4): the
// property↔neighborhood left join and the property↔wiki /
// neighborhood↔wiki top-N window-ranked correlations.
// Each projection is isolated — a join failure for one
// entity pair is logged and that projection is skipped, the rest
// proceed — and every projection is created even when it produces zero
// enriched rows, to keep downstream schemas stable.
package enrichment

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"realestate-kb-pipeline/internal/logger"
	"realestate-kb-pipeline/internal/scoring"
	"realestate-kb-pipeline/internal/tablestore"
)

// RowStore is the tablestore surface the enricher needs.
type RowStore interface {
	Query(selectSQL string, args ...any) ([]map[string]any, error)
	CreateTableFromRows(name string, rows []map[string]any) error
	CreateEmptyTable(name string, columns []tablestore.ColumnInfo) error
}

// DefaultPropertyWikiTopN and DefaultNeighborhoodWikiTopN bound how many
// correlated articles a single property/neighborhood row carries.
const (
	DefaultPropertyWikiTopN     = 3
	DefaultNeighborhoodWikiTopN = 5
)

var propertyNeighborhoodColumns = []tablestore.ColumnInfo{
	{Name: "listing_id", Type: "TEXT"},
	{Name: "neighborhood_id_resolved", Type: "TEXT"},
	{Name: "neighborhood_name", Type: "TEXT"},
	{Name: "neighborhood_description", Type: "TEXT"},
	{Name: "neighborhood_demographics", Type: "TEXT"},
	{Name: "neighborhood_statistics", Type: "TEXT"},
	{Name: "neighborhood_amenities", Type: "TEXT"},
	{Name: "neighborhood_walkability_score", Type: "REAL"},
	{Name: "neighborhood_avg_home_value", Type: "REAL"},
	{Name: "enrichment_success", Type: "INTEGER"},
}

// PropertyNeighborhood implements the left join: every property Gold
// row is preserved, carrying neighborhood attributes when
// neighborhood_id_resolved matches a neighborhood Gold row, else nil
// fields and enrichment_success=false.
func PropertyNeighborhood(store RowStore, runID, propertyGoldTable, neighborhoodGoldTable string) (string, int64, error) {
	tableName := fmt.Sprintf("enriched_property_neighborhood_%s", runID)

	properties, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, propertyGoldTable))
	if err != nil {
		logger.Warn("enrichment: property_neighborhood join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, propertyNeighborhoodColumns)
	}

	neighborhoods, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, neighborhoodGoldTable))
	if err != nil {
		logger.Warn("enrichment: property_neighborhood join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, propertyNeighborhoodColumns)
	}

	byID := make(map[string]map[string]any, len(neighborhoods))
	for _, n := range neighborhoods {
		byID[asString(n["neighborhood_id"])] = n
	}

	out := make([]map[string]any, 0, len(properties))
	for _, p := range properties {
		nbID := asString(p["neighborhood_id_resolved"])
		row := map[string]any{
			"listing_id":               p["listing_id"],
			"neighborhood_id_resolved": nbID,
		}
		n, matched := byID[nbID]
		if matched && nbID != "" {
			row["neighborhood_name"] = n["name"]
			row["neighborhood_description"] = n["description"]
			row["neighborhood_demographics"] = mustJSON(map[string]any{
				"population":    n["population"],
				"households":    n["households"],
				"median_age":    n["median_age"],
				"median_income": n["median_income"],
			})
			row["neighborhood_statistics"] = mustJSON(map[string]any{
				"data_quality_score": n["data_quality_score"],
				"income_bracket":     n["income_bracket"],
			})
			row["neighborhood_amenities"] = n["amenities"]
			row["neighborhood_walkability_score"] = nil
			row["neighborhood_avg_home_value"] = nil
			row["enrichment_success"] = true
		} else {
			row["neighborhood_name"] = nil
			row["neighborhood_description"] = nil
			row["neighborhood_demographics"] = nil
			row["neighborhood_statistics"] = nil
			row["neighborhood_amenities"] = nil
			row["neighborhood_walkability_score"] = nil
			row["neighborhood_avg_home_value"] = nil
			row["enrichment_success"] = false
		}
		out = append(out, row)
	}

	if len(out) == 0 {
		return createEmptyProjection(store, tableName, propertyNeighborhoodColumns)
	}
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		logger.Warn("enrichment: property_neighborhood write failed", "error", err.Error())
		return createEmptyProjection(store, tableName, propertyNeighborhoodColumns)
	}
	return tableName, int64(len(out)), nil
}

// WikiMatch is one correlated Wikipedia article attached to a property or
// neighborhood row.
type WikiMatch struct {
	PageID    any     `json:"page_id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Relevance float64 `json:"relevance"`
}

var entityWikiColumns = []tablestore.ColumnInfo{
	{Name: "entity_id", Type: "TEXT"},
	{Name: "wikipedia_matches", Type: "TEXT"},
	{Name: "enrichment_success", Type: "INTEGER"},
	{Name: "nightlife_score", Type: "REAL"},
	{Name: "cultural_score", Type: "REAL"},
	{Name: "green_space_score", Type: "REAL"},
	{Name: "family_friendly_score", Type: "REAL"},
	{Name: "knowledge_score", Type: "REAL"},
	{Name: "overall_confidence", Type: "REAL"},
}

// PropertyWikipedia implements the top-N (default 3) window-ranked
// property↔wiki correlation: for each property, wiki Gold rows whose
// best_city matches (exactly, or as a substring match against the
// property's city) are ranked by relevance_score and the top N kept.
func PropertyWikipedia(store RowStore, runID, propertyGoldTable, wikipediaGoldTable string, topN int) (string, int64, error) {
	tableName := fmt.Sprintf("enriched_property_wikipedia_%s", runID)
	if topN <= 0 {
		topN = DefaultPropertyWikiTopN
	}

	properties, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, propertyGoldTable))
	if err != nil {
		logger.Warn("enrichment: property_wikipedia join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	wiki, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, wikipediaGoldTable))
	if err != nil {
		logger.Warn("enrichment: property_wikipedia join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}

	out := make([]map[string]any, 0, len(properties))
	for _, p := range properties {
		city := strings.ToLower(asString(p["city_normalized"]))
		ranked := rankWiki(wiki, topN, func(w map[string]any) bool {
			wCity := strings.ToLower(asString(w["best_city"]))
			return city != "" && wCity != "" && (wCity == city || strings.Contains(wCity, city) || strings.Contains(city, wCity))
		})
		matches := toWikiMatches(ranked)
		topics := aggregateTopics(ranked)
		amenities := append(asStringSlice(p["amenities"]), asStringSlice(p["features"])...)
		success := len(matches) > 0

		out = append(out, map[string]any{
			"entity_id":             p["listing_id"],
			"wikipedia_matches":     mustJSON(matches),
			"enrichment_success":    success,
			"nightlife_score":       scoring.NightlifeScore(amenities, nil),
			"cultural_score":        scoring.CulturalScore(amenities, len(topics)),
			"green_space_score":     scoring.GreenSpaceScore(amenities, nil),
			"family_friendly_score": nil,
			"knowledge_score":       scoring.KnowledgeScore(len(matches), len(topics), len(amenities)),
			"overall_confidence":    entityOverallConfidence(success, p),
		})
	}

	if len(out) == 0 {
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		logger.Warn("enrichment: property_wikipedia write failed", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	return tableName, int64(len(out)), nil
}

// NeighborhoodWikipedia implements the top-N (default 5)
// neighborhood↔wiki correlation: matching on city AND
// title-contains-neighborhood-name. A neighborhood row with an empty name
// matches on city alone.
func NeighborhoodWikipedia(store RowStore, runID, neighborhoodGoldTable, wikipediaGoldTable string, topN int) (string, int64, error) {
	tableName := fmt.Sprintf("enriched_neighborhood_wikipedia_%s", runID)
	if topN <= 0 {
		topN = DefaultNeighborhoodWikiTopN
	}

	neighborhoods, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, neighborhoodGoldTable))
	if err != nil {
		logger.Warn("enrichment: neighborhood_wikipedia join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	wiki, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, wikipediaGoldTable))
	if err != nil {
		logger.Warn("enrichment: neighborhood_wikipedia join skipped", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}

	out := make([]map[string]any, 0, len(neighborhoods))
	for _, n := range neighborhoods {
		city := strings.ToLower(asString(n["city_normalized"]))
		name := strings.ToLower(asString(n["name"]))
		ranked := rankWiki(wiki, topN, func(w map[string]any) bool {
			wCity := strings.ToLower(asString(w["best_city"]))
			title := strings.ToLower(asString(w["title"]))
			cityMatch := city != "" && wCity != "" && (wCity == city || strings.Contains(wCity, city) || strings.Contains(city, wCity))
			nameMatch := name != "" && strings.Contains(title, name)
			return cityMatch && nameMatch || (cityMatch && name == "")
		})
		matches := toWikiMatches(ranked)
		topics := aggregateTopics(ranked)
		characteristics := asStringSlice(n["characteristics"])
		amenities := append(asStringSlice(n["amenities"]), characteristics...)
		success := len(matches) > 0

		out = append(out, map[string]any{
			"entity_id":             n["neighborhood_id"],
			"wikipedia_matches":     mustJSON(matches),
			"enrichment_success":    success,
			"nightlife_score":       scoring.NightlifeScore(amenities, characteristics),
			"cultural_score":        scoring.CulturalScore(amenities, len(topics)),
			"green_space_score":     scoring.GreenSpaceScore(amenities, characteristics),
			"family_friendly_score": scoring.FamilyFriendlyScore(scoring.FamilyFriendlyInputs{Amenities: amenities, Tags: characteristics}),
			"knowledge_score":       scoring.KnowledgeScore(len(matches), len(topics), len(amenities)),
			"overall_confidence":    entityOverallConfidence(success, n),
		})
	}

	if len(out) == 0 {
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		logger.Warn("enrichment: neighborhood_wikipedia write failed", "error", err.Error())
		return createEmptyProjection(store, tableName, entityWikiColumns)
	}
	return tableName, int64(len(out)), nil
}

// rankWiki filters wiki rows by predicate, ranks by relevance_score
// descending, and keeps the top n raw rows. Callers derive both the
// WikiMatch list and the knowledge-score topic count from the same
// ranked slice so the two stay consistent with each other.
func rankWiki(wiki []map[string]any, n int, predicate func(map[string]any) bool) []map[string]any {
	var candidates []map[string]any
	for _, w := range wiki {
		if predicate(w) {
			candidates = append(candidates, w)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, _ := asFloat(candidates[i]["relevance_score"])
		rj, _ := asFloat(candidates[j]["relevance_score"])
		return ri > rj
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// toWikiMatches converts ranked wiki rows into the public WikiMatch shape.
func toWikiMatches(rows []map[string]any) []WikiMatch {
	out := make([]WikiMatch, 0, len(rows))
	for _, c := range rows {
		relevance, _ := asFloat(c["relevance_score"])
		summary := asString(c["long_summary"])
		if summary == "" {
			summary = asString(c["short_summary"])
		}
		out = append(out, WikiMatch{
			PageID:    c["page_id"],
			Title:     asString(c["title"]),
			Summary:   summary,
			Relevance: relevance,
		})
	}
	return out
}

// aggregateTopics collects the deduplicated, case-folded key_topics across
// a set of ranked wiki rows — the knowledge-score topic_count input.
func aggregateTopics(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for _, t := range asStringSlice(r["key_topics"]) {
			lt := strings.ToLower(strings.TrimSpace(t))
			if lt == "" || seen[lt] {
				continue
			}
			seen[lt] = true
			out = append(out, lt)
		}
	}
	return out
}

// entityOverallConfidence computes the overall_confidence score for
// an enriched property/neighborhood row: the city/wiki match itself signals
// location_confidence, the row's own data_quality_score stands in for
// extraction_confidence, and description length for content_ratio.
func entityOverallConfidence(wikiMatched bool, row map[string]any) float64 {
	locationConfidence := 0.3
	if wikiMatched {
		locationConfidence = 0.9
	}
	extraction, hasExtraction := asFloat(row["data_quality_score"])
	description := asString(row["description"])
	contentRatio := 0.0
	if len(description) > 0 {
		contentRatio = float64(len(description)) / 500
		if contentRatio > 1 {
			contentRatio = 1
		}
	}
	return scoring.OverallConfidence(scoring.ConfidenceInputs{
		LocationConfidence:      locationConfidence,
		HasLocationConfidence:   true,
		ExtractionConfidence:    extraction,
		HasExtractionConfidence: hasExtraction,
		ContentRatio:            contentRatio,
		HasContentRatio:         len(description) > 0,
	})
}

// asStringSlice coerces a queried column value (a native slice when the
// store already deserialized it, or a JSON-encoded TEXT column) into a
// string slice.
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
		return nil
	default:
		return nil
	}
}

// createEmptyProjection creates an empty-but-schema-stable table, so a
// projection with zero enriched rows still exists with its linkage
// columns defined.
func createEmptyProjection(store RowStore, tableName string, columns []tablestore.ColumnInfo) (string, int64, error) {
	if err := store.CreateEmptyTable(tableName, columns); err != nil {
		return "", 0, fmt.Errorf("enrichment: create empty projection %q: %w", tableName, err)
	}
	return tableName, 0, nil
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
