package enrichment

import (
	"encoding/json"
	"testing"

	"realestate-kb-pipeline/internal/tablestore"
)

type fakeStore struct {
	tables map[string][]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: make(map[string][]map[string]any)}
}

func (s *fakeStore) Query(selectSQL string, args ...any) ([]map[string]any, error) {
	for name, rows := range s.tables {
		if containsTable(selectSQL, name) {
			return rows, nil
		}
	}
	return nil, nil
}

func containsTable(sql, name string) bool {
	return len(sql) > 0 && len(name) > 0 && (sql == `SELECT * FROM "`+name+`"`)
}

func (s *fakeStore) CreateTableFromRows(name string, rows []map[string]any) error {
	s.tables[name] = rows
	return nil
}

func (s *fakeStore) CreateEmptyTable(name string, columns []tablestore.ColumnInfo) error {
	s.tables[name] = []map[string]any{}
	return nil
}

func TestPropertyNeighborhoodLeftJoinPreservesUnmatchedProperties(t *testing.T) {
	store := newFakeStore()
	store.tables["property_gold"] = []map[string]any{
		{"listing_id": "P1", "neighborhood_id_resolved": "N1"},
		{"listing_id": "P2", "neighborhood_id_resolved": "N404"},
	}
	store.tables["neighborhood_gold"] = []map[string]any{
		{"neighborhood_id": "N1", "name": "Downtown"},
	}

	table, count, err := PropertyNeighborhood(store, "run1", "property_gold", "neighborhood_gold")
	if err != nil {
		t.Fatalf("PropertyNeighborhood: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows preserved, got %d", count)
	}

	rows := store.tables[table]
	byID := map[string]map[string]any{}
	for _, r := range rows {
		byID[r["listing_id"].(string)] = r
	}
	if byID["P1"]["neighborhood_name"] != "Downtown" {
		t.Fatalf("expected P1 matched to Downtown, got %v", byID["P1"]["neighborhood_name"])
	}
	if byID["P2"]["enrichment_success"] != false {
		t.Fatalf("expected P2 unmatched, got enrichment_success=%v", byID["P2"]["enrichment_success"])
	}
}

func TestPropertyNeighborhoodEmptySourceStillCreatesStableSchema(t *testing.T) {
	store := newFakeStore()
	table, count, err := PropertyNeighborhood(store, "run2", "missing_property", "missing_neighborhood")
	if err != nil {
		t.Fatalf("PropertyNeighborhood: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 rows, got %d", count)
	}
	if _, ok := store.tables[table]; !ok {
		t.Fatalf("expected empty projection table %q to exist", table)
	}
}

func TestPropertyWikipediaTopNRanksByRelevance(t *testing.T) {
	store := newFakeStore()
	store.tables["property_gold"] = []map[string]any{
		{"listing_id": "P1", "city_normalized": "Springfield"},
	}
	store.tables["wikipedia_gold"] = []map[string]any{
		{"page_id": 1, "title": "Springfield Park", "best_city": "Springfield", "relevance_score": 0.4, "long_summary": "a park"},
		{"page_id": 2, "title": "Springfield History", "best_city": "Springfield", "relevance_score": 0.9, "long_summary": "history"},
		{"page_id": 3, "title": "Springfield Schools", "best_city": "Springfield", "relevance_score": 0.6, "long_summary": "schools"},
		{"page_id": 4, "title": "Unrelated City", "best_city": "Shelbyville", "relevance_score": 0.99, "long_summary": "n/a"},
	}

	table, count, err := PropertyWikipedia(store, "run1", "property_gold", "wikipedia_gold", DefaultPropertyWikiTopN)
	if err != nil {
		t.Fatalf("PropertyWikipedia: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 enriched row, got %d", count)
	}

	row := store.tables[table][0]
	var matches []WikiMatch
	if err := json.Unmarshal([]byte(row["wikipedia_matches"].(string)), &matches); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected top 3 matches (N=3), got %d", len(matches))
	}
	if matches[0].Title != "Springfield History" {
		t.Fatalf("expected highest relevance first, got %s", matches[0].Title)
	}
}

func TestPropertyWikipediaNoMatchYieldsEmptyArrayNotDroppedRow(t *testing.T) {
	store := newFakeStore()
	store.tables["property_gold"] = []map[string]any{
		{"listing_id": "P1", "city_normalized": "Nowhere"},
	}
	store.tables["wikipedia_gold"] = []map[string]any{
		{"page_id": 1, "title": "Somewhere Else", "best_city": "Elsewhere", "relevance_score": 0.9},
	}

	table, count, err := PropertyWikipedia(store, "run1", "property_gold", "wikipedia_gold", 3)
	if err != nil {
		t.Fatalf("PropertyWikipedia: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected property row preserved even without a match, got %d", count)
	}
	row := store.tables[table][0]
	if row["enrichment_success"] != false {
		t.Fatalf("expected enrichment_success=false, got %v", row["enrichment_success"])
	}
}

func TestPropertyWikipediaAttachesLifestyleAndKnowledgeScores(t *testing.T) {
	store := newFakeStore()
	store.tables["property_gold"] = []map[string]any{
		{
			"listing_id":         "P1",
			"city_normalized":    "Springfield",
			"amenities":          []any{"Rooftop Bar", "Garage"},
			"features":           []any{"Pool"},
			"data_quality_score": 0.8,
			"description":        "a lovely place",
		},
	}
	store.tables["wikipedia_gold"] = []map[string]any{
		{"page_id": 1, "title": "Springfield Nightlife", "best_city": "Springfield", "relevance_score": 0.9, "long_summary": "bars", "key_topics": []any{"Nightlife", "nightlife"}},
	}

	table, _, err := PropertyWikipedia(store, "run1", "property_gold", "wikipedia_gold", DefaultPropertyWikiTopN)
	if err != nil {
		t.Fatalf("PropertyWikipedia: %v", err)
	}
	row := store.tables[table][0]

	if score, _ := row["nightlife_score"].(float64); score <= 0 {
		t.Fatalf("expected a positive nightlife_score from the bar amenity, got %v", row["nightlife_score"])
	}
	knowledge, ok := row["knowledge_score"].(float64)
	if !ok || knowledge <= 0 || knowledge > 1 {
		t.Fatalf("expected knowledge_score in (0,1], got %v", row["knowledge_score"])
	}
	confidence, ok := row["overall_confidence"].(float64)
	if !ok || confidence < 0 || confidence > 1 {
		t.Fatalf("expected overall_confidence in [0,1], got %v", row["overall_confidence"])
	}
}

func TestNeighborhoodWikipediaTopNDefaultsToFive(t *testing.T) {
	store := newFakeStore()
	store.tables["neighborhood_gold"] = []map[string]any{
		{"neighborhood_id": "N1", "name": "Riverside", "city_normalized": "Springfield"},
	}
	wiki := make([]map[string]any, 0, 7)
	for i := 0; i < 7; i++ {
		wiki = append(wiki, map[string]any{
			"page_id":         i,
			"title":           "Riverside District",
			"best_city":       "Springfield",
			"relevance_score": float64(i),
		})
	}
	store.tables["wikipedia_gold"] = wiki

	table, _, err := NeighborhoodWikipedia(store, "run1", "neighborhood_gold", "wikipedia_gold", 0)
	if err != nil {
		t.Fatalf("NeighborhoodWikipedia: %v", err)
	}
	row := store.tables[table][0]
	var matches []WikiMatch
	if err := json.Unmarshal([]byte(row["wikipedia_matches"].(string)), &matches); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(matches) != DefaultNeighborhoodWikiTopN {
		t.Fatalf("expected default top-5, got %d", len(matches))
	}
}
