package tiers

import (
	"testing"

	"realestate-kb-pipeline/internal/tablestore"
)

func newStore(t *testing.T) *tablestore.Store {
	t.Helper()
	s, err := tablestore.Open("")
	if err != nil {
		t.Fatalf("tablestore.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPropertyHappyPath(t *testing.T) {
	store := newStore(t)
	rows := []RawRow{{Fields: map[string]any{
		"listing_id":    "P1",
		"listing_price": 800000.0,
		"square_feet":   2000.0,
		"bedrooms":      3.0,
		"bathrooms":     2.0,
		"address":       map[string]any{"city": "SF", "state": "CA"},
		"features":      []any{"Pool", "pool", "Garage"},
	}}}

	bronzeTable, bronzeCount, corrupt, err := PropertyBronze(store, "1", rows)
	if err != nil {
		t.Fatalf("PropertyBronze() error = %v", err)
	}
	if bronzeCount != 1 || corrupt != 0 {
		t.Fatalf("bronze count = %d corrupt = %d, want 1, 0", bronzeCount, corrupt)
	}

	silverTable, silverCount, err := PropertySilver(store, "1", bronzeTable)
	if err != nil {
		t.Fatalf("PropertySilver() error = %v", err)
	}
	if silverCount != 1 {
		t.Fatalf("silver count = %d, want 1", silverCount)
	}

	silverRows, err := store.Query(`SELECT * FROM "` + silverTable + `"`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	row := silverRows[0]
	if row["price_per_sqft"] != 400.0 {
		t.Errorf("price_per_sqft = %v, want 400", row["price_per_sqft"])
	}
	if row["price_category"] != "high-end" {
		t.Errorf("price_category = %v, want high-end", row["price_category"])
	}
	if row["size_category"] != "medium" {
		t.Errorf("size_category = %v, want medium", row["size_category"])
	}
	if row["city_normalized"] != "San Francisco" {
		t.Errorf("city_normalized = %v, want San Francisco", row["city_normalized"])
	}
	if row["state_normalized"] != "California" {
		t.Errorf("state_normalized = %v, want California", row["state_normalized"])
	}
	features := asStringSlice(row["features"])
	if len(features) != 2 || features[0] != "garage" || features[1] != "pool" {
		t.Errorf("features = %v, want [garage pool]", features)
	}

	goldTable, goldCount, err := PropertyGold(store, "1", silverTable, nil)
	if err != nil {
		t.Fatalf("PropertyGold() error = %v", err)
	}
	if goldCount != 1 {
		t.Fatalf("gold count = %d, want 1", goldCount)
	}
	goldRows, err := store.Query(`SELECT * FROM "` + goldTable + `"`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := CorrelationUUID("property", "P1")
	if goldRows[0]["correlation_uuid"] != want {
		t.Errorf("correlation_uuid = %v, want %v", goldRows[0]["correlation_uuid"], want)
	}
}

func TestPropertyCorruptRowRetainedThroughGold(t *testing.T) {
	store := newStore(t)
	rows := []RawRow{{Fields: map[string]any{
		"listing_id":    "P2",
		"listing_price": "NaN",
	}}}

	bronzeTable, _, corrupt, err := PropertyBronze(store, "2", rows)
	if err != nil {
		t.Fatalf("PropertyBronze() error = %v", err)
	}
	if corrupt != 1 {
		t.Fatalf("corrupt = %d, want 1", corrupt)
	}
	bronzeRows, err := store.Query(`SELECT * FROM "` + bronzeTable + `"`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if bronzeRows[0]["_corrupt_record"] == nil {
		t.Error("_corrupt_record is nil, want populated")
	}

	silverTable, silverCount, err := PropertySilver(store, "2", bronzeTable)
	if err != nil {
		t.Fatalf("PropertySilver() error = %v", err)
	}
	if silverCount != 1 {
		t.Fatalf("silver count = %d, want 1 (row must be retained, not dropped)", silverCount)
	}
	silverRows, err := store.Query(`SELECT * FROM "` + silverTable + `"`)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if silverRows[0]["data_quality_score"].(float64) >= propertyQualityThreshold {
		t.Errorf("data_quality_score = %v, want < %v", silverRows[0]["data_quality_score"], propertyQualityThreshold)
	}
	if silverRows[0]["validation_status"] != "low_quality" {
		t.Errorf("validation_status = %v, want low_quality", silverRows[0]["validation_status"])
	}

	goldTable, goldCount, err := PropertyGold(store, "2", silverTable, nil)
	if err != nil {
		t.Fatalf("PropertyGold() error = %v", err)
	}
	if goldCount != 1 {
		t.Fatalf("gold count = %d, want 1 (row appears in Gold)", goldCount)
	}
	_ = goldTable
}

func TestPropertyBronzeAbortsOnAllCorrupt(t *testing.T) {
	store := newStore(t)
	rows := []RawRow{{RawText: `"not an object"`}}

	_, _, _, err := PropertyBronze(store, "3", rows)
	if err == nil {
		t.Fatal("expected PropertyBronze() to fail when 100% of rows are corrupt")
	}
}

func TestPropertyBronzeEmptySourceSucceeds(t *testing.T) {
	store := newStore(t)
	bronzeTable, count, corrupt, err := PropertyBronze(store, "4", nil)
	if err != nil {
		t.Fatalf("PropertyBronze() error = %v", err)
	}
	if count != 0 || corrupt != 0 {
		t.Fatalf("count = %d corrupt = %d, want 0, 0", count, corrupt)
	}

	silverTable, silverCount, err := PropertySilver(store, "4", bronzeTable)
	if err != nil {
		t.Fatalf("PropertySilver() error = %v", err)
	}
	if silverCount != 0 {
		t.Fatalf("silver count = %d, want 0", silverCount)
	}

	_, goldCount, err := PropertyGold(store, "4", silverTable, nil)
	if err != nil {
		t.Fatalf("PropertyGold() error = %v", err)
	}
	if goldCount != 0 {
		t.Fatalf("gold count = %d, want 0", goldCount)
	}
}

func TestValidatePropertyReportsMissingFieldIssues(t *testing.T) {
	cleaned, issues := ValidateProperty(map[string]any{"listing_id": "P9"})
	if cleaned["listing_id"] != "P9" {
		t.Errorf("listing_id = %v, want P9", cleaned["listing_id"])
	}
	if len(issues) != len(propertyQualityWeights) {
		t.Fatalf("issues = %d, want one per weighted field (%d)", len(issues), len(propertyQualityWeights))
	}
	if score := issueScore(issues); score != 0 {
		t.Errorf("issueScore = %v, want 0 for a row with every weighted field missing", score)
	}
}
