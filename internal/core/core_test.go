package core

import (
	"testing"
	"time"
)

func TestTableIDString(t *testing.T) {
	cases := []struct {
		id   TableID
		want string
	}{
		{TableID{Entity: EntityProperty, Tier: TierBronze, RunID: "1700000000"}, "property_bronze_1700000000"},
		{TableID{Entity: EntityWikipedia, Tier: TierGold, RunID: "1700000000", Suffix: "embeddings"}, "wikipedia_gold_1700000000_embeddings"},
		{TableID{Entity: EntityNeighborhood, Tier: TierSilver, RunID: "42"}, "neighborhood_silver_42"},
	}
	for _, c := range cases {
		if got := c.id.String(); got != c.want {
			t.Errorf("TableID.String() = %q, want %q", got, c.want)
		}
	}
}

func TestPropertyStruct(t *testing.T) {
	now := time.Now()
	p := Property{
		ListingID: "P1",
		Address: Address{
			Street: "1 Market St",
			City:   "San Francisco",
			State:  "CA",
			Zip:    "94105",
		},
		Coordinates: Coordinates{Lat: 37.79, Lon: -122.4},
		PropertyDetails: PropertyDetails{
			SquareFeet:   2000,
			Bedrooms:     3,
			Bathrooms:    2,
			PropertyType: "single_family",
			YearBuilt:    1995,
		},
		ListingPrice: 800000,
		Features:     []string{"Pool", "pool", "Garage"},
		ListingDate:  now,
		PriceHistory: []PriceHistoryEntry{{Date: now, Price: 780000, Event: "listed"}},
	}

	if p.ListingID != "P1" {
		t.Errorf("ListingID = %q, want P1", p.ListingID)
	}
	if len(p.Features) != 3 {
		t.Errorf("Features len = %d, want 3", len(p.Features))
	}
	if len(p.PriceHistory) != 1 {
		t.Errorf("PriceHistory len = %d, want 1", len(p.PriceHistory))
	}
}

func TestNeighborhoodOptionalFields(t *testing.T) {
	n := Neighborhood{
		NeighborhoodID: "N1",
		Name:           "Mission",
		City:           "San Francisco",
		State:          "CA",
	}
	if n.Coordinates != nil {
		t.Errorf("expected nil Coordinates on a minimal neighborhood")
	}
	if n.Demographics != nil {
		t.Errorf("expected nil Demographics on a minimal neighborhood")
	}

	n.WikipediaCorrelations = &WikipediaCorrelations{
		Primary: &WikipediaRef{PageID: 42, Title: "Mission District", Confidence: 0.9},
		Related: []WikipediaRef{{PageID: 43, Title: "Dolores Park", Confidence: 0.6, Relationship: "contains"}},
	}
	if n.WikipediaCorrelations.Primary.PageID != 42 {
		t.Errorf("Primary.PageID = %d, want 42", n.WikipediaCorrelations.Primary.PageID)
	}
	if len(n.WikipediaCorrelations.Related) != 1 {
		t.Errorf("Related len = %d, want 1", len(n.WikipediaCorrelations.Related))
	}
}

func TestWikipediaArticleDefaults(t *testing.T) {
	a := WikipediaArticle{
		PageID:         42,
		Title:          "Golden Gate Bridge",
		RelevanceScore: 0.7,
		KeyTopics:      []string{"bridge"},
	}
	if a.ShortSummary != "" {
		t.Errorf("expected empty ShortSummary by default")
	}
	if a.ConfidenceScore != 0 {
		t.Errorf("expected zero ConfidenceScore by default")
	}
	if len(a.KeyTopics) != 1 {
		t.Errorf("KeyTopics len = %d, want 1", len(a.KeyTopics))
	}
}

func TestNewEntityMetrics(t *testing.T) {
	m := NewEntityMetrics(EntityProperty)
	if m.Entity != EntityProperty {
		t.Errorf("Entity = %v, want %v", m.Entity, EntityProperty)
	}
	if m.SinkRecordsPerSink == nil || m.DurationsMsPerStage == nil || m.QualityScoreDistribution == nil {
		t.Fatalf("expected all maps to be initialized")
	}
	m.SinkRecordsPerSink["parquet"] = 10
	if m.SinkRecordsPerSink["parquet"] != 10 {
		t.Errorf("map write/read failed")
	}
}

func TestValidationIssue(t *testing.T) {
	issues := []ValidationIssue{
		{Field: "listing_price", Reason: "non-numeric", Severity: 0.4},
	}
	if len(issues) != 1 || issues[0].Severity != 0.4 {
		t.Errorf("unexpected ValidationIssue slice: %+v", issues)
	}
}
