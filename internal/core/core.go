package core

import "time"

// Tier names one of the three named transformation stages a record passes
// through on its way from raw input to embedding-ready output.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// EntityType names one of the three primary entities the pipeline ingests.
type EntityType string

const (
	EntityProperty     EntityType = "property"
	EntityNeighborhood EntityType = "neighborhood"
	EntityWikipedia    EntityType = "wikipedia"
)

// TableID identifies a single table inside the tiered store. Its String()
// form is the table's actual name in the underlying store, following the
// `{entity}_{tier}_{runId}[_{suffix}]` convention.
type TableID struct {
	Entity EntityType
	Tier   Tier
	RunID  string
	Suffix string // optional, e.g. "embeddings"
}

// String renders the canonical, lowercase, underscore-separated table name.
func (t TableID) String() string {
	name := string(t.Entity) + "_" + string(t.Tier) + "_" + t.RunID
	if t.Suffix != "" {
		name += "_" + t.Suffix
	}
	return name
}

// Address is the nested street-level location block on a Property.
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	County string `json:"county,omitempty"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Coordinates is a latitude/longitude pair shared by Property and
// Neighborhood.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PropertyDetails is the nested structural-attributes block on a Property.
type PropertyDetails struct {
	SquareFeet   int     `json:"square_feet"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    float64 `json:"bathrooms"`
	PropertyType string  `json:"property_type"`
	YearBuilt    int     `json:"year_built"`
	LotSize      float64 `json:"lot_size"`
	Stories      int     `json:"stories"`
	GarageSpaces int     `json:"garage_spaces"`
}

// PriceHistoryEntry records one historical price event for a Property.
type PriceHistoryEntry struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
	Event string    `json:"event"`
}

// Property is one listing as ingested from the property source.
type Property struct {
	ListingID       string              `json:"listing_id"`
	Address         Address             `json:"address"`
	Coordinates     Coordinates         `json:"coordinates"`
	PropertyDetails PropertyDetails     `json:"property_details"`
	ListingPrice    float64             `json:"listing_price"`
	PricePerSqft    float64             `json:"price_per_sqft"`
	Description     string              `json:"description"`
	Features        []string            `json:"features"`
	Amenities       []string            `json:"amenities"`
	ListingDate     time.Time           `json:"listing_date"`
	DaysOnMarket    int                 `json:"days_on_market"`
	PriceHistory    []PriceHistoryEntry `json:"price_history,omitempty"`
	NeighborhoodID  string              `json:"neighborhood_id,omitempty"`
}

// Demographics is the optional nested population block on a Neighborhood.
type Demographics struct {
	Population   int     `json:"population"`
	Households   int     `json:"households"`
	MedianAge    float64 `json:"median_age"`
	MedianIncome float64 `json:"median_income"`
}

// SchoolRatings is the optional nested school-quality block on a
// Neighborhood, each rating on a 0-10 scale.
type SchoolRatings struct {
	Elementary float64 `json:"elementary"`
	Middle     float64 `json:"middle"`
	High       float64 `json:"high"`
}

// WikipediaRef is a single correlated Wikipedia page reference, used both
// for the primary correlation and for the related-pages list.
type WikipediaRef struct {
	PageID       int     `json:"page_id"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Confidence   float64 `json:"confidence"`
	Relationship string  `json:"relationship,omitempty"`
}

// ParentGeography links a neighborhood's correlated Wikipedia pages for its
// containing city and state.
type ParentGeography struct {
	CityWiki  string `json:"city_wiki"`
	StateWiki string `json:"state_wiki"`
}

// WikipediaCorrelations is the optional nested correlation block carried
// verbatim on a Neighborhood from the source.
type WikipediaCorrelations struct {
	Primary         *WikipediaRef   `json:"primary,omitempty"`
	Related         []WikipediaRef  `json:"related,omitempty"`
	ParentGeography ParentGeography `json:"parent_geography,omitempty"`
}

// Neighborhood is one record as ingested from the neighborhood source.
type Neighborhood struct {
	NeighborhoodID        string                 `json:"neighborhood_id"`
	Name                  string                 `json:"name"`
	City                  string                 `json:"city"`
	State                 string                 `json:"state"`
	County                string                 `json:"county,omitempty"`
	Coordinates           *Coordinates           `json:"coordinates,omitempty"`
	Description           string                 `json:"description"`
	Amenities             []string               `json:"amenities"`
	Characteristics       []string               `json:"characteristics"`
	Demographics          *Demographics          `json:"demographics,omitempty"`
	SchoolRatings         *SchoolRatings         `json:"school_ratings,omitempty"`
	WikipediaCorrelations *WikipediaCorrelations `json:"wikipedia_correlations,omitempty"`
}

// WikipediaSection is one named section of full article content, present
// only when the source carries structured sections.
type WikipediaSection struct {
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

// WikipediaArticle is one record as joined from the relational Wikipedia
// store (articles + page_summaries).
type WikipediaArticle struct {
	PageID          int                `json:"page_id"`
	Title           string             `json:"title"`
	URL             string             `json:"url"`
	FullContent     string             `json:"full_content"`
	ShortSummary    string             `json:"short_summary,omitempty"`
	LongSummary     string             `json:"long_summary,omitempty"`
	Categories      []string           `json:"categories"`
	KeyTopics       []string           `json:"key_topics"`
	BestCity        string             `json:"best_city,omitempty"`
	BestState       string             `json:"best_state,omitempty"`
	Latitude        float64            `json:"latitude,omitempty"`
	Longitude       float64            `json:"longitude,omitempty"`
	RelevanceScore  float64            `json:"relevance_score"`
	ConfidenceScore float64            `json:"confidence_score,omitempty"`
	Sections        []WikipediaSection `json:"sections,omitempty"`
	NeighborhoodIDs []string           `json:"neighborhood_ids,omitempty"`
}

// ValidationIssue is one finding from an entity's Validate pass, carrying
// enough context to reconstruct data_quality_score and validation_status
// without re-reading the row.
type ValidationIssue struct {
	Field    string  `json:"field"`
	Reason   string  `json:"reason"`
	Severity float64 `json:"severity"` // quality-score weight deducted for this issue
}

// ProcessedTable is the lineage record emitted by every tier-processor
// transition; downstream consumers (the orchestrator, the run report) read
// these rather than re-querying the store.
type ProcessedTable struct {
	Name         string     `json:"name"`
	Entity       EntityType `json:"entity"`
	Tier         Tier       `json:"tier"`
	RecordCount  int64      `json:"record_count"`
	RunTimestamp time.Time  `json:"run_timestamp"`
}

// WriteResult is returned by every sink writer.
type WriteResult struct {
	Sink        string `json:"sink"`
	Success     bool   `json:"success"`
	RecordCount int64  `json:"record_count"`
	Error       string `json:"error,omitempty"`
}

// EntityMetrics holds the per-stage counters the orchestrator accumulates
// for a single entity's run.
type EntityMetrics struct {
	Entity                   EntityType       `json:"entity"`
	BronzeRecords            int64            `json:"bronze_records"`
	SilverRecords            int64            `json:"silver_records"`
	GoldRecords              int64            `json:"gold_records"`
	EmbeddedRecords          int64            `json:"embedded_records"`
	SinkRecordsPerSink       map[string]int64 `json:"sink_records_per_sink"`
	DurationsMsPerStage      map[string]int64 `json:"durations_ms_per_stage"`
	QualityScoreDistribution map[string]int64 `json:"quality_score_distribution"`
	FailedStage              string           `json:"failed_stage,omitempty"`
	FailureCause             string           `json:"failure_cause,omitempty"`
}

// RunReport is the top-level runner's final output: one entry per entity
// plus the sink results and the process exit code the runner mapped to.
type RunReport struct {
	RunID         string                        `json:"run_id"`
	StartedAt     time.Time                     `json:"started_at"`
	FinishedAt    time.Time                     `json:"finished_at"`
	EntityMetrics map[EntityType]*EntityMetrics `json:"entity_metrics"`
	SinkResults   []WriteResult                 `json:"sink_results"`
	ExitCode      int                           `json:"exit_code"`
}

// NewEntityMetrics returns an EntityMetrics with its maps initialized, ready
// for a fresh orchestrator run.
func NewEntityMetrics(entity EntityType) *EntityMetrics {
	return &EntityMetrics{
		Entity:                   entity,
		SinkRecordsPerSink:       make(map[string]int64),
		DurationsMsPerStage:      make(map[string]int64),
		QualityScoreDistribution: make(map[string]int64),
	}
}
