package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
	"realestate-kb-pipeline/internal/sinks"
)

type fakeStore struct {
	tables map[string][]map[string]any
}

func (f *fakeStore) Query(selectSQL string, args ...any) ([]map[string]any, error) {
	for name, rows := range f.tables {
		if strings.Contains(selectSQL, `"`+name+`"`) {
			return rows, nil
		}
	}
	return nil, nil
}

type fakeSink struct {
	name    string
	source  sinks.Source
	calls   int
	records int64
}

func (s *fakeSink) Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error) {
	s.calls++
	s.records += int64(len(records))
	return core.WriteResult{Sink: s.name, Success: true, RecordCount: int64(len(records))}, nil
}

func (s *fakeSink) Source() sinks.Source {
	if s.source == "" {
		return sinks.SourceGold
	}
	return s.source
}

func TestRunHappyPathReachesDone(t *testing.T) {
	sink := &fakeSink{name: "mock"}
	o := &EntityOrchestrator{
		Entity: core.EntityProperty,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_bronze_run1", RecordCount: 10}, nil
		},
		ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_silver_run1", RecordCount: 9}, nil
		},
		ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_gold_run1", RecordCount: 9}, nil
		},
		Embed: func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error) {
			return "property_gold_run1_embeddings", embedding.Stats{NodesTotal: 9, NodesEmbedded: 9}, nil
		},
		Sinks: []sinks.Writer{sink},
		Store: &fakeStore{tables: map[string][]map[string]any{
			"property_gold_run1": {{"listing_id": "P1"}},
		}},
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("expected StateDone, got %s", result.State)
	}
	if result.Metrics.BronzeRecords != 10 || result.Metrics.GoldRecords != 9 {
		t.Fatalf("unexpected metrics: %+v", result.Metrics)
	}
	if sink.calls != 1 {
		t.Fatalf("expected sink to be called once, got %d", sink.calls)
	}
}

func TestRunFailsFastOnBronzeError(t *testing.T) {
	o := &EntityOrchestrator{
		Entity: core.EntityNeighborhood,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{}, errors.New("source missing")
		},
	}

	result, err := o.Run(context.Background())
	if err == nil {
		t.Fatalf("expected an error")
	}
	if result.State != StateFailed {
		t.Fatalf("expected StateFailed, got %s", result.State)
	}
	if result.Metrics.FailedStage != "bronze" {
		t.Fatalf("expected failed stage 'bronze', got %q", result.Metrics.FailedStage)
	}
}

func TestRunToGoldThenRunFromGoldWithOverrideMatchesRun(t *testing.T) {
	o := &EntityOrchestrator{
		Entity: core.EntityNeighborhood,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "neighborhood_bronze_run1", RecordCount: 4}, nil
		},
		ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "neighborhood_silver_run1", RecordCount: 4}, nil
		},
		ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "neighborhood_gold_run1", RecordCount: 4}, nil
		},
	}

	gold, err := o.RunToGold(context.Background())
	if err != nil {
		t.Fatalf("RunToGold: %v", err)
	}
	if gold.State != StateGold {
		t.Fatalf("expected StateGold after RunToGold, got %s", gold.State)
	}
	if gold.GoldTable.Name != "neighborhood_gold_run1" {
		t.Fatalf("expected gold table name to be populated, got %q", gold.GoldTable.Name)
	}

	var sawGoldTable string
	enrich := func(ctx context.Context, table core.ProcessedTable) ([]core.ProcessedTable, error) {
		sawGoldTable = table.Name
		return []core.ProcessedTable{{Name: "enriched_neighborhood_wikipedia_run1"}}, nil
	}

	result, err := o.RunFromGold(context.Background(), gold, enrich)
	if err != nil {
		t.Fatalf("RunFromGold: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("expected StateDone, got %s", result.State)
	}
	if sawGoldTable != "neighborhood_gold_run1" {
		t.Fatalf("expected the enrich override to receive the entity's gold table, got %q", sawGoldTable)
	}
	found := false
	for _, table := range result.ProcessedTables {
		if table.Name == "enriched_neighborhood_wikipedia_run1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the override's enrichment output to be recorded, got %+v", result.ProcessedTables)
	}
}

func TestRunDegradesOnEnrichmentFailureWithoutAborting(t *testing.T) {
	o := &EntityOrchestrator{
		Entity: core.EntityProperty,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "b", RecordCount: 1}, nil
		},
		ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "s", RecordCount: 1}, nil
		},
		ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "g", RecordCount: 1}, nil
		},
		Enrich: func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error) {
			return nil, errors.New("join source unavailable")
		},
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("enrichment failure must not abort the run: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("expected StateDone despite enrichment failure, got %s", result.State)
	}
}

func TestRunRoutesSinksToTheirSourceTables(t *testing.T) {
	goldSink := &fakeSink{name: "search", source: sinks.SourceGoldEnriched}
	columnarSink := &fakeSink{name: "columnar"} // default SourceGold
	vectorSink := &fakeSink{name: "vectormirror", source: sinks.SourceEmbeddings}
	store := &fakeStore{tables: map[string][]map[string]any{
		"property_gold_run1":               {{"listing_id": "P1"}, {"listing_id": "P2"}},
		"property_gold_embeddings_run1":    {{"primary_key": "P1", "chunk_index": 0, "vector": "[0.1]"}},
		"enriched_property_wikipedia_run1": {{"entity_id": "P1", "wikipedia_matches": "[]"}},
	}}

	o := &EntityOrchestrator{
		Entity: core.EntityProperty,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_bronze_run1", RecordCount: 2}, nil
		},
		ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_silver_run1", RecordCount: 2}, nil
		},
		ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_gold_run1", RecordCount: 2}, nil
		},
		Enrich: func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error) {
			return []core.ProcessedTable{{Name: "enriched_property_wikipedia_run1", Entity: core.EntityProperty, RecordCount: 1}}, nil
		},
		Embed: func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error) {
			return "property_gold_embeddings_run1", embedding.Stats{NodesTotal: 1, NodesEmbedded: 1}, nil
		},
		Sinks: []sinks.Writer{goldSink, columnarSink, vectorSink},
		Store: store,
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("expected StateDone, got %s", result.State)
	}
	if goldSink.calls != 2 {
		t.Fatalf("expected the gold+enriched sink to be written twice, got %d calls", goldSink.calls)
	}
	if goldSink.records != 3 {
		t.Fatalf("expected the gold+enriched sink to see 2 gold + 1 enriched rows, got %d", goldSink.records)
	}
	if columnarSink.calls != 1 || columnarSink.records != 2 {
		t.Fatalf("expected the gold-only sink to see just the gold table, got %d calls / %d rows", columnarSink.calls, columnarSink.records)
	}
	if vectorSink.calls != 1 || vectorSink.records != 1 {
		t.Fatalf("expected the vector sink to see only the embeddings table, got %d calls / %d rows", vectorSink.calls, vectorSink.records)
	}
	if result.Metrics.SinkRecordsPerSink["search"] != 3 {
		t.Fatalf("expected per-sink record counts to sum across tables, got %d", result.Metrics.SinkRecordsPerSink["search"])
	}
}

func TestRunSkipsEmbeddingsSinkWhenNoEmbedStage(t *testing.T) {
	vectorSink := &fakeSink{name: "vectormirror", source: sinks.SourceEmbeddings}
	store := &fakeStore{tables: map[string][]map[string]any{
		"property_gold_run1": {{"listing_id": "P1"}},
	}}

	o := &EntityOrchestrator{
		Entity: core.EntityProperty,
		LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_bronze_run1", RecordCount: 1}, nil
		},
		ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_silver_run1", RecordCount: 1}, nil
		},
		ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
			return core.ProcessedTable{Name: "property_gold_run1", RecordCount: 1}, nil
		},
		Sinks: []sinks.Writer{vectorSink},
		Store: store,
	}

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.State != StateDone {
		t.Fatalf("expected StateDone, got %s", result.State)
	}
	if vectorSink.calls != 0 {
		t.Fatalf("expected the embeddings sink to be skipped without an Embed stage, got %d calls", vectorSink.calls)
	}
}
