package runner

import (
	"context"
	"errors"
	"testing"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/orchestrator"
)

func tableFactory(entity core.EntityType, bronzeCount int64) OrchestratorFactory {
	return func(ctx context.Context, deps Dependencies) (*orchestrator.EntityOrchestrator, error) {
		return &orchestrator.EntityOrchestrator{
			Entity: entity,
			LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
				return core.ProcessedTable{Name: string(entity) + "_bronze", RecordCount: bronzeCount}, nil
			},
			ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
				return core.ProcessedTable{Name: string(entity) + "_silver", RecordCount: bronzeCount}, nil
			},
			ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
				return core.ProcessedTable{Name: string(entity) + "_gold", RecordCount: bronzeCount}, nil
			},
		}, nil
	}
}

func TestRunnerRunsNeighborhoodAndWikipediaBeforeProperty(t *testing.T) {
	registry := NewRegistry()
	var propertyDeps Dependencies
	registry.Register(core.EntityNeighborhood, tableFactory(core.EntityNeighborhood, 5))
	registry.Register(core.EntityWikipedia, tableFactory(core.EntityWikipedia, 7))
	registry.Register(core.EntityProperty, func(ctx context.Context, deps Dependencies) (*orchestrator.EntityOrchestrator, error) {
		propertyDeps = deps
		o, _ := tableFactory(core.EntityProperty, 3)(ctx, deps)
		return o, nil
	})

	r := NewRunner(registry, "run1")
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if propertyDeps.NeighborhoodGoldTable != "neighborhood_gold" {
		t.Fatalf("expected property to receive neighborhood gold table, got %q", propertyDeps.NeighborhoodGoldTable)
	}
	if propertyDeps.WikipediaGoldTable != "wikipedia_gold" {
		t.Fatalf("expected property to receive wikipedia gold table, got %q", propertyDeps.WikipediaGoldTable)
	}
	if len(report.EntityMetrics) != 3 {
		t.Fatalf("expected 3 entities in report, got %d", len(report.EntityMetrics))
	}
	if report.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", report.ExitCode)
	}
}

func TestRunnerExitCodeOneWhenAnEntityFails(t *testing.T) {
	registry := NewRegistry()
	registry.Register(core.EntityNeighborhood, func(ctx context.Context, deps Dependencies) (*orchestrator.EntityOrchestrator, error) {
		return &orchestrator.EntityOrchestrator{
			Entity: core.EntityNeighborhood,
			LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
				return core.ProcessedTable{}, errors.New("source missing")
			},
		}, nil
	})

	r := NewRunner(registry, "run2")
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", report.ExitCode)
	}
}

func TestRunnerRunsEnrichFactoryWithPostBarrierDependencies(t *testing.T) {
	registry := NewRegistry()
	registry.Register(core.EntityNeighborhood, tableFactory(core.EntityNeighborhood, 5))
	registry.Register(core.EntityWikipedia, tableFactory(core.EntityWikipedia, 7))

	var seenDeps Dependencies
	registry.RegisterEnrich(core.EntityNeighborhood, func(deps Dependencies) orchestrator.EnrichmentFunc {
		seenDeps = deps
		return func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error) {
			if deps.WikipediaGoldTable == "" {
				t.Fatalf("expected wikipedia gold table to be known when neighborhood's enrich stage runs")
			}
			return []core.ProcessedTable{{Name: "enriched_neighborhood_wikipedia", Entity: core.EntityNeighborhood, RecordCount: 1}}, nil
		}
	})

	r := NewRunner(registry, "run4")
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seenDeps.WikipediaGoldTable != "wikipedia_gold" {
		t.Fatalf("expected EnrichFactory to see wikipedia's gold table, got %q", seenDeps.WikipediaGoldTable)
	}
	if report.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", report.ExitCode)
	}
}

func TestRunnerExitCodeThreeWhenNoOrchestratorsRegistered(t *testing.T) {
	r := NewRunner(NewRegistry(), "run3")
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", report.ExitCode)
	}
}
