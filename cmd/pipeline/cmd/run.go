package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	_ "github.com/mattn/go-sqlite3"

	"realestate-kb-pipeline/internal/config"
	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
	"realestate-kb-pipeline/internal/enrichment"
	"realestate-kb-pipeline/internal/logger"
	"realestate-kb-pipeline/internal/orchestrator"
	"realestate-kb-pipeline/internal/runner"
	"realestate-kb-pipeline/internal/sinks"
	"realestate-kb-pipeline/internal/sources"
	"realestate-kb-pipeline/internal/tablestore"
	"realestate-kb-pipeline/internal/tiers"
)

// runPipeline wires every component and drives one end-to-end
// run: source reads, Bronze/Silver/Gold, cross-entity enrichment,
// embedding, and sink writes, then exits with the run-level exit code.
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	sampleSize, _ := cmd.Flags().GetInt("sample-size")
	if sampleSize <= 0 {
		sampleSize = cfg.Run.SampleSize
	}

	store, err := tablestore.Open(cfg.App.DataDir)
	if err != nil {
		return fmt.Errorf("open tablestore: %w", err)
	}
	defer store.Close()

	runID := uuid.New().String()[:8]
	ctx := context.Background()

	refs, err := loadLocationRefs(ctx, cfg.Sources.LocationRefPath)
	if err != nil {
		logger.Warn("pipeline: location reference load failed, hierarchy enrichment degrades", "error", err.Error())
	}

	provider, err := embedding.NewProvider(embedding.ProviderType(cfg.Embedding.Provider), providerConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("construct embedding provider: %w", err)
	}

	sinkWriters, closers, err := buildSinks(cfg)
	if err != nil {
		return fmt.Errorf("construct sinks: %w", err)
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	registry := runner.NewRegistry()
	registry.Register(core.EntityProperty, newPropertyFactory(cfg, store, refs, provider, sinkWriters, runID, sampleSize))
	registry.Register(core.EntityNeighborhood, newNeighborhoodFactory(cfg, store, refs, provider, sinkWriters, runID, sampleSize))
	registry.Register(core.EntityWikipedia, newWikipediaFactory(cfg, store, refs, provider, sinkWriters, runID, sampleSize))
	registry.RegisterEnrich(core.EntityNeighborhood, newNeighborhoodEnrichFactory(store, runID))

	run := runner.NewRunner(registry, runID)
	run.StopOnError = cfg.Run.StopOnError
	report, err := run.Run(ctx)
	if err != nil {
		return fmt.Errorf("run pipeline: %w", err)
	}

	logger.Info("pipeline: run complete", "run_id", report.RunID, "exit_code", report.ExitCode,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds())
	for entity, m := range report.EntityMetrics {
		logger.Info("pipeline: entity summary", "entity", entity, "bronze", m.BronzeRecords,
			"silver", m.SilverRecords, "gold", m.GoldRecords, "embedded", m.EmbeddedRecords,
			"quality_distribution", m.QualityScoreDistribution, "failed_stage", m.FailedStage)
	}
	for _, sr := range report.SinkResults {
		logger.Info("pipeline: sink result", "sink", sr.Sink, "success", sr.Success, "records", sr.RecordCount)
	}

	// A clean run keeps only the Gold, enriched, and embeddings tables;
	// Bronze and Silver are working state. A failed run leaves everything
	// in place for inspection.
	if report.ExitCode == 0 {
		dropIntermediateTables(store, runID)
	}

	os.Exit(report.ExitCode)
	return nil
}

func dropIntermediateTables(store *tablestore.Store, runID string) {
	for _, entity := range []core.EntityType{core.EntityProperty, core.EntityNeighborhood, core.EntityWikipedia} {
		for _, tier := range []core.Tier{core.TierBronze, core.TierSilver} {
			name := core.TableID{Entity: entity, Tier: tier, RunID: runID}.String()
			if err := store.Drop(name); err != nil {
				logger.Warn("pipeline: intermediate table cleanup failed", "table", name, "error", err.Error())
			}
		}
	}
}

// loadLocationRefs reads the location hierarchy reference file into the
// shape tiers.ResolveHierarchy expects. A missing or unparseable file
// degrades hierarchy resolution rather than aborting the run.
func loadLocationRefs(ctx context.Context, path string) ([]tiers.LocationRef, error) {
	reader := sources.NewLocationReferenceReader()
	raw, _, err := reader.Read(ctx, path, 0)
	if err != nil {
		return nil, err
	}

	refs := make([]tiers.LocationRef, 0, len(raw.Rows))
	for _, row := range raw.Rows {
		if row.Fields == nil {
			continue
		}
		refs = append(refs, tiers.LocationRef{
			State:        asString(row.Fields["state"]),
			County:       asString(row.Fields["county"]),
			City:         asString(row.Fields["city"]),
			Neighborhood: asString(row.Fields["neighborhood"]),
		})
	}
	return refs, nil
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func toRawRows(rows []sources.Row) []tiers.RawRow {
	out := make([]tiers.RawRow, len(rows))
	for i, r := range rows {
		out[i] = tiers.RawRow{Fields: r.Fields, RawText: r.RawText}
	}
	return out
}

// buildChunker applies cfg.Chunking.Enable: a disabled chunker always
// produces one unsplit node per row regardless of the configured method.
func buildChunker(cfg *config.Config) embedding.Chunker {
	method := embedding.ChunkMethod(cfg.Chunking.Method)
	if !cfg.Chunking.Enable {
		method = embedding.ChunkNone
	}
	return embedding.NewChunker(method, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
}

// providerConfigFrom selects the API key/host/base URL fields relevant to
// cfg.Embedding.Provider; unused fields are left zero since each provider
// constructor only reads the ones it needs (embedding.ProviderConfig).
func providerConfigFrom(cfg *config.Config) embedding.ProviderConfig {
	pc := embedding.ProviderConfig{
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
	}
	switch embedding.ProviderType(cfg.Embedding.Provider) {
	case embedding.ProviderOllama:
		pc.Host = cfg.Embedding.Ollama.Host
	case embedding.ProviderOpenAI:
		pc.APIKey = cfg.Embedding.OpenAI.APIKey
		pc.BaseURL = cfg.Embedding.OpenAI.BaseURL
	case embedding.ProviderVoyage:
		pc.APIKey = cfg.Embedding.Voyage.APIKey
		pc.BaseURL = cfg.Embedding.Voyage.BaseURL
	case embedding.ProviderGemini:
		pc.APIKey = cfg.Embedding.Gemini.APIKey
	}
	return pc
}

// buildSinks constructs one Writer per entry in cfg.Sinks.Enabled plus the
// optional pgvector mirror, returning cleanup funcs for the sinks that hold
// live connections.
func buildSinks(cfg *config.Config) ([]sinks.Writer, []func(), error) {
	var writers []sinks.Writer
	var closers []func()

	for _, name := range cfg.Sinks.Enabled {
		switch name {
		case "parquet":
			writers = append(writers, sinks.NewColumnarSink(cfg.Sinks.Parquet))
		case "search":
			w, err := sinks.NewSearchSink(cfg.Sinks.Search)
			if err != nil {
				return nil, nil, fmt.Errorf("search sink: %w", err)
			}
			writers = append(writers, w)
		case "graph":
			w, err := sinks.NewGraphSink(cfg.Sinks.Graph)
			if err != nil {
				return nil, nil, fmt.Errorf("graph sink: %w", err)
			}
			writers = append(writers, w)
			ctx := context.Background()
			closers = append(closers, func() { _ = w.Close(ctx) })
		}
	}

	if cfg.Sinks.Vector.Enabled {
		w, err := sinks.NewVectorMirrorSink(cfg.Sinks.Vector)
		if err != nil {
			return nil, nil, fmt.Errorf("vector mirror sink: %w", err)
		}
		writers = append(writers, w)
		closers = append(closers, func() { _ = w.Close() })
	}

	return writers, closers, nil
}

func newPropertyFactory(cfg *config.Config, store *tablestore.Store, refs []tiers.LocationRef,
	provider embedding.Provider, sinkWriters []sinks.Writer, runID string, sampleSize int) runner.OrchestratorFactory {
	return func(ctx context.Context, deps runner.Dependencies) (*orchestrator.EntityOrchestrator, error) {
		reader := sources.NewPropertyReader()
		engine := embedding.NewEngine(provider, embedding.EngineConfig{
			PrimaryKeyField: "listing_id",
			BatchSize:       cfg.Embedding.BatchSize,
			MaxRetries:      cfg.Embedding.MaxRetries,
			RetryDelayMs:    cfg.Embedding.RetryDelayMs,
			TimeoutMs:       cfg.Embedding.TimeoutMs,
			Parallelism:     cfg.Run.Parallelism,
			Chunker:         buildChunker(cfg),
		})

		return &orchestrator.EntityOrchestrator{
			Entity: core.EntityProperty,
			LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
				raw, stats, err := reader.Read(ctx, cfg.Sources.PropertyPath, sampleSize)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				name, count, _, err := tiers.PropertyBronze(store, runID, toRawRows(raw.Rows))
				if err != nil {
					return core.ProcessedTable{}, err
				}
				logger.Info("bronze loaded", "entity", "property", "rows_read", stats.RowsRead, "rows_corrupt", stats.RowsCorrupt)
				return core.ProcessedTable{Name: name, Entity: core.EntityProperty, Tier: core.TierBronze, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.PropertySilver(store, runID, bronze.Name)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityProperty, Tier: core.TierSilver, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.PropertyGold(store, runID, silver.Name, refs)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityProperty, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			Enrich: func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error) {
				var out []core.ProcessedTable
				var errs error
				if deps.NeighborhoodGoldTable != "" {
					name, count, err := enrichment.PropertyNeighborhood(store, runID, gold.Name, deps.NeighborhoodGoldTable)
					if err != nil {
						errs = err
					} else {
						out = append(out, core.ProcessedTable{Name: name, Entity: core.EntityProperty, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()})
					}
				}
				if deps.WikipediaGoldTable != "" {
					name, count, err := enrichment.PropertyWikipedia(store, runID, gold.Name, deps.WikipediaGoldTable, enrichment.DefaultPropertyWikiTopN)
					if err != nil {
						errs = err
					} else {
						out = append(out, core.ProcessedTable{Name: name, Entity: core.EntityProperty, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()})
					}
				}
				return out, errs
			},
			Embed: func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error) {
				return engine.Run(ctx, store, string(core.EntityProperty), gold.Name, runID)
			},
			Sinks:      sinkWriters,
			Store:      store,
			SampleSize: sampleSize,
		}, nil
	}
}

func newNeighborhoodFactory(cfg *config.Config, store *tablestore.Store, refs []tiers.LocationRef,
	provider embedding.Provider, sinkWriters []sinks.Writer, runID string, sampleSize int) runner.OrchestratorFactory {
	return func(ctx context.Context, deps runner.Dependencies) (*orchestrator.EntityOrchestrator, error) {
		reader := sources.NewNeighborhoodReader()
		engine := embedding.NewEngine(provider, embedding.EngineConfig{
			PrimaryKeyField: "neighborhood_id",
			BatchSize:       cfg.Embedding.BatchSize,
			MaxRetries:      cfg.Embedding.MaxRetries,
			RetryDelayMs:    cfg.Embedding.RetryDelayMs,
			TimeoutMs:       cfg.Embedding.TimeoutMs,
			Parallelism:     cfg.Run.Parallelism,
			Chunker:         buildChunker(cfg),
		})

		return &orchestrator.EntityOrchestrator{
			Entity: core.EntityNeighborhood,
			LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
				raw, stats, err := reader.Read(ctx, cfg.Sources.NeighborhoodPath, sampleSize)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				name, count, _, err := tiers.NeighborhoodBronze(store, runID, toRawRows(raw.Rows))
				if err != nil {
					return core.ProcessedTable{}, err
				}
				logger.Info("bronze loaded", "entity", "neighborhood", "rows_read", stats.RowsRead, "rows_corrupt", stats.RowsCorrupt)
				return core.ProcessedTable{Name: name, Entity: core.EntityNeighborhood, Tier: core.TierBronze, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.NeighborhoodSilver(store, runID, bronze.Name)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityNeighborhood, Tier: core.TierSilver, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.NeighborhoodGold(store, runID, silver.Name, refs)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityNeighborhood, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			// Enrich is deliberately left unset here: neighborhood's Enrich
			// stage joins against wikipedia's Gold table, which
			// doesn't exist yet when this factory runs (neighborhood and
			// wikipedia build to Gold concurrently). See
			// newNeighborhoodEnrichFactory, registered separately via
			// Registry.RegisterEnrich and resolved only after both
			// entities' Gold barrier.
			Embed: func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error) {
				return engine.Run(ctx, store, string(core.EntityNeighborhood), gold.Name, runID)
			},
			Sinks:      sinkWriters,
			Store:      store,
			SampleSize: sampleSize,
		}, nil
	}
}

// newNeighborhoodEnrichFactory builds neighborhood's cross-entity Enrich
// stage (the neighborhood⨝wikipedia top-N=5 join) from Dependencies
// captured after both neighborhood and wikipedia have reached Gold. It is
// registered via Registry.RegisterEnrich, not embedded in
// newNeighborhoodFactory's OrchestratorFactory, because that factory runs
// before wikipedia's Gold table exists (internal/runner.Runner barriers on
// both entities' Gold stage before resolving any EnrichFactory).
func newNeighborhoodEnrichFactory(store *tablestore.Store, runID string) runner.EnrichFactory {
	return func(deps runner.Dependencies) orchestrator.EnrichmentFunc {
		return func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error) {
			if deps.WikipediaGoldTable == "" {
				return nil, nil
			}
			name, count, err := enrichment.NeighborhoodWikipedia(store, runID, gold.Name, deps.WikipediaGoldTable, enrichment.DefaultNeighborhoodWikiTopN)
			if err != nil {
				return nil, err
			}
			return []core.ProcessedTable{{Name: name, Entity: core.EntityNeighborhood, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()}}, nil
		}
	}
}

func newWikipediaFactory(cfg *config.Config, store *tablestore.Store, refs []tiers.LocationRef,
	provider embedding.Provider, sinkWriters []sinks.Writer, runID string, sampleSize int) runner.OrchestratorFactory {
	return func(ctx context.Context, deps runner.Dependencies) (*orchestrator.EntityOrchestrator, error) {
		engine := embedding.NewEngine(provider, embedding.EngineConfig{
			PrimaryKeyField: "page_id",
			BatchSize:       cfg.Embedding.BatchSize,
			MaxRetries:      cfg.Embedding.MaxRetries,
			RetryDelayMs:    cfg.Embedding.RetryDelayMs,
			TimeoutMs:       cfg.Embedding.TimeoutMs,
			Parallelism:     cfg.Run.Parallelism,
			Chunker:         buildChunker(cfg),
		})

		return &orchestrator.EntityOrchestrator{
			Entity: core.EntityWikipedia,
			LoadBronze: func(ctx context.Context, sampleSize int) (core.ProcessedTable, error) {
				db, err := sql.Open("sqlite3", cfg.Sources.WikipediaDSN)
				if err != nil {
					return core.ProcessedTable{}, fmt.Errorf("open wikipedia source: %w", err)
				}
				defer db.Close()

				raw, stats, err := sources.NewWikipediaReader(db, "sqlite3").Read(ctx, cfg.Sources.WikipediaDSN, sampleSize)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				name, count, _, err := tiers.WikipediaBronze(store, runID, toRawRows(raw.Rows))
				if err != nil {
					return core.ProcessedTable{}, err
				}
				logger.Info("bronze loaded", "entity", "wikipedia", "rows_read", stats.RowsRead, "rows_corrupt", stats.RowsCorrupt)
				return core.ProcessedTable{Name: name, Entity: core.EntityWikipedia, Tier: core.TierBronze, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessSilver: func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.WikipediaSilver(store, runID, bronze.Name)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityWikipedia, Tier: core.TierSilver, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			ProcessGold: func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error) {
				name, count, err := tiers.WikipediaGold(store, runID, silver.Name, refs)
				if err != nil {
					return core.ProcessedTable{}, err
				}
				return core.ProcessedTable{Name: name, Entity: core.EntityWikipedia, Tier: core.TierGold, RecordCount: count, RunTimestamp: time.Now()}, nil
			},
			Embed: func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error) {
				return engine.Run(ctx, store, string(core.EntityWikipedia), gold.Name, runID)
			},
			Sinks:      sinkWriters,
			Store:      store,
			SampleSize: sampleSize,
		}, nil
	}
}
