// Package orchestrator implements the Entity Pipeline Orchestrator (C8): an
// explicit per-entity state machine driving Bronze, Silver, Gold,
// (optional) cross-entity Enrichment, Embedding, and Sink-write stages.
// One orchestrator value serves every entity type; the per-entity behavior
// is supplied as injected stage functions rather than subclassing.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
	"realestate-kb-pipeline/internal/logger"
	"realestate-kb-pipeline/internal/sinks"
)

// State names one point in the orchestrator's state machine.
type State string

const (
	StateInit       State = "init"
	StateBronze     State = "bronze"
	StateSilver     State = "silver"
	StateGold       State = "gold"
	StateEnrichment State = "enrichment"
	StateEmbedding  State = "embedding"
	StateSinks      State = "sinks"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// RowStore is the tablestore surface needed to hand Gold rows to sinks.
type RowStore interface {
	Query(selectSQL string, args ...any) ([]map[string]any, error)
}

// BronzeFunc loads raw data into the Bronze tier, honoring an optional
// sample size (0 means unlimited).
type BronzeFunc func(ctx context.Context, sampleSize int) (core.ProcessedTable, error)

// SilverFunc processes a Bronze table into the Silver tier.
type SilverFunc func(ctx context.Context, bronze core.ProcessedTable) (core.ProcessedTable, error)

// GoldFunc processes a Silver table into the Gold tier.
type GoldFunc func(ctx context.Context, silver core.ProcessedTable) (core.ProcessedTable, error)

// EnrichmentFunc runs the cross-entity projections this entity participates
// in against its Gold table. Optional: an orchestrator with a nil
// EnrichmentFunc skips the stage entirely (e.g. Wikipedia, which is only
// ever the target side of a correlation).
type EnrichmentFunc func(ctx context.Context, gold core.ProcessedTable) ([]core.ProcessedTable, error)

// EmbeddingFunc runs the embedding engine against an entity's Gold table,
// returning the embeddings table name and run statistics.
type EmbeddingFunc func(ctx context.Context, gold core.ProcessedTable) (string, embedding.Stats, error)

// EntityOrchestrator drives one entity through every pipeline stage. It is
// built by an OrchestratorFactory (see internal/runner) with the stage
// functions and sinks appropriate to that entity.
type EntityOrchestrator struct {
	Entity        core.EntityType
	LoadBronze    BronzeFunc
	ProcessSilver SilverFunc
	ProcessGold   GoldFunc
	Enrich        EnrichmentFunc // optional
	Embed         EmbeddingFunc  // optional
	Sinks         []sinks.Writer
	Store         RowStore
	SampleSize    int
}

// Result is the outcome of one entity's Run.
type Result struct {
	State           State
	Metrics         *core.EntityMetrics
	ProcessedTables []core.ProcessedTable
	GoldTable       core.ProcessedTable
	EmbeddingsTable string
}

// failResult transitions result to Failed, records the failing stage and
// cause on metrics, logs it, and returns the (result, error) pair every
// stage-failure return site needs.
func failResult(result *Result, metrics *core.EntityMetrics, entity core.EntityType, stage string, err error) (*Result, error) {
	result.State = StateFailed
	metrics.FailedStage = stage
	metrics.FailureCause = err.Error()
	logger.Error("orchestrator: stage failed", err, "entity", entity, "stage", stage)
	return result, fmt.Errorf("%s %s: %w", entity, stage, err)
}

// RunToGold drives Init→Bronze→Silver→Gold only, leaving Enrichment,
// Embedding, and Sinks to a subsequent RunFromGold call. Splitting the
// state machine here lets the top-level runner (internal/runner) barrier
// on Gold across entities that ran concurrently — neighborhood and
// wikipedia — before committing to an Enrich stage that may
// depend on another entity's Gold table not known until both reach Gold.
// A failure at any stage transitions to Failed, records
// FailedStage/FailureCause on the metrics, and returns the error.
func (o *EntityOrchestrator) RunToGold(ctx context.Context) (*Result, error) {
	metrics := core.NewEntityMetrics(o.Entity)
	result := &Result{State: StateInit, Metrics: metrics}

	logger.Stage(string(o.Entity), string(StateBronze))
	start := time.Now()
	bronze, err := o.LoadBronze(ctx, o.SampleSize)
	if err != nil {
		return failResult(result, metrics, o.Entity, "bronze", err)
	}
	metrics.BronzeRecords = bronze.RecordCount
	metrics.DurationsMsPerStage["bronze"] = time.Since(start).Milliseconds()
	result.ProcessedTables = append(result.ProcessedTables, bronze)
	result.State = StateSilver

	logger.Stage(string(o.Entity), string(StateSilver))
	start = time.Now()
	silver, err := o.ProcessSilver(ctx, bronze)
	if err != nil {
		return failResult(result, metrics, o.Entity, "silver", err)
	}
	metrics.SilverRecords = silver.RecordCount
	metrics.DurationsMsPerStage["silver"] = time.Since(start).Milliseconds()
	result.ProcessedTables = append(result.ProcessedTables, silver)
	o.collectQualityDistribution(silver.Name, metrics)
	result.State = StateGold

	logger.Stage(string(o.Entity), string(StateGold))
	start = time.Now()
	gold, err := o.ProcessGold(ctx, silver)
	if err != nil {
		return failResult(result, metrics, o.Entity, "gold", err)
	}
	metrics.GoldRecords = gold.RecordCount
	metrics.DurationsMsPerStage["gold"] = time.Since(start).Milliseconds()
	result.ProcessedTables = append(result.ProcessedTables, gold)
	result.GoldTable = gold
	result.State = StateGold
	return result, nil
}

// collectQualityDistribution fills metrics.QualityScoreDistribution with
// the per-validation_status row counts of the freshly written Silver
// table. A store without that column (or no store at all) just leaves
// the distribution empty.
func (o *EntityOrchestrator) collectQualityDistribution(silverTable string, metrics *core.EntityMetrics) {
	if o.Store == nil || silverTable == "" {
		return
	}
	rows, err := o.Store.Query(fmt.Sprintf(
		`SELECT validation_status, COUNT(*) AS n FROM "%s" GROUP BY validation_status`, silverTable))
	if err != nil {
		return
	}
	for _, r := range rows {
		status, _ := r["validation_status"].(string)
		n, ok := r["n"].(int64)
		if status == "" || !ok {
			continue
		}
		metrics.QualityScoreDistribution[status] = n
	}
}

// RunFromGold continues a Result produced by RunToGold through
// Enrichment→Embedding→Sinks→Done/Failed. When enrich is non-nil it
// overrides o.Enrich for this call: the top-level runner uses this to
// supply an EnrichmentFunc built only after a cross-entity Gold barrier,
// for an entity (e.g. neighborhood) whose own Enrich stage needs another
// entity's Gold table name that doesn't exist yet at construction time.
// When enrich is nil, o.Enrich runs as usual (or the stage is skipped, if
// o.Enrich is itself nil).
func (o *EntityOrchestrator) RunFromGold(ctx context.Context, result *Result, enrich EnrichmentFunc) (*Result, error) {
	metrics := result.Metrics
	gold := result.GoldTable
	if enrich == nil {
		enrich = o.Enrich
	}

	result.State = StateEnrichment
	var enrichedTables []core.ProcessedTable
	if enrich != nil {
		logger.Stage(string(o.Entity), string(StateEnrichment))
		start := time.Now()
		enriched, err := enrich(ctx, gold)
		if err != nil {
			// A projection failure is logged and skipped, never fatal to
			// the entity's own pipeline run.
			logger.Warn("orchestrator: enrichment stage degraded", "entity", o.Entity, "error", err.Error())
		} else {
			result.ProcessedTables = append(result.ProcessedTables, enriched...)
			enrichedTables = enriched
		}
		metrics.DurationsMsPerStage["enrichment"] = time.Since(start).Milliseconds()
	}
	result.State = StateEmbedding

	if o.Embed != nil {
		logger.Stage(string(o.Entity), string(StateEmbedding))
		start := time.Now()
		embTable, stats, err := o.Embed(ctx, gold)
		if err != nil {
			return failResult(result, metrics, o.Entity, "embedding", err)
		}
		result.EmbeddingsTable = embTable
		metrics.EmbeddedRecords = int64(stats.NodesEmbedded)
		metrics.DurationsMsPerStage["embedding"] = time.Since(start).Milliseconds()
	}
	result.State = StateSinks

	if len(o.Sinks) > 0 && o.Store != nil {
		logger.Stage(string(o.Entity), string(StateSinks))
		start := time.Now()

		goldRows, err := sinks.LoadTable(o.Store, gold.Name)
		if err != nil {
			return failResult(result, metrics, o.Entity, "sinks", err)
		}
		var embeddingRows []map[string]any
		if result.EmbeddingsTable != "" {
			embeddingRows, err = sinks.LoadTable(o.Store, result.EmbeddingsTable)
			if err != nil {
				return failResult(result, metrics, o.Entity, "sinks", err)
			}
		}
		enrichedRows := make([][]map[string]any, 0, len(enrichedTables))
		for _, et := range enrichedTables {
			rows, err := sinks.LoadTable(o.Store, et.Name)
			if err != nil {
				logger.Warn("orchestrator: enriched table read failed", "entity", o.Entity, "table", et.Name, "error", err.Error())
				continue
			}
			enrichedRows = append(enrichedRows, rows)
		}

		// Each writer consumes the tables it was built for: the vector
		// mirror reads the embeddings node table, the upsert-keyed sinks
		// read the Gold rows plus each enriched projection, and the rest
		// read the Gold rows alone.
		for _, writer := range o.Sinks {
			switch writer.Source() {
			case sinks.SourceEmbeddings:
				if result.EmbeddingsTable == "" {
					continue
				}
				o.writeSink(ctx, writer, embeddingRows, metrics)
			case sinks.SourceGoldEnriched:
				o.writeSink(ctx, writer, goldRows, metrics)
				for _, rows := range enrichedRows {
					o.writeSink(ctx, writer, rows, metrics)
				}
			default:
				o.writeSink(ctx, writer, goldRows, metrics)
			}
		}
		metrics.DurationsMsPerStage["sinks"] = time.Since(start).Milliseconds()
	}

	result.State = StateDone
	logger.Info("orchestrator: entity pipeline complete", "entity", o.Entity,
		"bronze", metrics.BronzeRecords, "silver", metrics.SilverRecords, "gold", metrics.GoldRecords)
	return result, nil
}

// writeSink runs one Write call, accumulating the per-sink record count so
// a sink fed multiple tables (Gold plus enriched projections) reports
// their sum; a failure is logged and skipped per the sink-failure policy.
func (o *EntityOrchestrator) writeSink(ctx context.Context, writer sinks.Writer, rows []map[string]any, metrics *core.EntityMetrics) {
	wr, err := writer.Write(ctx, o.Entity, rows)
	if err != nil {
		logger.Warn("orchestrator: sink write failed", "entity", o.Entity, "sink", wr.Sink, "error", err.Error())
		return
	}
	metrics.SinkRecordsPerSink[wr.Sink] += wr.RecordCount
}

// Run drives the full Init→Bronze→Silver→Gold→[Enrichment]→Embedding→Sinks→
// Done/Failed state machine for one entity in a single call: RunToGold
// followed by RunFromGold using o.Enrich unmodified. Entities that don't
// need a cross-entity Gold barrier before enriching (or have no Enrich
// stage at all) use this directly; the top-level runner
// (internal/runner.Runner) calls RunToGold/RunFromGold separately for
// entities that run concurrently and enrich off each other's Gold table.
// A failure at any stage transitions to Failed and halts this entity's
// orchestrator only; the caller decides whether that also keeps entities
// that haven't started yet from starting, via its own StopOnError flag.
func (o *EntityOrchestrator) Run(ctx context.Context) (*Result, error) {
	result, err := o.RunToGold(ctx)
	if err != nil {
		return result, err
	}
	return o.RunFromGold(ctx, result, nil)
}
