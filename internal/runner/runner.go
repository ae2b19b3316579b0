package runner

import (
	"context"
	"fmt"
	"time"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/logger"
	"realestate-kb-pipeline/internal/orchestrator"
)

// Runner drives every registered entity through its orchestrator in the
// deterministic order and aggregates the final RunReport.
type Runner struct {
	Registry *Registry
	RunID    string
	// StopOnError, when true, prevents any entity that hasn't started yet
	// from starting once another entity has failed (here: property, which
	// always runs after the neighborhood/wikipedia wave). A failed entity
	// never halts one that is already running either way.
	StopOnError bool
}

// NewRunner builds a Runner over registry for one pipeline run.
func NewRunner(registry *Registry, runID string) *Runner {
	return &Runner{Registry: registry, RunID: runID}
}

type entityOutcome struct {
	entity core.EntityType
	result *orchestrator.Result
	err    error
}

// goldOutcome is an entityOutcome plus the live orchestrator it ran on, so
// a second phase can resume it with RunFromGold once cross-entity
// dependencies are known.
type goldOutcome struct {
	entity entityOutcome
	orch   *orchestrator.EntityOrchestrator
}

// Run executes neighborhood and wikipedia concurrently through Gold
// (neither's Bronze/Silver/Gold stage depends on the other), barriers on
// both reaching Gold, then runs each one's Enrich stage — rebuilt from the
// now-fully-populated Dependencies, so e.g. neighborhood's wikipedia join
// sees wikipedia's real Gold table name instead of the empty string
// it would have been built with before wikipedia existed — through
// Embedding/Sinks. Property runs last and sequentially, since its own
// Enrich stage needs both of the first wave's Gold tables.
// It never returns early on a single entity's failure — every
// registered entity gets a chance to run, except that with StopOnError
// set a first-wave failure skips property — and the aggregate
// RunReport.ExitCode reflects whatever failed.
func (r *Runner) Run(ctx context.Context) (*core.RunReport, error) {
	report := &core.RunReport{
		RunID:         r.RunID,
		StartedAt:     time.Now(),
		EntityMetrics: make(map[core.EntityType]*core.EntityMetrics),
	}

	firstWave := []core.EntityType{core.EntityNeighborhood, core.EntityWikipedia}
	var registered []core.EntityType
	for _, entity := range firstWave {
		if _, ok := r.Registry.Get(entity); ok {
			registered = append(registered, entity)
		}
	}

	// Phase 1: Bronze→Silver→Gold for the first wave, concurrently, barrier
	// on all of them reaching Gold (or failing) before any Enrich stage
	// runs.
	goldResults := make(chan goldOutcome, len(registered))
	for _, entity := range registered {
		entity := entity
		go func() {
			orch, result, err := r.runEntityToGold(ctx, entity, Dependencies{})
			goldResults <- goldOutcome{entity: entityOutcome{entity: entity, result: result, err: err}, orch: orch}
		}()
	}

	deps := Dependencies{}
	outcomes := make(map[core.EntityType]goldOutcome, len(registered))
	firstWaveFailed := false
	for i := 0; i < len(registered); i++ {
		g := <-goldResults
		outcomes[g.entity.entity] = g
		if g.entity.err != nil {
			firstWaveFailed = true
			continue
		}
		if g.entity.result != nil {
			switch g.entity.entity {
			case core.EntityNeighborhood:
				deps.NeighborhoodGoldTable = g.entity.result.GoldTable.Name
			case core.EntityWikipedia:
				deps.WikipediaGoldTable = g.entity.result.GoldTable.Name
			}
		}
	}

	// Phase 2: now that deps reflects every first-wave Gold table, resume
	// each entity that reached Gold through Enrichment→Embedding→Sinks,
	// concurrently, barrier on completion before recording metrics.
	finished := make(chan entityOutcome, len(registered))
	pending := 0
	for _, entity := range registered {
		g := outcomes[entity]
		if g.entity.err != nil {
			finished <- g.entity
			pending++
			continue
		}
		pending++
		go func(g goldOutcome) {
			var enrich orchestrator.EnrichmentFunc
			if factory, ok := r.Registry.GetEnrich(g.entity.entity); ok {
				enrich = factory(deps)
			}
			result, err := g.orch.RunFromGold(ctx, g.entity.result, enrich)
			finished <- entityOutcome{entity: g.entity.entity, result: result, err: err}
		}(g)
	}
	for i := 0; i < pending; i++ {
		r.recordOutcome(report, <-finished)
	}

	if _, ok := r.Registry.Get(core.EntityProperty); ok {
		if r.StopOnError && firstWaveFailed {
			logger.Warn("runner: skipping property, an earlier entity failed and stop_on_error is set")
		} else {
			result, err := r.runEntity(ctx, core.EntityProperty, deps)
			r.recordOutcome(report, entityOutcome{entity: core.EntityProperty, result: result, err: err})
		}
	}

	report.FinishedAt = time.Now()
	report.SinkResults = aggregateSinkResults(report)
	report.ExitCode = computeExitCode(report)
	return report, nil
}

// aggregateSinkResults flattens each entity's per-sink record counts into
// the top-level RunReport's sink results, one entry per (entity, sink)
// pair.
func aggregateSinkResults(report *core.RunReport) []core.WriteResult {
	var results []core.WriteResult
	for entity, m := range report.EntityMetrics {
		for sink, count := range m.SinkRecordsPerSink {
			results = append(results, core.WriteResult{
				Sink: fmt.Sprintf("%s:%s", entity, sink), Success: count > 0, RecordCount: count,
			})
		}
	}
	return results
}

func (r *Runner) runEntity(ctx context.Context, entity core.EntityType, deps Dependencies) (*orchestrator.Result, error) {
	o, err := r.Registry.build(ctx, entity, deps)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// runEntityToGold builds entity's orchestrator and drives it through Gold
// only, returning the live orchestrator alongside the partial result so a
// later phase can resume it with RunFromGold once cross-entity
// Dependencies are fully known.
func (r *Runner) runEntityToGold(ctx context.Context, entity core.EntityType, deps Dependencies) (*orchestrator.EntityOrchestrator, *orchestrator.Result, error) {
	o, err := r.Registry.build(ctx, entity, deps)
	if err != nil {
		return nil, nil, err
	}
	result, err := o.RunToGold(ctx)
	return o, result, err
}

func (r *Runner) recordOutcome(report *core.RunReport, o entityOutcome) {
	if o.result != nil {
		report.EntityMetrics[o.entity] = o.result.Metrics
	}
	if o.err != nil {
		logger.Error("runner: entity pipeline failed", o.err, "entity", o.entity)
		if o.result == nil {
			metrics := core.NewEntityMetrics(o.entity)
			metrics.FailedStage = "bronze"
			metrics.FailureCause = o.err.Error()
			report.EntityMetrics[o.entity] = metrics
		}
	}
}

// computeExitCode maps the final RunReport onto the exit codes the
// top-level runner is responsible for: 1 if any entity's orchestrator
// ended in Failed, 3 if every registered entity produced zero Bronze
// records (all sources empty), 0 otherwise. Exit code 2 (invalid config)
// is never produced here — it is raised by internal/config.Load before a
// Runner is even constructed.
func computeExitCode(report *core.RunReport) int {
	if len(report.EntityMetrics) == 0 {
		return 3
	}

	anyFailed := false
	allEmpty := true
	for _, m := range report.EntityMetrics {
		if m.FailedStage != "" {
			anyFailed = true
		}
		if m.BronzeRecords > 0 {
			allEmpty = false
		}
	}
	if anyFailed {
		return 1
	}
	if allEmpty {
		return 3
	}
	return 0
}
