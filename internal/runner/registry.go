// Package runner implements the Pipeline Registry & Top-Level Runner (C9):
// a local (non-singleton) registry mapping entity types to orchestrator
// factories, and the Runner that drives the deterministic entity ordering
// — neighborhood and wikipedia in parallel, property last, since property
// enrichment depends on both of their Gold tables — then aggregates a
// final RunReport. The registry is a plain map on a struct value, built at
// startup and passed down explicitly — no package-level global state.
package runner

import (
	"context"
	"fmt"
	"sync"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/orchestrator"
)

// Dependencies carries the Gold table names an entity's orchestrator needs
// from entities that ran before it, so its Enrich stage can join against
// them.
type Dependencies struct {
	NeighborhoodGoldTable string
	WikipediaGoldTable    string
}

// OrchestratorFactory builds the EntityOrchestrator for one entity type,
// wired with whatever dependency tables are available at the time it runs.
type OrchestratorFactory func(ctx context.Context, deps Dependencies) (*orchestrator.EntityOrchestrator, error)

// EnrichFactory builds an entity's cross-entity EnrichmentFunc from
// Dependencies known only after a Gold barrier — e.g. neighborhood's
// wikipedia join, which needs WikipediaGoldTable and so cannot
// be baked into an OrchestratorFactory called before wikipedia reaches
// Gold. Registered separately from OrchestratorFactory so an entity's
// Bronze/Silver/Gold stages can be built (and run to Gold) before its
// Enrich stage is.
type EnrichFactory func(deps Dependencies) orchestrator.EnrichmentFunc

// Registry maps entity types to their orchestrator factories. It is a
// plain value, not a package-level singleton: callers build one with
// NewRegistry and register factories onto it explicitly.
type Registry struct {
	mu              sync.RWMutex
	factories       map[core.EntityType]OrchestratorFactory
	enrichFactories map[core.EntityType]EnrichFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:       make(map[core.EntityType]OrchestratorFactory),
		enrichFactories: make(map[core.EntityType]EnrichFactory),
	}
}

// Register adds or replaces the factory for entity.
func (r *Registry) Register(entity core.EntityType, factory OrchestratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[entity] = factory
}

// Unregister removes entity's factory, reporting whether one was present.
func (r *Registry) Unregister(entity core.EntityType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[entity]; !ok {
		return false
	}
	delete(r.factories, entity)
	return true
}

// Get returns entity's factory, if registered.
func (r *Registry) Get(entity core.EntityType) (OrchestratorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[entity]
	return f, ok
}

// RegisterEnrich adds or replaces entity's EnrichFactory, used for entities
// whose Enrich stage must be deferred until a post-Gold-barrier
// Dependencies is known (see EnrichFactory).
func (r *Registry) RegisterEnrich(entity core.EntityType, factory EnrichFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichFactories[entity] = factory
}

// GetEnrich returns entity's EnrichFactory, if registered.
func (r *Registry) GetEnrich(entity core.EntityType) (EnrichFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.enrichFactories[entity]
	return f, ok
}

// List returns every registered entity type.
func (r *Registry) List() []core.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.EntityType, 0, len(r.factories))
	for e := range r.factories {
		out = append(out, e)
	}
	return out
}

func (r *Registry) build(ctx context.Context, entity core.EntityType, deps Dependencies) (*orchestrator.EntityOrchestrator, error) {
	factory, ok := r.Get(entity)
	if !ok {
		return nil, fmt.Errorf("runner: no orchestrator registered for entity %q", entity)
	}
	return factory(ctx, deps)
}
