// Package sinks implements the Sink Writers (C7): the columnar, search-index,
// graph-store, and optional pgvector-mirror destinations a Gold (or
// embedding) table can be written to. Every writer
// implements Writer and reports a WriteResult rather than aborting the run
// on a partial failure — sink failures degrade, they never panic the
// pipeline.
package sinks

import (
	"context"

	"realestate-kb-pipeline/internal/core"
)

// Source names which pipeline tables a Writer consumes. The columnar,
// search, and graph sinks all read entity-shaped rows — primary-key
// columns, latitude/longitude, partition keys — which exist only on the
// Gold and enriched tables; the vector mirror is the one sink whose
// input is the embeddings node table.
type Source string

const (
	// SourceGold: the entity's Gold table only. The columnar sink writes
	// one file set per entity, so it takes the Gold rows alone rather
	// than clobbering them with a second enriched-projection write.
	SourceGold Source = "gold"
	// SourceGoldEnriched: the Gold table plus each enriched projection —
	// the upsert-keyed sinks (search, graph), where the projections'
	// linkage columns land on the same documents/nodes.
	SourceGoldEnriched Source = "gold+enriched"
	// SourceEmbeddings: the {entity}_gold_embeddings_{runId} node table.
	SourceEmbeddings Source = "embeddings"
)

// Writer is the common interface every sink implements. Source tells the
// orchestrator which table's rows to feed the sink.
type Writer interface {
	Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error)
	Source() Source
}

// RowStore is the minimal tablestore surface a sink needs to pull the rows
// it writes.
type RowStore interface {
	Query(selectSQL string, args ...any) ([]map[string]any, error)
}

// LoadTable reads every row of a named table through store, for sinks that
// consume a table directly rather than a pre-fetched row slice.
func LoadTable(store RowStore, table string) ([]map[string]any, error) {
	return store.Query(`SELECT * FROM "` + table + `"`)
}
