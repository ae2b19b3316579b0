// Package embedding implements the Embedding Engine (C5): per-entity text
// templates, chunking, a pluggable Provider abstraction, and a sharded,
// retrying batch engine that writes vectors back into a Gold-embeddings
// table without ever failing the run on a provider error.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"realestate-kb-pipeline/internal/logger"
)

// RowStore is the minimal tablestore surface the engine needs: reading
// Gold rows and materializing the embeddings table. Defined locally
// (rather than importing internal/tablestore's concrete type) so this
// package stays a thin consumer of the store's declarative contract, the
// same shape internal/tiers.RowStore uses for its own tier processors.
type RowStore interface {
	Query(selectSQL string, args ...any) ([]map[string]any, error)
	CreateTableFromRows(name string, rows []map[string]any) error
}

// Defaults for the embedding engine knobs.
const (
	DefaultBatchSize    = 20
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 1000
	DefaultTimeoutMs    = 60000
	DefaultShardCount   = 4
)

// EngineConfig configures one Engine.Run invocation.
type EngineConfig struct {
	PrimaryKeyField string
	BatchSize       int
	MaxRetries      int
	RetryDelayMs    int
	TimeoutMs       int
	Parallelism     int
	Chunker         Chunker
}

// withDefaults fills unset knobs with the documented defaults.
func (c EngineConfig) withDefaults() EngineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelayMs <= 0 {
		c.RetryDelayMs = DefaultRetryDelayMs
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultShardCount
	}
	return c
}

// Engine runs the embedding pipeline stage for one entity's Gold table.
type Engine struct {
	Provider Provider
	Config   EngineConfig
}

// NewEngine constructs an Engine bound to a provider and configuration.
func NewEngine(provider Provider, cfg EngineConfig) *Engine {
	return &Engine{Provider: provider, Config: cfg.withDefaults()}
}

// Stats summarizes one Engine.Run invocation: the embedded_records metric
// plus the failure/degradation counters.
type Stats struct {
	NodesTotal      int64
	NodesEmbedded   int64
	NodesFailed     int64
	RowsSkippedText int64
	Degraded        bool
	DegradedReason  string
}

// node is one unit of text submitted to the provider, carrying enough
// lineage to reassemble its (primary_key, chunk_index) identity in the
// output table.
type node struct {
	primaryKey string
	chunkIndex int
	chunkTotal int
	text       string
	vector     []float64
	failed     bool
}

// nodeID derives a stable per-node identifier from the primary key and
// chunk index, independent of processing order across shards.
func nodeID(entity, primaryKey string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", entity, primaryKey, chunkIndex)))
	return hex.EncodeToString(sum[:16])
}

// Run embeds every row of goldTable's embedding_text column and writes
// the result to "{entity}_gold_embeddings_{runId}". It never
// returns an error for a provider failure — only for a store I/O failure
// reading the Gold table or writing the output table. Provider failures
// degrade the run (null vectors, failure counters), they never fail it.
func (e *Engine) Run(ctx context.Context, store RowStore, entity, goldTable, runID string) (string, Stats, error) {
	rows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, goldTable))
	if err != nil {
		return "", Stats{}, fmt.Errorf("embedding: read gold table %q: %w", goldTable, err)
	}

	nodes, skipped := buildNodes(rows, entity, e.Config.PrimaryKeyField, e.Config.Chunker)
	stats := Stats{NodesTotal: int64(len(nodes)), RowsSkippedText: skipped}

	shards := partition(nodes, e.Config.Parallelism)

	var wg sync.WaitGroup
	for shardIdx, shard := range shards {
		wg.Add(1)
		go func(shardIdx int, shard []*node) {
			defer wg.Done()
			e.runShard(ctx, shardIdx, shard)
		}(shardIdx, shard)
	}
	wg.Wait()

	outRows := make([]map[string]any, 0, len(nodes))
	var dim int
	dimSet := false
	for _, n := range nodes {
		if n.failed {
			stats.NodesFailed++
		} else {
			stats.NodesEmbedded++
			if !dimSet {
				dim = len(n.vector)
				dimSet = true
			} else if len(n.vector) != dim {
				stats.Degraded = true
				stats.DegradedReason = ErrDimensionMismatch.Error()
			}
		}

		metadata, _ := json.Marshal(map[string]any{"chunk_total": n.chunkTotal})
		outRows = append(outRows, map[string]any{
			"primary_key":         n.primaryKey,
			"chunk_index":         n.chunkIndex,
			"node_id":             nodeID(entity, n.primaryKey, n.chunkIndex),
			"vector":              encodeVector(n.vector, n.failed),
			"embedding_model":     e.Provider.ModelID(),
			"embedding_dimension": len(n.vector),
			"embedded_at":         time.Now().UTC().Format(time.RFC3339),
			"node_metadata":       string(metadata),
		})
	}

	tableName := fmt.Sprintf("%s_gold_embeddings_%s", entity, runID)
	if err := store.CreateTableFromRows(tableName, outRows); err != nil {
		return "", stats, fmt.Errorf("embedding: write embeddings table %q: %w", tableName, err)
	}

	logger.Stage(entity, "embedding", "nodes_total", stats.NodesTotal, "nodes_embedded", stats.NodesEmbedded,
		"nodes_failed", stats.NodesFailed, "degraded", stats.Degraded)
	return tableName, stats, nil
}

// buildNodes chunks every row's embedding_text column into nodes. A row
// with empty text produces no nodes (skipped, not errored).
func buildNodes(rows []map[string]any, entity, pkField string, chunker Chunker) ([]*node, int64) {
	var nodes []*node
	var skipped int64
	for _, row := range rows {
		pk := fmt.Sprintf("%v", row[pkField])
		text, _ := row["embedding_text"].(string)
		chunks := chunker.Split(text)
		if len(chunks) == 0 {
			skipped++
			continue
		}
		for _, c := range chunks {
			nodes = append(nodes, &node{
				primaryKey: pk,
				chunkIndex: c.Index,
				chunkTotal: c.Total,
				text:       c.Text,
			})
		}
	}
	return nodes, skipped
}

// partition splits nodes into up to n shards, round-robin, so a worker's
// sub-batches stay a mix of rows rather than one worker draining a
// contiguous run (no ordering guarantee is required).
func partition(nodes []*node, n int) [][]*node {
	if n <= 0 {
		n = 1
	}
	if len(nodes) < n {
		n = len(nodes)
	}
	if n == 0 {
		return nil
	}
	shards := make([][]*node, n)
	for i, nd := range nodes {
		shards[i%n] = append(shards[i%n], nd)
	}
	return shards
}

// runShard processes one shard's nodes in sub-batches of the configured
// batch size, retrying each sub-batch with exponential backoff before
// giving up and marking its nodes vector-null.
func (e *Engine) runShard(ctx context.Context, shardIdx int, shard []*node) {
	batchSize := e.Config.BatchSize
	for start := 0; start < len(shard); start += batchSize {
		end := start + batchSize
		if end > len(shard) {
			end = len(shard)
		}
		e.runSubBatch(ctx, shard[start:end])
	}
}

// runSubBatch calls the provider once per attempt, with up to MaxRetries
// retries after the first attempt, backing off delay*2^attempt between attempts. A timeout or error on the
// final attempt marks every node in the sub-batch failed; cancellation of
// one sub-batch's context never poisons the rest of the shard.
func (e *Engine) runSubBatch(ctx context.Context, batch []*node) {
	texts := make([]string, len(batch))
	for i, n := range batch {
		texts[i] = n.text
	}

	var vectors [][]float64
	var err error
	for attempt := 0; attempt <= e.Config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.Config.TimeoutMs)*time.Millisecond)
		vectors, err = e.Provider.EmbedBatch(callCtx, texts)
		cancel()
		if err == nil {
			break
		}
		if attempt < e.Config.MaxRetries {
			delay := time.Duration(e.Config.RetryDelayMs) * time.Duration(math.Pow(2, float64(attempt))) * time.Millisecond
			logger.Warn("embedding sub-batch retry", "attempt", attempt+1, "delay_ms", delay.Milliseconds(), "error", err.Error())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = e.Config.MaxRetries
			}
		}
	}

	if err != nil {
		logger.Warn("embedding sub-batch permanent failure", "size", len(batch), "error", err.Error())
		for _, n := range batch {
			n.failed = true
		}
		return
	}

	for i, n := range batch {
		if i < len(vectors) {
			n.vector = vectors[i]
		} else {
			// Provider returned fewer vectors than inputs: nodes past
			// the returned count are vector-null.
			n.failed = true
		}
	}
}

// encodeVector JSON-encodes a vector for storage (sqlite has no native
// array column), or returns nil for a failed node so the column reads as
// SQL NULL rather than an empty JSON array — the "vector is null"
// invariant.
func encodeVector(v []float64, failed bool) any {
	if failed || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}
