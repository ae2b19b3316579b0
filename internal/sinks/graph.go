package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"realestate-kb-pipeline/internal/config"
	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/logger"
)

// GraphSink writes nodes (one per record, keyed by the entity's primary
// key) and, for enrichment-projection records, edges carrying confidence
// weights.
type GraphSink struct {
	driver neo4j.DriverWithContext
}

// NewGraphSink opens a Neo4j driver from the graph sink config.
func NewGraphSink(cfg config.GraphSink) (*GraphSink, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph sink: new driver: %w", err)
	}
	return &GraphSink{driver: driver}, nil
}

// Close releases the underlying driver's connection pool.
func (s *GraphSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Source implements Writer: the graph sink consumes Gold and enriched
// rows (the enriched projections carry the wikipedia_matches linkage its
// edge writes depend on).
func (s *GraphSink) Source() Source {
	return SourceGoldEnriched
}

var entityPrimaryKey = map[core.EntityType]string{
	core.EntityProperty:     "listing_id",
	core.EntityNeighborhood: "neighborhood_id",
	core.EntityWikipedia:    "page_id",
}

// Write merges one node per record (label = entity type, primary key as
// the merge key — enriched projection rows carry theirs as entity_id) and
// merges the cross-entity edges a row's linkage columns describe: a
// RELATED_TO edge per wikipedia_matches correlation, weighted by its
// relevance, and an IN_NEIGHBORHOOD edge when a property row resolves a
// neighborhood.
func (s *GraphSink) Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error) {
	result := core.WriteResult{Sink: "graph"}
	if len(records) == 0 {
		result.Success = true
		return result, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	label := entityLabel(entity)
	pk := entityPrimaryKey[entity]

	var written int64
	for _, row := range records {
		id, ok := row[pk]
		if !ok || id == nil {
			id, ok = row["entity_id"]
		}
		if !ok || id == nil {
			continue
		}
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx,
				fmt.Sprintf(`MERGE (n:%s {id: $id}) SET n += $props`, label),
				map[string]any{"id": fmt.Sprintf("%v", id), "props": flattenForGraph(row)},
			)
			return nil, err
		})
		if err != nil {
			logger.Warn("graph sink: node merge failed", "entity", entity, "id", id, "error", err.Error())
			result.Error = err.Error()
			continue
		}
		written++

		if err := s.writeWikiEdges(ctx, session, label, id, row); err != nil {
			logger.Warn("graph sink: edge merge failed", "entity", entity, "id", id, "error", err.Error())
		}
		if err := s.writeNeighborhoodEdge(ctx, session, label, id, row); err != nil {
			logger.Warn("graph sink: edge merge failed", "entity", entity, "id", id, "error", err.Error())
		}
	}

	result.RecordCount = written
	result.Success = written > 0 || result.Error == ""
	return result, nil
}

// writeNeighborhoodEdge merges an IN_NEIGHBORHOOD edge from an entity node
// to the neighborhood its row resolved, when the row carries one (property
// Gold rows and the property⨝neighborhood projection both do).
func (s *GraphSink) writeNeighborhoodEdge(ctx context.Context, session neo4j.SessionWithContext, label string, id any, row map[string]any) error {
	nb, _ := row["neighborhood_id_resolved"].(string)
	if nb == "" || label == "neighborhood" {
		return nil
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			fmt.Sprintf(`MATCH (a:%s {id: $id})
				MERGE (n:neighborhood {id: $neighborhoodID})
				MERGE (a)-[:IN_NEIGHBORHOOD]->(n)`, label),
			map[string]any{
				"id":             fmt.Sprintf("%v", id),
				"neighborhoodID": nb,
			},
		)
		return nil, err
	})
	return err
}

// writeWikiEdges merges a RELATED_TO edge, weighted by relevance, from the
// entity node to each correlated WikipediaArticle node named in the row's
// wikipedia_matches column (as produced by internal/enrichment).
func (s *GraphSink) writeWikiEdges(ctx context.Context, session neo4j.SessionWithContext, label string, id any, row map[string]any) error {
	matches, ok := row["wikipedia_matches"]
	if !ok {
		return nil
	}
	raw, ok := matches.(string)
	if !ok || raw == "" || raw == "null" {
		return nil
	}
	pages, ok := decodeWikiMatches(raw)
	if !ok {
		return nil
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, page := range pages {
			_, err := tx.Run(ctx,
				fmt.Sprintf(`MATCH (a:%s {id: $id})
					MERGE (w:wikipedia {id: $pageID})
					MERGE (a)-[r:RELATED_TO]->(w)
					SET r.confidence = $confidence`, label),
				map[string]any{
					"id":         fmt.Sprintf("%v", id),
					"pageID":     fmt.Sprintf("%v", page["page_id"]),
					"confidence": page["relevance"],
				},
			)
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// decodeWikiMatches decodes the JSON array written into a
// wikipedia_matches column (internal/enrichment.WikiMatch's JSON shape)
// into a page_id/relevance lookup, without importing internal/enrichment.
func decodeWikiMatches(raw string) ([]map[string]any, bool) {
	var decoded []struct {
		PageID    any     `json:"page_id"`
		Relevance float64 `json:"relevance"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, false
	}
	out := make([]map[string]any, 0, len(decoded))
	for _, d := range decoded {
		out = append(out, map[string]any{"page_id": d.PageID, "relevance": d.Relevance})
	}
	return out, true
}

func entityLabel(entity core.EntityType) string {
	switch entity {
	case core.EntityProperty:
		return "property"
	case core.EntityNeighborhood:
		return "neighborhood"
	case core.EntityWikipedia:
		return "wikipedia"
	default:
		return "entity"
	}
}

// flattenForGraph drops nested map/slice values that Neo4j's property model
// cannot store directly (it allows only primitives and arrays of a single
// primitive type), keeping the node merge from failing on a JSON-encoded
// nested column.
func flattenForGraph(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch v.(type) {
		case map[string]any, []any:
			continue
		default:
			out[k] = v
		}
	}
	return out
}
