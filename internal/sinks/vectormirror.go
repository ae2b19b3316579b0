package sinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"realestate-kb-pipeline/internal/config"
	"realestate-kb-pipeline/internal/core"
)

// VectorMirrorSink mirrors Gold-table embedding rows into a Postgres table
// with a pgvector column, for downstream cosine-similarity search. One
// configured table holds every entity's rows, keyed by (entity_id,
// entity_type), where entity_id is the embedding row's primary_key;
// vectors are passed as "[v1,v2,...]" text cast to the vector type.
type VectorMirrorSink struct {
	db    *sql.DB
	table string
}

// NewVectorMirrorSink opens the Postgres connection named by the vector
// mirror config.
func NewVectorMirrorSink(cfg config.VectorMirror) (*VectorMirrorSink, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("vector mirror sink: open: %w", err)
	}
	return &VectorMirrorSink{db: db, table: cfg.Table}, nil
}

// Close closes the underlying connection pool.
func (s *VectorMirrorSink) Close() error {
	return s.db.Close()
}

// Source implements Writer: the vector mirror is the one sink that
// consumes the embeddings node table rather than entity-shaped rows.
func (s *VectorMirrorSink) Source() Source {
	return SourceEmbeddings
}

// Write upserts each record's (primary key, vector) pair into the mirror
// table. Records without a decodable "vector" column are skipped rather
// than failing the whole write, matching the embedding engine's own
// degrade-not-abort policy for vector-null rows.
func (s *VectorMirrorSink) Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error) {
	result := core.WriteResult{Sink: "vectormirror"}
	if len(records) == 0 {
		result.Success = true
		return result, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, entity_type, embedding_vector)
		VALUES ($1, $2, $3::vector)
		ON CONFLICT (entity_id, entity_type) DO UPDATE
		SET embedding_vector = EXCLUDED.embedding_vector, updated_at = NOW()
	`, s.table)

	var written int64
	for _, row := range records {
		id, ok := row["primary_key"]
		if !ok || id == nil {
			continue
		}
		vec, ok := decodeVector(row["vector"])
		if !ok {
			continue
		}

		if _, err := s.db.ExecContext(ctx, query, fmt.Sprintf("%v", id), string(entity), formatVector(vec)); err != nil {
			result.Error = fmt.Errorf("upsert %v: %w", id, err).Error()
			continue
		}
		written++
	}

	result.RecordCount = written
	result.Success = written > 0 || result.Error == ""
	return result, nil
}

// decodeVector accepts either a JSON-encoded []float64 string (as the
// embedding engine writes it) or an already-decoded []float64.
func decodeVector(v any) ([]float64, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []float64:
		return t, len(t) > 0
	case string:
		if t == "" {
			return nil, false
		}
		var vec []float64
		if err := json.Unmarshal([]byte(t), &vec); err != nil {
			return nil, false
		}
		return vec, len(vec) > 0
	default:
		return nil, false
	}
}

// formatVector renders a []float64 as a pgvector literal.
func formatVector(embedding []float64) string {
	if len(embedding) == 0 {
		return "[]"
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
