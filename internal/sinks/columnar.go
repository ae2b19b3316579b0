package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"realestate-kb-pipeline/internal/config"
	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/logger"
)

// ColumnarSink writes rows to partitioned Parquet files using
// xitongsys/parquet-go's JSON writer, which infers its schema from a
// generated JSON-schema string rather than a compiled Go struct — the
// tablestore's rows are already generic maps, so this avoids a
// reflection-unfriendly struct-per-entity requirement.
type ColumnarSink struct {
	cfg config.ParquetSink
}

// NewColumnarSink builds a ColumnarSink from the parquet sink config.
func NewColumnarSink(cfg config.ParquetSink) *ColumnarSink {
	return &ColumnarSink{cfg: cfg}
}

// Source implements Writer: the columnar sink consumes the Gold table
// alone — its output path is keyed by entity, so a second write for an
// enriched projection would replace the Gold file set.
func (s *ColumnarSink) Source() Source {
	return SourceGold
}

// Write partitions records by cfg.PartitionBy (directory-per-partition-value,
// nested in the order the keys are given) and writes one Parquet file per
// partition. With Mode="overwrite" (the default) an existing partition file
// is replaced. Mode="append" is rejected outright: the JSON writer this
// sink uses only supports create-anew, and recovering typed rows back out
// of a file it already wrote isn't possible (every field was flattened to
// a BYTE_ARRAY string on the way in), so silently falling back to
// overwrite would discard data the caller asked append mode to keep.
// Configure "overwrite" or a per-run partition path instead.
func (s *ColumnarSink) Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error) {
	result := core.WriteResult{Sink: "columnar"}
	if s.cfg.Mode == "append" {
		return result, fmt.Errorf("columnar sink: mode %q is not supported, use \"overwrite\"", s.cfg.Mode)
	}
	if len(records) == 0 {
		result.Success = true
		return result, nil
	}

	partitions := partitionRecords(records, s.cfg.PartitionBy)
	var written int64
	for key, rows := range partitions {
		path := partitionPath(s.cfg.Path, string(entity), key)
		if err := writeParquetFile(path, rows); err != nil {
			logger.Warn("columnar sink: partition write failed", "path", path, "error", err.Error())
			result.Error = err.Error()
			continue
		}
		written += int64(len(rows))
	}

	result.RecordCount = written
	result.Success = result.Error == "" || written > 0
	return result, nil
}

// partitionRecords groups rows by the string-joined values of the given
// partition keys. Within a partition rows keep their input order; the
// returned map has no order across partitions.
func partitionRecords(records []map[string]any, partitionBy []string) map[string][]map[string]any {
	if len(partitionBy) == 0 {
		return map[string][]map[string]any{"": records}
	}
	out := make(map[string][]map[string]any)
	for _, row := range records {
		parts := make([]string, 0, len(partitionBy))
		for _, key := range partitionBy {
			parts = append(parts, fmt.Sprintf("%v", row[key]))
		}
		partKey := strings.Join(parts, "/")
		out[partKey] = append(out[partKey], row)
	}
	return out
}

func partitionPath(base, entity, partitionKey string) string {
	if partitionKey == "" {
		return filepath.Join(base, entity+".parquet")
	}
	return filepath.Join(base, entity, partitionKey, "data.parquet")
}

// jsonSchemaFor derives a flat, all-optional-UTF8 parquet-go JSON schema from
// the union of keys observed across rows. writeParquetFile renders every
// value, numeric and boolean ones included, as its %v string before
// writing, so every column holds UTF8 text.
func jsonSchemaFor(rows []map[string]any) string {
	seen := make(map[string]bool)
	var fields []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)

	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		tags = append(tags, fmt.Sprintf(`{"Tag":"name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}`, f))
	}
	return fmt.Sprintf(`{"Tag":"name=row, repetitiontype=REQUIRED","Fields":[%s]}`, strings.Join(tags, ","))
}

func writeParquetFile(path string, rows []map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("columnar sink: mkdir: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("columnar sink: open file writer: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(jsonSchemaFor(rows), fw, 4)
	if err != nil {
		return fmt.Errorf("columnar sink: new json writer: %w", err)
	}

	for _, row := range rows {
		flat := make(map[string]any, len(row))
		for k, v := range row {
			flat[k] = fmt.Sprintf("%v", v)
		}
		encoded, err := json.Marshal(flat)
		if err != nil {
			return fmt.Errorf("columnar sink: encode row: %w", err)
		}
		if err := pw.Write(string(encoded)); err != nil {
			return fmt.Errorf("columnar sink: write row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("columnar sink: finalize: %w", err)
	}
	return nil
}
