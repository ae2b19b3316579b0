package sources

import (
	"context"
	"time"
)

// NeighborhoodReader reads neighborhood records from a JSON array file or
// a directory of such files, preserving the nested graph_metadata /
// wikipedia_correlations structure verbatim.
type NeighborhoodReader struct{}

// NewNeighborhoodReader constructs a NeighborhoodReader.
func NewNeighborhoodReader() *NeighborhoodReader {
	return &NeighborhoodReader{}
}

// Read implements Reader.
func (r *NeighborhoodReader) Read(ctx context.Context, path string, limit int) (RawTable, ReadStats, error) {
	docs, err := readJSONDocuments(path)
	if err != nil {
		return RawTable{}, ReadStats{SourcePath: path}, err
	}

	rows, corrupt := decodeRows(docs, limit)
	rows = withLineage(rows, path, time.Now())

	stats := ReadStats{RowsRead: len(rows), RowsCorrupt: corrupt, SourcePath: path}
	return RawTable{Rows: rows, SourcePath: path}, stats, ctx.Err()
}
