package sources

import (
	"context"
	"time"
)

// PropertyReader reads property listings from a JSON array file or a
// directory of such files.
type PropertyReader struct{}

// NewPropertyReader constructs a PropertyReader.
func NewPropertyReader() *PropertyReader {
	return &PropertyReader{}
}

// Read implements Reader.
func (r *PropertyReader) Read(ctx context.Context, path string, limit int) (RawTable, ReadStats, error) {
	docs, err := readJSONDocuments(path)
	if err != nil {
		return RawTable{}, ReadStats{SourcePath: path}, err
	}

	rows, corrupt := decodeRows(docs, limit)
	rows = withLineage(rows, path, time.Now())

	stats := ReadStats{RowsRead: len(rows), RowsCorrupt: corrupt, SourcePath: path}
	return RawTable{Rows: rows, SourcePath: path}, stats, ctx.Err()
}
