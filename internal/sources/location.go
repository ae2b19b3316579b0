package sources

import (
	"context"
	"time"
)

// LocationReferenceReader reads the location hierarchy reference file: a
// JSON array of `{state, county, city, neighborhood}` rows where any
// field may be null to represent a higher-level entry.
type LocationReferenceReader struct{}

// NewLocationReferenceReader constructs a LocationReferenceReader.
func NewLocationReferenceReader() *LocationReferenceReader {
	return &LocationReferenceReader{}
}

// Read implements Reader.
func (r *LocationReferenceReader) Read(ctx context.Context, path string, limit int) (RawTable, ReadStats, error) {
	docs, err := readJSONDocuments(path)
	if err != nil {
		return RawTable{}, ReadStats{SourcePath: path}, err
	}

	rows, corrupt := decodeRows(docs, limit)
	rows = withLineage(rows, path, time.Now())

	stats := ReadStats{RowsRead: len(rows), RowsCorrupt: corrupt, SourcePath: path}
	return RawTable{Rows: rows, SourcePath: path}, stats, ctx.Err()
}
