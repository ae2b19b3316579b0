package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"realestate-kb-pipeline/internal/config"
	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/logger"
)

// SearchSink indexes rows into Elasticsearch in bulk batches, synthesizing a
// geo_point field from (latitude,longitude) and excluding configured fields.
type SearchSink struct {
	client *elasticsearch.Client
	cfg    config.SearchSink
}

const defaultBulkSize = 1000

// NewSearchSink builds a SearchSink from the search sink config.
func NewSearchSink(cfg config.SearchSink) (*SearchSink, error) {
	esCfg := elasticsearch.Config{Addresses: cfg.Hosts}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("search sink: new client: %w", err)
	}
	return &SearchSink{client: client, cfg: cfg}, nil
}

// Source implements Writer: the search sink consumes Gold and enriched
// rows, upserting both onto primary-keyed documents.
func (s *SearchSink) Source() Source {
	return SourceGoldEnriched
}

// Probe verifies write access by indexing and then deleting a throwaway
// document against a temporary index.
func (s *SearchSink) Probe(ctx context.Context) error {
	index := s.cfg.IndexPrefix + "_probe"
	docID := "probe"

	indexReq := esapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader([]byte(`{"probe":true}`)),
		Refresh:    "true",
	}
	res, err := indexReq.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("search sink probe: index: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("search sink probe: index response: %s", res.String())
	}

	delReq := esapi.DeleteRequest{Index: index, DocumentID: docID}
	delRes, err := delReq.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("search sink probe: delete: %w", err)
	}
	defer delRes.Body.Close()
	if delRes.IsError() {
		return fmt.Errorf("search sink probe: delete response: %s", delRes.String())
	}
	return nil
}

// Write bulk-indexes records into "{index_prefix}_{entity}" in batches of
// cfg.BulkSize (default 1000), excluding cfg.ExcludeFields and synthesizing a
// geo_point from latitude/longitude when both are present.
func (s *SearchSink) Write(ctx context.Context, entity core.EntityType, records []map[string]any) (core.WriteResult, error) {
	result := core.WriteResult{Sink: "search"}
	if len(records) == 0 {
		result.Success = true
		return result, nil
	}

	index := fmt.Sprintf("%s_%s", s.cfg.IndexPrefix, entity)
	bulkSize := s.cfg.BulkSize
	if bulkSize <= 0 {
		bulkSize = defaultBulkSize
	}

	var indexed int64
	for start := 0; start < len(records); start += bulkSize {
		end := start + bulkSize
		if end > len(records) {
			end = len(records)
		}
		n, err := s.bulkIndex(ctx, index, records[start:end])
		indexed += n
		if err != nil {
			logger.Warn("search sink: bulk batch failed", "index", index, "error", err.Error())
			result.Error = err.Error()
		}
	}

	result.RecordCount = indexed
	result.Success = indexed > 0 || result.Error == ""
	return result, nil
}

func (s *SearchSink) bulkIndex(ctx context.Context, index string, rows []map[string]any) (int64, error) {
	var buf bytes.Buffer
	for _, row := range rows {
		doc := projectDocument(row, s.cfg.ExcludeFields)

		action := map[string]any{"index": map[string]any{"_index": index}}
		if id, ok := primaryKeyValue(doc); ok {
			action["index"].(map[string]any)["_id"] = id
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return 0, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return 0, fmt.Errorf("encode bulk document: %w", err)
		}
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(index),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("bulk response: %s", res.String())
	}

	var parsed map[string]any
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode bulk response: %w", err)
	}

	var count int64
	if items, ok := parsed["items"].([]any); ok {
		for _, item := range items {
			if itemMap, ok := item.(map[string]any); ok {
				if indexResp, ok := itemMap["index"].(map[string]any); ok {
					if _, hasError := indexResp["error"]; !hasError {
						count++
					}
				}
			}
		}
	}
	return count, nil
}

// projectDocument copies row, dropping excluded fields and synthesizing a
// geo_point from latitude/longitude when both are present and numeric.
func projectDocument(row map[string]any, excludeFields []string) map[string]any {
	excluded := make(map[string]bool, len(excludeFields))
	for _, f := range excludeFields {
		excluded[f] = true
	}

	doc := make(map[string]any, len(row)+1)
	var lat, lon float64
	var hasLat, hasLon bool
	for k, v := range row {
		if excluded[k] {
			continue
		}
		doc[k] = v
		if k == "latitude" {
			if f, ok := toFloat(v); ok {
				lat, hasLat = f, true
			}
		}
		if k == "longitude" {
			if f, ok := toFloat(v); ok {
				lon, hasLon = f, true
			}
		}
	}
	if hasLat && hasLon {
		doc["location"] = map[string]float64{"lat": lat, "lon": lon}
	}
	return doc
}

func primaryKeyValue(doc map[string]any) (string, bool) {
	for _, key := range []string{"listing_id", "neighborhood_id", "page_id", "entity_id"} {
		if v, ok := doc[key]; ok && v != nil {
			return fmt.Sprintf("%v", v), true
		}
	}
	return "", false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
