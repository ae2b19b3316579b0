package tiers

import (
	"fmt"
	"strconv"
	"time"

	"realestate-kb-pipeline/internal/core"
	"realestate-kb-pipeline/internal/embedding"
)

const propertyQualityThreshold = 0.4

// propertyQualityWeights assigns the field-presence weights used to
// compute data_quality_score for a property row; chosen to sum to 1 and
// to weight the fields a listing is least usable without (price, size,
// location) above cosmetic ones (features, description).
var propertyQualityWeights = map[string]float64{
	"listing_price": 0.25,
	"square_feet":   0.2,
	"city":          0.15,
	"state":         0.15,
	"bedrooms":      0.1,
	"bathrooms":     0.1,
	"description":   0.05,
}

// PropertyBronze materializes the bronze table from raw reader rows: a
// row-for-row image under the canonical schema, with the primary key
// checked non-null and a _corrupt_record column. Aborts only if no row
// decoded as an object; rows that decode but fail the key or schema
// check are kept as corrupt rows.
func PropertyBronze(store RowStore, runID string, rows []RawRow) (string, int64, int64, error) {
	tableName := fmt.Sprintf("property_bronze_%s", runID)

	out, corrupt := bronzeRows(rows, "listing_id", propertySchemaOK)
	undecodable := 0
	for _, row := range rows {
		if row.Fields == nil {
			undecodable++
		}
	}
	if len(rows) > 0 && undecodable == len(rows) {
		return "", 0, corrupt, fmt.Errorf("tiers: property bronze: all %d rows corrupt", len(rows))
	}

	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, 0, fmt.Errorf("tiers: property bronze: %w", err)
	}
	return tableName, int64(len(out)), corrupt, nil
}

// propertySchemaOK reports whether every present numeric field on a raw
// property row actually coerces to a number; a field like
// `"listing_price": "NaN"` fails schema coercion even though the row
// decoded as valid JSON, which is what the corrupt-row scenario
// exercises.
func propertySchemaOK(fields map[string]any) bool {
	for _, key := range []string{"listing_price", "square_feet", "bedrooms", "bathrooms"} {
		v, present := fields[key]
		if !present || v == nil {
			continue
		}
		if _, ok := asFloat(v); !ok {
			return false
		}
	}
	return true
}

// PropertySilver cleans Bronze: flattens address fields,
// derives price/size metrics and categories, normalizes arrays and
// location names, and computes data_quality_score/validation_status.
// Rows are never dropped.
func PropertySilver(store RowStore, runID, bronzeTable string) (string, int64, error) {
	bronzeRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, bronzeTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: property silver: read bronze: %w", err)
	}

	out := make([]map[string]any, 0, len(bronzeRows))
	for _, row := range bronzeRows {
		cleaned, issues := ValidateProperty(row)
		score := issueScore(issues)
		cleaned["data_quality_score"] = score
		cleaned["validation_status"] = validationStatus(score, propertyQualityThreshold)
		out = append(out, cleaned)
	}

	tableName := fmt.Sprintf("property_silver_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: property silver: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// ValidateProperty cleans one bronze property row and reports every issue
// found; the caller derives data_quality_score and validation_status from
// the issues list. The returned row carries every Silver column except
// those two.
func ValidateProperty(row map[string]any) (map[string]any, []core.ValidationIssue) {
	address := asMap(row["address"])
	city := asString(address["city"])
	state := asString(address["state"])
	zip := asString(address["zip_code"])
	if zip == "" {
		zip = asString(address["zip"])
	}

	price, hasPrice := asFloat(row["listing_price"])
	sqft, hasSqft := asFloat(row["square_feet"])
	bedrooms, _ := asFloat(row["bedrooms"])
	bathrooms, _ := asFloat(row["bathrooms"])
	description := trimText(asString(row["description"]))

	present := map[string]bool{
		"listing_price": hasPrice,
		"square_feet":   hasSqft,
		"city":          city != "",
		"state":         state != "",
		"bedrooms":      row["bedrooms"] != nil,
		"bathrooms":     row["bathrooms"] != nil,
		"description":   description != "",
	}
	issues := presenceIssues(propertyQualityWeights, present)

	var pricePerSqft, pricePerBedroom float64
	if hasPrice && hasSqft && sqft > 0 {
		pricePerSqft = price / sqft
	}
	if hasPrice && bedrooms > 0 {
		pricePerBedroom = price / bedrooms
	}

	out := map[string]any{
		"listing_id":        row["listing_id"],
		"city":              city,
		"state":             state,
		"zip_code":          zip,
		"city_normalized":   normalizeCity(city),
		"state_normalized":  normalizeState(state),
		"listing_price":     nullableFloat(hasPrice, price),
		"square_feet":       nullableFloat(hasSqft, sqft),
		"bedrooms":          bedrooms,
		"bathrooms":         bathrooms,
		"price_per_sqft":    nullableFloat(hasPrice && hasSqft && sqft > 0, pricePerSqft),
		"price_per_bedroom": nullableFloat(hasPrice && bedrooms > 0, pricePerBedroom),
		"price_category":    priceCategory(hasPrice, price),
		"size_category":     sizeCategory(hasSqft, sqft),
		"description":       description,
		"features":          normalizeStringSlice(asStringSlice(row["features"])),
		"amenities":         normalizeStringSlice(asStringSlice(row["amenities"])),
		"neighborhood_id":   row["neighborhood_id"],
		"property_type":     asString(asMap(row["property_details"])["property_type"]),
		"processed_at":      time.Now().UTC().Format(time.RFC3339),
		"ingested_at":       row["ingested_at"],
		"source_file":       row["source_file"],
	}
	return out, issues
}

func nullableFloat(ok bool, v float64) any {
	if !ok {
		return nil
	}
	return v
}

// priceCategory buckets listing_price into the price bands.
func priceCategory(ok bool, price float64) string {
	switch {
	case !ok:
		return "unknown"
	case price < 200000:
		return "budget"
	case price < 500000:
		return "mid-range"
	case price < 1000000:
		return "high-end"
	default:
		return "luxury"
	}
}

// sizeCategory buckets square_feet into the size bands.
func sizeCategory(ok bool, sqft float64) string {
	switch {
	case !ok:
		return "unknown"
	case sqft < 1000:
		return "small"
	case sqft < 2000:
		return "medium"
	case sqft < 3500:
		return "large"
	default:
		return "extra-large"
	}
}

// PropertyGold assigns correlation_uuid, resolves geographic hierarchy
// against the location reference rows, and assembles embedding_text.
func PropertyGold(store RowStore, runID, silverTable string, refs []LocationRef) (string, int64, error) {
	silverRows, err := store.Query(fmt.Sprintf(`SELECT * FROM "%s"`, silverTable))
	if err != nil {
		return "", 0, fmt.Errorf("tiers: property gold: read silver: %w", err)
	}

	out := make([]map[string]any, 0, len(silverRows))
	for _, row := range silverRows {
		listingID := asString(row["listing_id"])
		hierarchy := ResolveHierarchy(refs, asString(row["city_normalized"]), asString(row["state_normalized"]), "")

		gold := cloneRow(row)
		gold["correlation_uuid"] = CorrelationUUID(string(core.EntityProperty), listingID)
		gold["county_resolved"] = hierarchy.CountyResolved
		gold["parent_city"] = hierarchy.ParentCity
		gold["parent_county"] = hierarchy.ParentCounty
		gold["parent_state"] = hierarchy.ParentState
		gold["location_hierarchy"] = hierarchy.LocationHierarchy
		gold["neighborhood_id_resolved"] = row["neighborhood_id"]
		gold["embedding_text"] = PropertyEmbeddingText(row)
		out = append(out, gold)
	}

	tableName := fmt.Sprintf("property_gold_%s", runID)
	if err := store.CreateTableFromRows(tableName, out); err != nil {
		return "", 0, fmt.Errorf("tiers: property gold: %w", err)
	}
	return tableName, int64(len(out)), nil
}

// PropertyEmbeddingText assembles the property template from a
// Silver/Gold row's fields.
func PropertyEmbeddingText(row map[string]any) string {
	price, hasPrice := asFloat(row["listing_price"])
	priceStr := ""
	if hasPrice {
		priceStr = strconv.FormatFloat(price, 'f', 0, 64)
	}
	bedrooms, hasBedrooms := asFloat(row["bedrooms"])
	bedroomsStr := ""
	if hasBedrooms {
		bedroomsStr = strconv.FormatFloat(bedrooms, 'f', 0, 64)
	}
	bathrooms, hasBathrooms := asFloat(row["bathrooms"])
	bathroomsStr := ""
	if hasBathrooms {
		bathroomsStr = strconv.FormatFloat(bathrooms, 'f', 1, 64)
	}
	sqft, hasSqft := asFloat(row["square_feet"])
	sqftStr := ""
	if hasSqft {
		sqftStr = strconv.FormatFloat(sqft, 'f', 0, 64)
	}

	return embedding.PropertyText(
		asString(row["listing_id"]),
		asString(row["property_type"]),
		priceStr,
		bedroomsStr,
		bathroomsStr,
		sqftStr,
		asString(row["city_normalized"]),
		asString(row["state_normalized"]),
		asStringSlice(row["features"]),
		asString(row["description"]),
	)
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row)+8)
	for k, v := range row {
		out[k] = v
	}
	return out
}
