package tiers

import "strings"

// stateAbbreviations maps common US state postal codes to their full
// name, grounded on the original pipeline's LocationEnrichmentConfig
// state_name_mappings table.
var stateAbbreviations = map[string]string{
	"CA": "California",
	"UT": "Utah",
	"NY": "New York",
	"TX": "Texas",
	"FL": "Florida",
	"WA": "Washington",
	"OR": "Oregon",
	"NV": "Nevada",
	"AZ": "Arizona",
	"CO": "Colorado",
}

// cityAbbreviations covers the handful of informal city abbreviations
// that appear in listing data but have no state-style canonical code;
// supplements the reference-table lookup
// rather than replacing it.
var cityAbbreviations = map[string]string{
	"SF":  "San Francisco",
	"LA":  "Los Angeles",
	"NYC": "New York City",
	"SD":  "San Diego",
	"SJ":  "San Jose",
}

// normalizeState expands a state abbreviation to its canonical name.
// When the abbreviation has no canonical form, the original value is
// preserved, modulo trimming.
func normalizeState(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if full, ok := stateAbbreviations[strings.ToUpper(raw)]; ok {
		return full
	}
	return raw
}

// normalizeCity expands a known city abbreviation to its canonical name,
// otherwise preserves the original (modulo trimming).
func normalizeCity(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if full, ok := cityAbbreviations[strings.ToUpper(raw)]; ok {
		return full
	}
	return raw
}

// LocationRef is one row of the location reference file: any field
// may be empty to represent a higher-level entry.
type LocationRef struct {
	State        string
	County       string
	City         string
	Neighborhood string
}

// Hierarchy is the resolved geographic hierarchy Gold processors attach
// to a row.
type Hierarchy struct {
	CountyResolved    string
	ParentCity        string
	ParentCounty      string
	ParentState       string
	LocationHierarchy string
}

// ResolveHierarchy looks up city (and optionally neighborhood) in the
// location reference table, broadcast-style (a single linear scan, since
// the reference table is expected to be small relative to entity
// tables), and returns the most specific match.
func ResolveHierarchy(refs []LocationRef, city, state, neighborhood string) Hierarchy {
	city = strings.ToLower(strings.TrimSpace(city))
	state = strings.ToLower(strings.TrimSpace(state))
	neighborhood = strings.ToLower(strings.TrimSpace(neighborhood))

	var best *LocationRef
	bestScore := -1
	for i := range refs {
		r := &refs[i]
		score := 0
		if neighborhood != "" && strings.EqualFold(r.Neighborhood, neighborhood) {
			score += 4
		}
		if city != "" && strings.EqualFold(r.City, city) {
			score += 2
		}
		if state != "" && strings.EqualFold(r.State, state) {
			score += 1
		}
		if score > bestScore && score > 0 {
			bestScore = score
			best = r
		}
	}

	h := Hierarchy{}
	if best == nil {
		h.ParentCity = city
		h.ParentState = state
		h.LocationHierarchy = strings.TrimSuffix(strings.Join(nonEmpty(state, city), " > "), " > ")
		return h
	}

	h.CountyResolved = best.County
	h.ParentCity = firstNonEmpty(best.City, city)
	h.ParentCounty = best.County
	h.ParentState = firstNonEmpty(best.State, state)
	parts := nonEmpty(h.ParentState, h.ParentCounty, h.ParentCity, best.Neighborhood)
	h.LocationHierarchy = strings.Join(parts, " > ")
	return h
}

func nonEmpty(parts ...string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
