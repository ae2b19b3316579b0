package embedding

import "strings"

// The embedding_text templates below are shared by the Gold processors
// (internal/tiers) and the embedding engine itself, so both sides always
// see the same text for a given row. The field order and separator are
// part of the contract and must not change without a version
// bump — missing labelled fields render as "N/A", and a missing state or
// trailing description/summary renders as empty; never the literal "None".

const na = "N/A"

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return na
	}
	return s
}

// PropertyText assembles the property embedding_text template:
// `title | Property Type: {t} | Price: {p} | Bedrooms: {b} | Bathrooms: {ba} | Square Feet: {sf} | Location: {city} {state} | Features: {features} | {description}`.
func PropertyText(title, propertyType, price, bedrooms, bathrooms, squareFeet, cityNormalized, stateNormalized string, features []string, description string) string {
	parts := []string{
		orNA(title),
		"Property Type: " + orNA(propertyType),
		"Price: " + orNA(price),
		"Bedrooms: " + orNA(bedrooms),
		"Bathrooms: " + orNA(bathrooms),
		"Square Feet: " + orNA(squareFeet),
		"Location: " + strings.TrimSpace(orNA(cityNormalized)+" "+stateNormalized),
		"Features: " + orNA(strings.Join(features, ", ")),
		description,
	}
	return strings.Join(parts, " | ")
}

// NeighborhoodText assembles the neighborhood embedding_text template,
// analogous in shape to PropertyText.
func NeighborhoodText(name, city, state string, characteristics []string, description string) string {
	parts := []string{
		orNA(name),
		"Location: " + strings.TrimSpace(orNA(city)+" "+state),
		"Characteristics: " + orNA(strings.Join(characteristics, ", ")),
		description,
	}
	return strings.Join(parts, " | ")
}

// WikipediaText assembles the wikipedia embedding_text template.
func WikipediaText(title, bestCity, bestState string, keyTopics []string, summary string) string {
	parts := []string{
		orNA(title),
		"Location: " + strings.TrimSpace(orNA(bestCity)+" "+bestState),
		"Topics: " + orNA(strings.Join(keyTopics, ", ")),
		summary,
	}
	return strings.Join(parts, " | ")
}
