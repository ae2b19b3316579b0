package tiers

import "testing"

func TestNormalizeStateExpandsKnownAbbreviation(t *testing.T) {
	if got := normalizeState("CA"); got != "California" {
		t.Errorf("normalizeState(CA) = %q, want California", got)
	}
}

func TestNormalizeStatePreservesUnknown(t *testing.T) {
	if got := normalizeState("  Quebec "); got != "Quebec" {
		t.Errorf("normalizeState(Quebec) = %q, want Quebec (trimmed, unchanged)", got)
	}
}

func TestNormalizeCityExpandsKnownAbbreviation(t *testing.T) {
	if got := normalizeCity("SF"); got != "San Francisco" {
		t.Errorf("normalizeCity(SF) = %q, want San Francisco", got)
	}
}

func TestResolveHierarchyMatchesCityAndState(t *testing.T) {
	refs := []LocationRef{
		{State: "California", County: "San Francisco County", City: "San Francisco", Neighborhood: "Mission"},
	}
	h := ResolveHierarchy(refs, "San Francisco", "California", "")
	if h.CountyResolved != "San Francisco County" {
		t.Errorf("CountyResolved = %q, want San Francisco County", h.CountyResolved)
	}
	if h.ParentState != "California" {
		t.Errorf("ParentState = %q, want California", h.ParentState)
	}
}

func TestResolveHierarchyNoMatchFallsBackToInputs(t *testing.T) {
	h := ResolveHierarchy(nil, "Nowhereville", "Nowhere", "")
	if h.ParentCity != "nowhereville" {
		t.Errorf("ParentCity = %q, want nowhereville (lowercased input passthrough)", h.ParentCity)
	}
	if h.CountyResolved != "" {
		t.Errorf("CountyResolved = %q, want empty when no reference match", h.CountyResolved)
	}
}
