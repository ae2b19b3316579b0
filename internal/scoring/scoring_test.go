package scoring

import "testing"

func TestNightlifeScoreBoundsAndKeywords(t *testing.T) {
	score := NightlifeScore([]string{"Rooftop Bar", "Jazz Lounge", "Wine Cellar"}, []string{"nightlife"})
	if score <= 0 || score > 10 {
		t.Fatalf("expected score in (0,10], got %f", score)
	}

	capped := NightlifeScore([]string{"bar", "pub", "club", "nightclub", "lounge", "brewery", "wine", "cocktail", "music venue", "theater", "cinema"}, []string{"nightlife", "entertainment"})
	if capped != 10 {
		t.Fatalf("expected cap at 10, got %f", capped)
	}
}

func TestNightlifeScoreNullInputsNeverPanic(t *testing.T) {
	if got := NightlifeScore(nil, nil); got != 0 {
		t.Fatalf("expected 0 for nil inputs, got %f", got)
	}
}

func TestFamilyFriendlyScoreWeightedMean(t *testing.T) {
	score := FamilyFriendlyScore(FamilyFriendlyInputs{
		SchoolRating: 8,
		SafetyRating: 9,
		Amenities:    []string{"elementary school", "community park"},
		Tags:         []string{"family"},
	})
	if score <= 0 || score > 10 {
		t.Fatalf("expected score in (0,10], got %f", score)
	}
}

func TestFamilyFriendlyScoreNullInputs(t *testing.T) {
	score := FamilyFriendlyScore(FamilyFriendlyInputs{})
	if score != 0 {
		t.Fatalf("expected 0 for all-zero inputs, got %f", score)
	}
}

func TestCulturalAndGreenSpaceScoresClamp(t *testing.T) {
	manyKeywords := []string{"museum", "gallery", "theater", "concert", "festival", "opera", "symphony", "heritage", "historic", "exhibition"}
	if got := CulturalScore(manyKeywords, 50); got != 10 {
		t.Fatalf("expected cultural score capped at 10, got %f", got)
	}
	greenKeywords := []string{"park", "garden", "trail", "beach", "forest", "nature", "lake", "river", "hiking", "biking"}
	if got := GreenSpaceScore(greenKeywords, []string{"outdoor"}); got != 10 {
		t.Fatalf("expected green space score capped at 10, got %f", got)
	}
}

func TestKnowledgeScoreBounds(t *testing.T) {
	if got := KnowledgeScore(0, 0, 0); got != 0 {
		t.Fatalf("expected 0 for no signal, got %f", got)
	}
	if got := KnowledgeScore(100, 100, 100); got != 1 {
		t.Fatalf("expected 1 at saturation, got %f", got)
	}
}

func TestOverallConfidenceDefaultsWhenMissing(t *testing.T) {
	got := OverallConfidence(ConfidenceInputs{})
	want := defaultConfidence*0.5 + defaultConfidence*0.3 + defaultConfidence*0.2
	if got != want {
		t.Fatalf("expected all-default confidence %f, got %f", want, got)
	}
}

func TestOverallConfidenceUsesProvidedValues(t *testing.T) {
	got := OverallConfidence(ConfidenceInputs{
		LocationConfidence: 1, HasLocationConfidence: true,
		ExtractionConfidence: 1, HasExtractionConfidence: true,
		ContentRatio: 1, HasContentRatio: true,
	})
	if got != 1 {
		t.Fatalf("expected confidence 1 when every input is maximal, got %f", got)
	}
}
