package embedding

import (
	"context"
	"testing"
)

func TestMockProviderDeterministic(t *testing.T) {
	p1 := NewMockProvider(ProviderConfig{Dimensions: 8})
	p2 := NewMockProvider(ProviderConfig{Dimensions: 8})

	v1, err := p1.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	v2, err := p2.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}

	if len(v1[0]) != 8 || len(v2[0]) != 8 {
		t.Fatalf("expected 8-dimensional vectors, got %d and %d", len(v1[0]), len(v2[0]))
	}
	for i := range v1[0] {
		if v1[0][i] != v2[0][i] {
			t.Fatalf("expected identical vectors for identical text, diverged at index %d", i)
		}
	}
}

func TestMockProviderEmptyBatch(t *testing.T) {
	p := NewMockProvider(ProviderConfig{})
	if _, err := p.EmbedBatch(context.Background(), nil); err != ErrEmptyBatch {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestMockProviderFailOn(t *testing.T) {
	p := NewMockProvider(ProviderConfig{Dimensions: 4})
	p.FailOn = 2

	if _, err := p.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("first call should succeed: %v", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"b"}); err == nil {
		t.Fatalf("second call should fail per FailOn=2")
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"c"}); err != nil {
		t.Fatalf("third call should succeed again: %v", err)
	}
}
