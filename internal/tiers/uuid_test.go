package tiers

import (
	"testing"

	"github.com/google/uuid"
)

func TestCorrelationUUIDStableAndValid(t *testing.T) {
	a := CorrelationUUID("property", "P1")
	b := CorrelationUUID("property", "P1")
	if a != b {
		t.Fatalf("CorrelationUUID not stable: %q != %q", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("CorrelationUUID() = %q is not a valid UUID: %v", a, err)
	}
}

func TestCorrelationUUIDDiffersByEntityAndKey(t *testing.T) {
	a := CorrelationUUID("property", "P1")
	b := CorrelationUUID("neighborhood", "P1")
	c := CorrelationUUID("property", "P2")
	if a == b || a == c || b == c {
		t.Fatalf("expected distinct UUIDs, got %q %q %q", a, b, c)
	}
}
