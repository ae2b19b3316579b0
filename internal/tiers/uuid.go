package tiers

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// CorrelationUUID derives the deterministic Gold-tier correlation_uuid
// from sha256(entity||primaryKey) truncated to 128 bits and formatted as
// a UUID. It is stable across runs for an identical
// (entity, primaryKey) pair.
func CorrelationUUID(entity, primaryKey string) string {
	sum := sha256.Sum256([]byte(entity + primaryKey))
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id.String()
}
