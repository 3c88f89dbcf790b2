package versioning

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opsmith/cloudbase/internal/ledger"
)

// VersionNone is the sentinel a caller supplies for the first write of
// an entity, when no ledger entry exists yet.
const VersionNone = ""

// ConflictError is returned when the caller's expected version is stale.
// It carries the authoritative current version so the caller can retry
// without a second round trip.
type ConflictError struct {
	EntityType string
	EntityID   uuid.UUID
	Expected   string
	Current    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s %s: expected %q, current %q",
		e.EntityType, e.EntityID, e.Expected, e.Current)
}

// Guard enforces optimistic concurrency: a mutation is accepted only if
// the caller's claimed version matches the ledger's latest entry for the
// entity. The guard never retries on the caller's behalf.
type Guard struct {
	seq atomic.Uint64
}

func NewGuard() *Guard {
	return &Guard{}
}

// CheckAndAdvance compares expected against the ledger's latest version
// for the entity and, on a match, hands out the next token. A first
// write passes the VersionNone sentinel. The caller is responsible for
// running this inside the same transaction as the registry write.
func (g *Guard) CheckAndAdvance(ctx context.Context, led *ledger.Ledger, entityType string, entityID uuid.UUID, expected string) (string, error) {
	latest, err := led.Latest(ctx, entityType, entityID)
	if err != nil {
		return "", err
	}

	current := VersionNone
	if latest != nil {
		current = latest.Version
	}
	if current != expected {
		return "", &ConflictError{
			EntityType: entityType,
			EntityID:   entityID,
			Expected:   expected,
			Current:    current,
		}
	}

	return g.NextToken(), nil
}

// NextToken generates an opaque version token. Tokens are monotonically
// increasing within the process: the nanosecond timestamp dominates and
// the atomic counter breaks ties inside one tick, so a token never
// repeats for the same entity within process lifetime.
func (g *Guard) NextToken() string {
	return fmt.Sprintf("%019d-%08d", time.Now().UTC().UnixNano(), g.seq.Add(1))
}
