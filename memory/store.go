package memory

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested memory does not exist in the store.
var ErrNotFound = errors.New("memory: not found")

// Store is the storage contract every backend (memory/inmem, memory/mongo,
// memory/redis) satisfies (spec §6.3). Implementations must provide per-ID
// atomic updates (spec §5) and honor the indexes named in spec §6.3:
// (userID, memoryType), (userID, sessionID, memoryType, createdAt), and
// (userID, category).
//
// Store does not itself apply access accounting, tiering, or conflict
// resolution — that policy lives in Manager, which is the only caller
// permitted to touch Store directly (spec §5 "The Memory Manager owns all
// memory mutation").
type Store interface {
	// Insert persists entry and returns its assigned ID. Callers must set
	// entry.ID to "" and let the store assign one unless entry.ID is already
	// a caller-provided stable identifier.
	Insert(ctx context.Context, entry Memory) (string, error)

	// Query evaluates q against the store and returns matching memories,
	// already ordered and paginated per q.OrderBy/Limit/Offset.
	Query(ctx context.Context, q Query) ([]Memory, error)

	// Update applies fields to the memory identified by id, atomically with
	// respect to concurrent updates of the same id, and increments Version
	// by exactly 1 (spec I-M3). Returns ErrNotFound if id does not exist.
	Update(ctx context.Context, id string, fields map[string]any) (bool, error)

	// Delete removes the memory identified by id. Returns false (not an
	// error) if id does not exist, so repeated deletes are idempotent in
	// effect (spec I-M4).
	Delete(ctx context.Context, id string) (bool, error)

	// Count returns the number of memories matching predicates.
	Count(ctx context.Context, predicates []Predicate) (int, error)

	// FindByID returns the memory identified by id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (Memory, error)
}
