/*
repository.go - Persistence contract consumed by the engine

PURPOSE:
  The engine never owns storage. It reads generators and their eligible
  subscribers, and writes finished allocation records, through this
  interface. Implementations decide ids, ordering guarantees and
  uniqueness policies.

APPEND-ONLY CONTRACT:
  Records are written once. There is no Update or Delete. A correction is
  a new record.

IMPLEMENTATIONS:
  - rateio/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite
  - store/rediscache: Read-through history cache wrapping either
*/
package rateio

import "context"

// Repository is the storage capability the engine consumes.
type Repository interface {
	// GetGenerator returns ErrGeneratorNotFound when the id is unknown.
	GetGenerator(ctx context.Context, id GeneratorID) (Generator, error)

	// GetEligibleSubscribers returns the subscribers linked to the generator.
	GetEligibleSubscribers(ctx context.Context, generatorID GeneratorID) ([]Subscriber, error)

	// SaveAllocationRecord persists a record and returns its new id.
	// The record's ID field is ignored. This is the ONLY write.
	SaveAllocationRecord(ctx context.Context, record Record) (RecordID, error)

	// ListAllocationHistory returns the generator's records, newest first.
	ListAllocationHistory(ctx context.Context, generatorID GeneratorID) ([]Record, error)
}
