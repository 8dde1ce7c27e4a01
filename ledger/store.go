/*
store.go - Storage contract for the ledger

PURPOSE:
  The ledger does not own its storage. It consumes a durable,
  partition-ordered key-value store through the Store interface below.
  Keys are (PartitionKey(account), SortKey(version)).

REQUIRED OPERATIONS:
  GetLatest:    newest record in the partition (nil when empty)
  RangeLatest:  up to limit newest records, descending by key
  PutIfAbsent:  atomic conditional insert; returns ErrConditionFailed
                (and nothing else) when the key exists
  Put:          unconditional insert/overwrite, snapshot compaction only

APPEND-ONLY CONTRACT:
  There is no Delete. Put only ever overwrites a snapshot with the same
  snapshot during compaction.

OPTIONAL CAPABILITIES:
  HistoryReader:  ascending reads for history listing
  AccountLister:  partition enumeration for sweeps

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite:           SQLite (default)
  - store/bolt:             BoltDB nested buckets
  - store/postgres:         PostgreSQL via pgx
*/
package ledger

import "context"

// Store is the storage collaborator consumed by the ledger.
type Store interface {
	// GetLatest returns the lexicographically-last record for the account,
	// or nil when the partition is empty.
	GetLatest(ctx context.Context, account AccountID) (*Record, error)

	// RangeLatest returns up to limit most recent records, newest first.
	RangeLatest(ctx context.Context, account AccountID, limit int) ([]Record, error)

	// PutIfAbsent writes rec only if no record exists at its key.
	// Returns ErrConditionFailed when the key is taken.
	PutIfAbsent(ctx context.Context, rec Record) error

	// Put writes rec unconditionally.
	Put(ctx context.Context, rec Record) error
}

// HistoryReader lists records oldest-first.
type HistoryReader interface {
	// RangeAfter returns up to limit records with version > after, ascending.
	RangeAfter(ctx context.Context, account AccountID, after Version, limit int) ([]Record, error)
}

// AccountLister enumerates every account that has at least one record.
type AccountLister interface {
	Accounts(ctx context.Context) ([]AccountID, error)
}
