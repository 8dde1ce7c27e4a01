// Package store provides in-process ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/resident-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps one version-ordered slice per partition. The mutex makes
// PutIfAbsent atomic, standing in for a database's conditional write.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string][]ledger.Record
}

func NewMemory() *Memory {
	return &Memory{
		partitions: make(map[string][]ledger.Record),
	}
}

// GetLatest returns the highest-keyed record, or nil.
func (m *Memory) GetLatest(_ context.Context, account ledger.AccountID) (*ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.partitions[ledger.PartitionKey(account)]
	if len(recs) == 0 {
		return nil, nil
	}
	latest := recs[len(recs)-1]
	return &latest, nil
}

// RangeLatest returns up to limit records, newest first.
func (m *Memory) RangeLatest(_ context.Context, account ledger.AccountID, limit int) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.partitions[ledger.PartitionKey(account)]
	result := make([]ledger.Record, 0, min(limit, len(recs)))
	for i := len(recs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, recs[i])
	}
	return result, nil
}

// RangeAfter returns up to limit records with version > after, oldest first.
func (m *Memory) RangeAfter(_ context.Context, account ledger.AccountID, after ledger.Version, limit int) ([]ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.partitions[ledger.PartitionKey(account)]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Version > after })
	var result []ledger.Record
	for ; i < len(recs) && len(result) < limit; i++ {
		result = append(result, recs[i])
	}
	return result, nil
}

// PutIfAbsent inserts rec unless its key is taken.
func (m *Memory) PutIfAbsent(_ context.Context, rec ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := rec.PartitionKey()
	recs := m.partitions[pk]
	i, found := m.search(recs, rec.Version)
	if found {
		return ledger.ErrConditionFailed
	}
	m.partitions[pk] = insertAt(recs, i, rec)
	return nil
}

// Put inserts or overwrites rec.
func (m *Memory) Put(_ context.Context, rec ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := rec.PartitionKey()
	recs := m.partitions[pk]
	i, found := m.search(recs, rec.Version)
	if found {
		recs[i] = rec
		return nil
	}
	m.partitions[pk] = insertAt(recs, i, rec)
	return nil
}

// Accounts lists every account with at least one record, sorted.
func (m *Memory) Accounts(_ context.Context) ([]ledger.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]ledger.AccountID, 0, len(m.partitions))
	for pk := range m.partitions {
		if id, ok := ledger.AccountFromPartitionKey(pk); ok {
			accounts = append(accounts, id)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

// Records returns a copy of a partition, oldest first. Test helper.
func (m *Memory) Records(account ledger.AccountID) []ledger.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.partitions[ledger.PartitionKey(account)]
	out := make([]ledger.Record, len(recs))
	copy(out, recs)
	return out
}

// Binary search for the slot of v: O(log n).
func (m *Memory) search(recs []ledger.Record, v ledger.Version) (int, bool) {
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Version >= v })
	return i, i < len(recs) && recs[i].Version == v
}

func insertAt(recs []ledger.Record, i int, rec ledger.Record) []ledger.Record {
	recs = append(recs, ledger.Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	return recs
}

// =============================================================================
// FAULT INJECTION - wraps a Store for tests
// =============================================================================

// Faulty wraps a ledger.Store and lets tests inject failures or race a
// competing writer in between the version read and the conditional write.
type Faulty struct {
	ledger.Store

	// BeforePutIfAbsent runs before every conditional write. Returning an
	// error fails that write with it.
	BeforePutIfAbsent func(ctx context.Context, rec ledger.Record) error
	// PutErr, when set, fails every unconditional Put.
	PutErr error
	// BeforeRangeLatest runs before every RangeLatest. Returning an error
	// fails that read with it.
	BeforeRangeLatest func(ctx context.Context, account ledger.AccountID) error
}

func (f *Faulty) PutIfAbsent(ctx context.Context, rec ledger.Record) error {
	if f.BeforePutIfAbsent != nil {
		if err := f.BeforePutIfAbsent(ctx, rec); err != nil {
			return err
		}
	}
	return f.Store.PutIfAbsent(ctx, rec)
}

func (f *Faulty) Put(ctx context.Context, rec ledger.Record) error {
	if f.PutErr != nil {
		return f.PutErr
	}
	return f.Store.Put(ctx, rec)
}

func (f *Faulty) RangeLatest(ctx context.Context, account ledger.AccountID, limit int) ([]ledger.Record, error) {
	if f.BeforeRangeLatest != nil {
		if err := f.BeforeRangeLatest(ctx, account); err != nil {
			return nil, err
		}
	}
	return f.Store.RangeLatest(ctx, account, limit)
}
