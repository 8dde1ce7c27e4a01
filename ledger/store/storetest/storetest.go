// Package storetest holds behavior checks shared by every ledger.Store
// backend. Each backend's tests call Run with a constructor.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/resident-ledger/ledger"
)

var at = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// Run exercises newStore against the ledger.Store contract. newStore must
// return an empty store each call.
func Run(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("EmptyPartition", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		latest, err := s.GetLatest(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, latest)

		recs, err := s.RangeLatest(ctx, "nobody", 11)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("PutIfAbsentRejectsTakenKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := ledger.NewEventRecord("r-1", 1, ledger.ChargePosted(100, ledger.ChargeRent, ledger.Metadata{}), at)
		require.NoError(t, s.PutIfAbsent(ctx, first))

		second := ledger.NewEventRecord("r-1", 1, ledger.PaymentApplied(100, ledger.Metadata{}), at)
		assert.ErrorIs(t, s.PutIfAbsent(ctx, second), ledger.ErrConditionFailed)

		latest, err := s.GetLatest(ctx, "r-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, first, *latest)
	})

	t.Run("PartitionsAreIndependent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("a", 1, ledger.ChargePosted(1, ledger.ChargeRent, ledger.Metadata{}), at)))
		require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("b", 1, ledger.ChargePosted(2, ledger.ChargeRent, ledger.Metadata{}), at)))

		latest, err := s.GetLatest(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, int64(2), latest.Amount)
	})

	t.Run("RangeLatestNewestFirst", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for v := ledger.Version(1); v <= 12; v++ {
			require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("r-1", v, ledger.ChargePosted(int64(v), ledger.ChargeRent, ledger.Metadata{}), at)))
		}

		recs, err := s.RangeLatest(ctx, "r-1", 5)
		require.NoError(t, err)
		require.Len(t, recs, 5)
		for i, rec := range recs {
			assert.Equal(t, ledger.Version(12-i), rec.Version)
		}

		latest, err := s.GetLatest(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, ledger.Version(12), latest.Version)
	})

	t.Run("PutOverwritesWithSnapshot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("r-1", 10, ledger.ChargePosted(100, ledger.ChargeRent, ledger.Metadata{}), at)))

		items := []ledger.OutstandingItem{{Version: 10, EventType: ledger.EventChargePosted, Amount: 100, ChargeType: ledger.ChargeRent, PostedAt: at}}
		snap := ledger.NewSnapshotRecord("r-1", 10, 100, items, at)
		require.NoError(t, s.Put(ctx, snap))

		latest, err := s.GetLatest(ctx, "r-1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, latest.IsSnapshot())
		assert.Equal(t, snap, *latest)

		recs, err := s.RangeLatest(ctx, "r-1", 10)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("ConcurrentPutIfAbsentSingleWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := ledger.NewEventRecord("r-1", 1, ledger.ChargePosted(int64(i+1), ledger.ChargeRent, ledger.Metadata{}), at)
				err := s.PutIfAbsent(ctx, rec)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ledger.ErrConditionFailed)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("RangeAfterAscending", func(t *testing.T) {
		s := newStore(t)
		reader, ok := s.(ledger.HistoryReader)
		if !ok {
			t.Skip("store does not implement ledger.HistoryReader")
		}
		ctx := context.Background()
		for v := ledger.Version(0); v <= 6; v++ {
			require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("r-1", v, ledger.ChargePosted(10, ledger.ChargeRent, ledger.Metadata{}), at)))
		}

		recs, err := reader.RangeAfter(ctx, "r-1", 2, 3)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, ledger.Version(3), recs[0].Version)
		assert.Equal(t, ledger.Version(5), recs[2].Version)

		recs, err = reader.RangeAfter(ctx, "r-1", 6, 3)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("AccountsListed", func(t *testing.T) {
		s := newStore(t)
		lister, ok := s.(ledger.AccountLister)
		if !ok {
			t.Skip("store does not implement ledger.AccountLister")
		}
		ctx := context.Background()
		for _, id := range []ledger.AccountID{"r-b", "r-a", "r-c"} {
			require.NoError(t, s.PutIfAbsent(ctx, ledger.NewSnapshotRecord(id, 0, 0, nil, at)))
		}

		accounts, err := lister.Accounts(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []ledger.AccountID{"r-a", "r-b", "r-c"}, accounts)
	})
}
