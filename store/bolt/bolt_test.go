package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/resident-ledger/ledger"
	"github.com/warp/resident-ledger/ledger/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "ledger.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBolt_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store {
		return newTestStore(t)
	})
}

func TestBolt_RangeAfterBetweenKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	// Seek lands on the next key when after itself is missing.
	for _, v := range []ledger.Version{1, 4, 7} {
		require.NoError(t, s.PutIfAbsent(ctx, ledger.NewEventRecord("r-1", v, ledger.ChargePosted(10, ledger.ChargeRent, ledger.Metadata{}), at)))
	}

	recs, err := s.RangeAfter(ctx, "r-1", 2, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ledger.Version(4), recs[0].Version)
	assert.Equal(t, ledger.Version(7), recs[1].Version)
}

func TestBolt_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.bolt")

	s, err := New(path)
	require.NoError(t, err)
	l := ledger.New(s, ledger.Config{SnapshotInterval: 2, MaxAttempts: 5})
	for i := 0; i < 3; i++ {
		_, err := l.AppendEvent(ctx, "r-1", ledger.ChargePosted(700, ledger.ChargeRent, ledger.Metadata{}))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	state, err := ledger.New(s, ledger.DefaultConfig()).RebuildState(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2100), state.Balance)
	assert.Equal(t, ledger.Version(3), state.Version)
	assert.Len(t, state.OutstandingItems, 3)
}
