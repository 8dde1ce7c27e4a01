package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/resident-ledger/ledger"
	"github.com/warp/resident-ledger/ledger/store"
)

var (
	rentDay   = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	sweepDay  = time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC)
	testTerms = Policy{AmountCents: 5000, GraceDays: 5}
)

type recorder struct {
	runs     int
	assessed int
	lastErr  error
}

func (r *recorder) SweepFinished(assessed int, err error) {
	r.runs++
	r.assessed += assessed
	r.lastErr = err
}

// fixture posts with a clock set to rentDay and sweeps at sweepDay.
func fixture(t *testing.T, s ledger.Store) (*ledger.Ledger, *Sweeper, *recorder) {
	t.Helper()
	clock := rentDay
	l := ledger.New(s, ledger.DefaultConfig(), ledger.WithClock(func() time.Time { return clock }))
	rec := &recorder{}
	sw := NewSweeper(l, testTerms, rec, nil)
	sw.now = func() time.Time { return sweepDay }
	return l, sw, rec
}

func post(t *testing.T, l *ledger.Ledger, account ledger.AccountID, p ledger.EventPayload) {
	t.Helper()
	_, err := l.AppendEvent(context.Background(), account, p)
	require.NoError(t, err)
}

func TestPolicy_Due(t *testing.T) {
	overdueRent := ledger.OutstandingItem{ChargeType: ledger.ChargeRent, Amount: 100, PostedAt: rentDay}
	freshRent := ledger.OutstandingItem{ChargeType: ledger.ChargeRent, Amount: 100, PostedAt: sweepDay.Add(-24 * time.Hour)}
	utility := ledger.OutstandingItem{ChargeType: ledger.ChargeUtility, Amount: 100, PostedAt: rentDay}
	fee := ledger.OutstandingItem{ChargeType: ledger.ChargeLateFee, Amount: 50, PostedAt: rentDay}

	tests := []struct {
		name  string
		state ledger.State
		want  bool
	}{
		{"overdue rent", ledger.State{Balance: 100, OutstandingItems: []ledger.OutstandingItem{overdueRent}}, true},
		{"within grace", ledger.State{Balance: 100, OutstandingItems: []ledger.OutstandingItem{freshRent}}, false},
		{"only utility overdue", ledger.State{Balance: 100, OutstandingItems: []ledger.OutstandingItem{utility}}, false},
		{"fee already outstanding", ledger.State{Balance: 150, OutstandingItems: []ledger.OutstandingItem{overdueRent, fee}}, false},
		{"zero balance", ledger.State{Balance: 0, OutstandingItems: []ledger.OutstandingItem{overdueRent}}, false},
		{"credit balance", ledger.State{Balance: -20}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testTerms.Due(tt.state, sweepDay))
		})
	}

	assert.False(t, Policy{AmountCents: 0, GraceDays: 5}.Due(tests[0].state, sweepDay))
}

func TestSweeper_AssessesOnlyOverdueResidents(t *testing.T) {
	ctx := context.Background()
	l, sw, rec := fixture(t, store.NewMemory())

	post(t, l, "late", ledger.ChargePosted(210000, ledger.ChargeRent, ledger.Metadata{}))
	post(t, l, "paid", ledger.ChargePosted(210000, ledger.ChargeRent, ledger.Metadata{}))
	post(t, l, "paid", ledger.PaymentApplied(210000, ledger.Metadata{}))
	post(t, l, "partial", ledger.ChargePosted(210000, ledger.ChargeRent, ledger.Metadata{}))
	post(t, l, "partial", ledger.PaymentApplied(200000, ledger.Metadata{}))

	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Scanned: 3, Assessed: 2}, res)
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, 2, rec.assessed)

	late, err := l.RebuildState(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, int64(215000), late.Balance)
	require.Len(t, late.OutstandingItems, 2)
	assert.Equal(t, ledger.ChargeLateFee, late.OutstandingItems[1].ChargeType)

	paid, err := l.RebuildState(ctx, "paid")
	require.NoError(t, err)
	assert.Equal(t, int64(0), paid.Balance)
}

func TestSweeper_RerunDoesNotDoubleCharge(t *testing.T) {
	ctx := context.Background()
	l, sw, _ := fixture(t, store.NewMemory())
	post(t, l, "r-1", ledger.ChargePosted(1000, ledger.ChargeRent, ledger.Metadata{}))

	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assessed)

	res, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Assessed)

	v, err := l.GetVersion(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Version(2), v)
}

func TestSweeper_FeeRecordCarriesReference(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	l, sw, _ := fixture(t, mem)
	post(t, l, "r-1", ledger.ChargePosted(1000, ledger.ChargeRent, ledger.Metadata{}))

	_, err := sw.RunOnce(ctx)
	require.NoError(t, err)

	recs := mem.Records("r-1")
	require.Len(t, recs, 2)
	assert.Equal(t, ledger.EventLateFeeApplied, recs[1].EventType)
	assert.Equal(t, int64(5000), recs[1].Amount)
	assert.Equal(t, "late-fee:2025-03-10", recs[1].ReferenceID)
}

func TestSweeper_ContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	faulty := &store.Faulty{Store: mem}
	l, sw, rec := fixture(t, mem)

	post(t, l, "r-a", ledger.ChargePosted(1000, ledger.ChargeRent, ledger.Metadata{}))
	post(t, l, "r-b", ledger.ChargePosted(1000, ledger.ChargeRent, ledger.Metadata{}))

	// Sweep through a store that fails reads for r-a only.
	boom := errors.New("read timeout")
	faulty.BeforeRangeLatest = func(_ context.Context, account ledger.AccountID) error {
		if account == "r-a" {
			return boom
		}
		return nil
	}
	sw.ledger = ledger.New(faultyLister{faulty, mem}, ledger.DefaultConfig())

	res, err := sw.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, Result{Scanned: 2, Assessed: 1, Failed: 1}, res)
	assert.Error(t, rec.lastErr)
}

func TestSweeper_RequiresAccountListing(t *testing.T) {
	l := ledger.New(&store.Faulty{Store: store.NewMemory()}, ledger.DefaultConfig())
	sw := NewSweeper(l, testTerms, nil, nil)

	_, err := sw.RunOnce(context.Background())
	assert.Error(t, err)
}

// faultyLister restores Accounts on top of a Faulty wrapper.
type faultyLister struct {
	*store.Faulty
	lister ledger.AccountLister
}

func (f faultyLister) Accounts(ctx context.Context) ([]ledger.AccountID, error) {
	return f.lister.Accounts(ctx)
}
