package ledger

import (
	"context"
	"time"
)

// Observer receives notifications about ledger activity. Implementations
// must be safe for concurrent use and must not block; a failing observer
// never fails the ledger operation that triggered it.
type Observer interface {
	// EventAppended fires once per durable event write.
	EventAppended(ctx context.Context, rec Record, attempts int)
	// AppendConflict fires when a conditional write lost its race.
	AppendConflict(ctx context.Context, account AccountID, version Version)
	// AppendExhausted fires when the retry budget ran out.
	AppendExhausted(ctx context.Context, account AccountID, attempts int)
	// SnapshotWritten fires after a compaction or bootstrap snapshot.
	SnapshotWritten(ctx context.Context, account AccountID, version Version)
	// SnapshotFailed fires when compaction could not complete.
	SnapshotFailed(ctx context.Context, account AccountID, version Version, err error)
	// StateRebuilt fires after every rebuild.
	StateRebuilt(ctx context.Context, account AccountID, replayed int, took time.Duration)
}

// NopObserver ignores everything. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) EventAppended(context.Context, Record, int)                  {}
func (NopObserver) AppendConflict(context.Context, AccountID, Version)          {}
func (NopObserver) AppendExhausted(context.Context, AccountID, int)             {}
func (NopObserver) SnapshotWritten(context.Context, AccountID, Version)         {}
func (NopObserver) SnapshotFailed(context.Context, AccountID, Version, error)   {}
func (NopObserver) StateRebuilt(context.Context, AccountID, int, time.Duration) {}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (obs Observers) EventAppended(ctx context.Context, rec Record, attempts int) {
	for _, o := range obs {
		o.EventAppended(ctx, rec, attempts)
	}
}

func (obs Observers) AppendConflict(ctx context.Context, account AccountID, version Version) {
	for _, o := range obs {
		o.AppendConflict(ctx, account, version)
	}
}

func (obs Observers) AppendExhausted(ctx context.Context, account AccountID, attempts int) {
	for _, o := range obs {
		o.AppendExhausted(ctx, account, attempts)
	}
}

func (obs Observers) SnapshotWritten(ctx context.Context, account AccountID, version Version) {
	for _, o := range obs {
		o.SnapshotWritten(ctx, account, version)
	}
}

func (obs Observers) SnapshotFailed(ctx context.Context, account AccountID, version Version, err error) {
	for _, o := range obs {
		o.SnapshotFailed(ctx, account, version, err)
	}
}

func (obs Observers) StateRebuilt(ctx context.Context, account AccountID, replayed int, took time.Duration) {
	for _, o := range obs {
		o.StateRebuilt(ctx, account, replayed, took)
	}
}
