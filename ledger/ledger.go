/*
ledger.go - Event-sourced resident ledger: append, rebuild, snapshot

PURPOSE:
  The Ledger records financial facts for each resident as an append-only
  sequence of events, compacts them into snapshots every SnapshotInterval
  events, and reconstructs the current balance plus the FIFO list of
  outstanding charges on demand.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: events are never updated or deleted.
  2. GAPLESS VERSIONS: every event lands at a unique version, current+1.
  3. NO LOCKS: the store's put-if-absent is the only coordination. Two
     appenders racing for the same slot both call PutIfAbsent; the loser
     gets ErrConditionFailed and retries onto the next free slot.
  4. SNAPSHOT CADENCE: when an append lands on a multiple of
     SnapshotInterval, a snapshot for exactly that version is written at
     the same key. A failed snapshot is never rolled back; the next rebuild
     just replays further.

FLOW:
  AppendEvent:
    loop up to MaxAttempts:
      v := GetVersion()
      PutIfAbsent(event @ v+1)  -- conflict -> retry
      if (v+1) % interval == 0 -> rebuild(upTo v+1), Put(snapshot @ v+1)
    exhausted -> ConcurrencyExhaustedError

  RebuildState:
    RangeLatest(interval+1) newest first
    first SNAPSHOT found = baseline
    replay EVENTs after baseline, oldest first

CANCELLATION:
  The ledger defines no timeouts of its own. A cancelled ctx abandons the
  retry loop between attempts; every individual write is atomic so nothing
  partial is left behind.

SEE ALSO:
  - store.go:  Storage contract
  - replay.go: Reduction rules
  - events.go: Payload constructors
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// =============================================================================
// CONFIG
// =============================================================================

const (
	DefaultSnapshotInterval = 10
	DefaultMaxAttempts      = 5
)

// Config holds the ledger's tuning knobs.
type Config struct {
	// SnapshotInterval is K: a snapshot is written every K events and a
	// rebuild reads K+1 records.
	SnapshotInterval int
	// MaxAttempts bounds the optimistic-locking append loop.
	MaxAttempts int
}

// DefaultConfig returns interval 10, 5 attempts.
func DefaultConfig() Config {
	return Config{
		SnapshotInterval: DefaultSnapshotInterval,
		MaxAttempts:      DefaultMaxAttempts,
	}
}

func (c Config) normalized() Config {
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is stateless between calls and safe for concurrent use.
type Ledger struct {
	store    Store
	cfg      Config
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithObserver attaches observers. Multiple calls accumulate.
func WithObserver(obs ...Observer) Option {
	return func(l *Ledger) {
		all := Observers{l.observer}
		all = append(all, obs...)
		l.observer = all
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger over store.
func New(store Store, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		cfg:      cfg.normalized(),
		observer: NopObserver{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Ledger) Config() Config { return l.cfg }

// =============================================================================
// VERSION RESOLVER
// =============================================================================

// GetVersion returns the highest version recorded for account, or 0 if the
// partition is empty. Store failures propagate; no version is invented.
func (l *Ledger) GetVersion(ctx context.Context, account AccountID) (Version, error) {
	if account == "" {
		return 0, ErrInvalidAccount
	}
	rec, err := l.store.GetLatest(ctx, account)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}
	return rec.Version, nil
}

// =============================================================================
// STATE REBUILDER
// =============================================================================

// RebuildState reconstructs balance and outstanding items as of the latest
// version. An account with no records yields ZeroState(), not an error.
func (l *Ledger) RebuildState(ctx context.Context, account AccountID) (State, error) {
	if account == "" {
		return State{}, ErrInvalidAccount
	}
	return l.rebuild(ctx, account, -1)
}

// rebuild reads the newest interval+1 records and reduces them. When upTo
// is non-negative, records above it are ignored so a compaction pass never
// folds in an event a concurrent appender wrote after its own.
//
// If the window holds no snapshot and does not reach the start of the
// partition, the window is doubled until it does. This only happens after
// a failed compaction.
func (l *Ledger) rebuild(ctx context.Context, account AccountID, upTo Version) (State, error) {
	start := l.now()
	limit := l.cfg.SnapshotInterval + 1

	for {
		recs, err := l.store.RangeLatest(ctx, account, limit)
		if err != nil {
			return State{}, err
		}
		exhausted := len(recs) < limit

		window := recs
		if upTo >= 0 {
			window = window[:0:0]
			for _, r := range recs {
				if r.Version <= upTo {
					window = append(window, r)
				}
			}
		}

		snapIdx := -1
		for i, r := range window {
			if r.IsSnapshot() {
				snapIdx = i
				break
			}
		}

		if snapIdx < 0 && !exhausted {
			limit *= 2
			continue
		}

		if len(window) == 0 {
			return ZeroState(), nil
		}

		base := ZeroState()
		events := window
		if snapIdx >= 0 {
			snap := window[snapIdx]
			base = State{
				Balance:          snap.Balance,
				Version:          snap.Version,
				OutstandingItems: cloneItems(snap.OutstandingItems),
			}
			events = window[:snapIdx]
		}

		state := Replay(base, events)
		state.Version = window[0].Version
		l.observer.StateRebuilt(ctx, account, len(events), l.now().Sub(start))
		return state, nil
	}
}

// =============================================================================
// EVENT APPENDER
// =============================================================================

// AppendEvent appends payload at the next free version and returns it.
//
// Returns a *ConcurrencyExhaustedError (errors.Is ErrConcurrencyExhausted)
// if every attempt lost its race. Any other store error propagates
// immediately without retry.
func (l *Ledger) AppendEvent(ctx context.Context, account AccountID, payload EventPayload) (Version, error) {
	if account == "" {
		return 0, ErrInvalidAccount
	}
	if err := payload.Validate(); err != nil {
		return 0, err
	}

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, err := l.GetVersion(ctx, account)
		if err != nil {
			return 0, err
		}
		next := current + 1
		if next > MaxVersion {
			return 0, fmt.Errorf("append %s v%d: %w", account, next, ErrVersionLimit)
		}
		rec := NewEventRecord(account, next, payload, l.now())

		if err := l.store.PutIfAbsent(ctx, rec); err != nil {
			if IsConflict(err) {
				l.logger.Debug("ledger append conflict",
					"account", account, "version", next, "attempt", attempt)
				l.observer.AppendConflict(ctx, account, next)
				continue
			}
			return 0, err
		}

		l.observer.EventAppended(ctx, rec, attempt)

		if int64(next)%int64(l.cfg.SnapshotInterval) == 0 {
			l.compact(ctx, account, next)
		}
		return next, nil
	}

	l.logger.Error("ledger append exhausted retries",
		"account", account, "attempts", l.cfg.MaxAttempts)
	l.observer.AppendExhausted(ctx, account, l.cfg.MaxAttempts)
	return 0, &ConcurrencyExhaustedError{Account: account, Attempts: l.cfg.MaxAttempts}
}

// compact writes the snapshot for version. Failures are logged, not
// returned: the event is already durable.
func (l *Ledger) compact(ctx context.Context, account AccountID, version Version) {
	state, err := l.rebuild(ctx, account, version)
	if err == nil {
		err = l.WriteSnapshot(ctx, account, version, state.Balance, state.OutstandingItems)
	}
	if err != nil {
		l.logger.Warn("ledger snapshot failed",
			"account", account, "version", version, "error", err)
		l.observer.SnapshotFailed(ctx, account, version, err)
	}
}

// =============================================================================
// SNAPSHOT WRITER / INITIALIZER
// =============================================================================

// WriteSnapshot writes a snapshot unconditionally. Only the compaction pass
// for version may rewrite the record at that key.
func (l *Ledger) WriteSnapshot(ctx context.Context, account AccountID, version Version, balance int64, items []OutstandingItem) error {
	if account == "" {
		return ErrInvalidAccount
	}
	snap := NewSnapshotRecord(account, version, balance, items, l.now())
	if err := l.store.Put(ctx, snap); err != nil {
		return fmt.Errorf("write snapshot v%d: %w", version, err)
	}
	l.observer.SnapshotWritten(ctx, account, version)
	return nil
}

// EnsureInitialized writes the version-0 zero-balance snapshot if the
// account has no versions yet. Safe to call repeatedly and concurrently:
// a lost race on version 0 is treated as success.
func (l *Ledger) EnsureInitialized(ctx context.Context, account AccountID) error {
	v, err := l.GetVersion(ctx, account)
	if err != nil {
		return err
	}
	if v > 0 {
		return nil
	}

	snap := NewSnapshotRecord(account, 0, 0, nil, l.now())
	if err := l.store.PutIfAbsent(ctx, snap); err != nil {
		if IsConflict(err) {
			return nil
		}
		return err
	}
	l.observer.SnapshotWritten(ctx, account, 0)
	return nil
}

// =============================================================================
// READ HELPERS
// =============================================================================

// History returns up to limit records after version after, oldest first.
func (l *Ledger) History(ctx context.Context, account AccountID, after Version, limit int) ([]Record, error) {
	if account == "" {
		return nil, ErrInvalidAccount
	}
	hr, ok := l.store.(HistoryReader)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	return hr.RangeAfter(ctx, account, after, limit)
}

// Accounts lists every account with records, when the store supports it.
func (l *Ledger) Accounts(ctx context.Context) ([]AccountID, error) {
	al, ok := l.store.(AccountLister)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list accounts", l.store)
	}
	return al.Accounts(ctx)
}
