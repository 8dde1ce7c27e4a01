/*
latefee.go - Late-fee assessment over every resident ledger

RULE:
  A resident is assessed one LATE_FEE_APPLIED when, at sweep time,
    - the balance is positive,
    - some outstanding RENT item was posted more than GraceDays ago, and
    - no LATE_FEE item is still outstanding.
  The last condition makes a sweep safe to rerun: a fee stays outstanding
  until a payment or credit consumes it, and until then no second fee is
  assessed.

FLOW:
  Accounts (store must list partitions) -> RebuildState -> Due -> AppendEvent

  A failure on one resident is logged and counted; the sweep moves on.
*/
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/resident-ledger/ledger"
)

// Policy configures the late fee.
type Policy struct {
	AmountCents int64
	GraceDays   int
}

// Due reports whether state owes a late fee at now under p.
func (p Policy) Due(state ledger.State, now time.Time) bool {
	if p.AmountCents <= 0 || state.Balance <= 0 {
		return false
	}

	cutoff := now.Add(-time.Duration(p.GraceDays) * 24 * time.Hour)
	overdue := false
	for _, item := range state.OutstandingItems {
		if item.ChargeType == ledger.ChargeLateFee {
			return false
		}
		if item.ChargeType == ledger.ChargeRent && item.PostedAt.Before(cutoff) {
			overdue = true
		}
	}
	return overdue
}

// Recorder receives the outcome of each run.
type Recorder interface {
	SweepFinished(assessed int, err error)
}

// Result summarizes one run.
type Result struct {
	Scanned  int
	Assessed int
	Failed   int
}

// Sweeper assesses late fees across all residents.
type Sweeper struct {
	ledger   *ledger.Ledger
	policy   Policy
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// NewSweeper returns a Sweeper. recorder may be nil.
func NewSweeper(l *ledger.Ledger, policy Policy, recorder Recorder, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		ledger:   l,
		policy:   policy,
		logger:   logger.With("component", "sweep"),
		recorder: recorder,
		now:      time.Now,
	}
}

// RunOnce sweeps every resident as of the current time.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	res, err := s.run(ctx, s.now().UTC())
	if s.recorder != nil {
		s.recorder.SweepFinished(res.Assessed, err)
	}
	return res, err
}

func (s *Sweeper) run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	accounts, err := s.ledger.Accounts(ctx)
	if err != nil {
		return res, fmt.Errorf("list accounts: %w", err)
	}

	ref := "late-fee:" + now.Format("2006-01-02")
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		assessed, err := s.assess(ctx, account, now, ref)
		if err != nil {
			res.Failed++
			s.logger.Error("late fee assessment failed", "account", account, "err", err)
			continue
		}
		if assessed {
			res.Assessed++
		}
	}

	s.logger.Info("late fee sweep completed",
		"scanned", res.Scanned, "assessed", res.Assessed, "failed", res.Failed)
	if res.Failed > 0 {
		return res, fmt.Errorf("%d of %d accounts failed", res.Failed, res.Scanned)
	}
	return res, nil
}

func (s *Sweeper) assess(ctx context.Context, account ledger.AccountID, now time.Time, ref string) (bool, error) {
	state, err := s.ledger.RebuildState(ctx, account)
	if err != nil {
		return false, err
	}
	if !s.policy.Due(state, now) {
		return false, nil
	}

	v, err := s.ledger.AppendEvent(ctx, account,
		ledger.LateFeeApplied(s.policy.AmountCents, ledger.Metadata{ReferenceID: ref}))
	if err != nil {
		if errors.Is(err, ledger.ErrConcurrencyExhausted) {
			return false, fmt.Errorf("contended: %w", err)
		}
		return false, err
	}

	s.logger.Info("late fee assessed",
		"account", account, "version", v, "amount", s.policy.AmountCents, "balance", state.Balance)
	return true, nil
}
