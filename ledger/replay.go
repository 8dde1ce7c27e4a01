/*
replay.go - Deterministic reduction of events into State

RULES:
  Every event adds its signed amount to the balance.

  Increase events (CHARGE_POSTED, LATE_FEE_APPLIED, CHARGEBACK_APPLIED)
  append a new outstanding item identified by the event's version.

  Decrease events (PAYMENT_APPLIED, CREDIT_APPLIED, REFUND_APPLIED) consume
  outstanding items oldest-first by |amount|:
    - fully covered items are removed
    - the last touched item keeps its reduced remainder
    - any excess beyond the outstanding total is not tracked per item

EXAMPLE:
  C1 +100, C2 +50, PAY -120
    after C1:  [C1:100]
    after C2:  [C1:100, C2:50]
    after PAY: [C2:30]          balance 30

The outstanding list is an ordered queue, never a set: allocation order
decides which charge is considered paid.
*/
package ledger

import "sort"

// Apply folds one event record into state and returns the new state.
// Non-event records are ignored. state is not modified.
func Apply(state State, ev Record) State {
	if !ev.IsEvent() {
		return state
	}

	next := State{
		Balance:          state.Balance + ev.Amount,
		Version:          ev.Version,
		OutstandingItems: state.OutstandingItems,
	}

	switch {
	case ev.EventType.IsIncrease():
		items := cloneItems(state.OutstandingItems)
		next.OutstandingItems = append(items, OutstandingItem{
			Version:     ev.Version,
			EventType:   ev.EventType,
			Amount:      ev.Amount,
			ChargeType:  ev.ChargeType,
			Description: ev.Description,
			PostedAt:    ev.Timestamp,
		})
	case ev.EventType.IsDecrease():
		next.OutstandingItems = consumeFIFO(state.OutstandingItems, abs(ev.Amount))
	}
	return next
}

// Replay applies events on top of base in ascending version order.
// Events at or below base.Version are skipped.
func Replay(base State, events []Record) State {
	ordered := make([]Record, 0, len(events))
	for _, r := range events {
		if r.IsEvent() && r.Version > base.Version {
			ordered = append(ordered, r)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	state := base
	if state.OutstandingItems == nil {
		state.OutstandingItems = []OutstandingItem{}
	}
	for _, ev := range ordered {
		state = Apply(state, ev)
	}
	return state
}

// consumeFIFO deducts amount from items oldest-first.
func consumeFIFO(items []OutstandingItem, amount int64) []OutstandingItem {
	out := make([]OutstandingItem, 0, len(items))
	remaining := amount
	for _, it := range items {
		if remaining <= 0 {
			out = append(out, it)
			continue
		}
		deduct := min(it.Amount, remaining)
		remaining -= deduct
		if deduct >= it.Amount {
			continue
		}
		it.Amount -= deduct
		out = append(out, it)
	}
	return out
}
