package ledger

import (
	"fmt"
	"math"
)

// EventPayload is everything an event carries except account, version,
// kind and timestamp, which the appender assigns.
type EventPayload struct {
	EventType   EventType
	Amount      int64
	ChargeType  ChargeType
	Description string
	ReferenceID string
	PropertyID  string
	State       string
}

// Metadata is optional context attached to any payload.
type Metadata struct {
	Description string
	ReferenceID string
	PropertyID  string
	State       string
}

func (m Metadata) apply(p EventPayload) EventPayload {
	if m.Description != "" {
		p.Description = m.Description
	}
	p.ReferenceID = m.ReferenceID
	p.PropertyID = m.PropertyID
	p.State = m.State
	return p
}

// ChargePosted posts a charge. amount is the charge magnitude.
func ChargePosted(amount int64, chargeType ChargeType, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType:  EventChargePosted,
		Amount:     abs(amount),
		ChargeType: chargeType,
	})
}

// LateFeeApplied posts a late fee with the LATE_FEE charge type.
func LateFeeApplied(amount int64, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType:   EventLateFeeApplied,
		Amount:      abs(amount),
		ChargeType:  ChargeLateFee,
		Description: "Late fee",
	})
}

// ChargebackApplied reinstates a reversed payment as a new charge.
func ChargebackApplied(amount int64, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType: EventChargebackApplied,
		Amount:    abs(amount),
	})
}

// PaymentApplied records a settled payment, stored as the negative of the
// submitted magnitude.
func PaymentApplied(amount int64, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType: EventPaymentApplied,
		Amount:    -abs(amount),
	})
}

// CreditApplied records a credit, stored negative.
func CreditApplied(amount int64, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType: EventCreditApplied,
		Amount:    -abs(amount),
	})
}

// RefundApplied records a refund, stored as a positive magnitude.
func RefundApplied(amount int64, meta Metadata) EventPayload {
	return meta.apply(EventPayload{
		EventType: EventRefundApplied,
		Amount:    abs(amount),
	})
}

// Validate checks the payload against the sign convention:
//
//	CHARGE_POSTED, LATE_FEE_APPLIED, CHARGEBACK_APPLIED, REFUND_APPLIED  > 0
//	PAYMENT_APPLIED, CREDIT_APPLIED                                     < 0
func (p EventPayload) Validate() error {
	if !p.EventType.Valid() {
		return &InvalidEventError{EventType: p.EventType, Reason: "unknown event type"}
	}
	if p.Amount == 0 {
		return &InvalidEventError{EventType: p.EventType, Reason: "amount must be non-zero"}
	}
	if p.Amount == math.MinInt64 {
		return &InvalidEventError{EventType: p.EventType, Reason: "amount out of range"}
	}
	wantPositive := p.EventType != EventPaymentApplied && p.EventType != EventCreditApplied
	if wantPositive && p.Amount < 0 {
		return &InvalidEventError{EventType: p.EventType, Reason: fmt.Sprintf("amount %d must be positive", p.Amount)}
	}
	if !wantPositive && p.Amount > 0 {
		return &InvalidEventError{EventType: p.EventType, Reason: fmt.Sprintf("amount %d must be negative", p.Amount)}
	}
	if p.ChargeType != "" && !p.ChargeType.Valid() {
		return &InvalidEventError{EventType: p.EventType, Reason: fmt.Sprintf("unknown charge type %q", p.ChargeType)}
	}
	if p.EventType == EventChargePosted && p.ChargeType == "" {
		return &InvalidEventError{EventType: p.EventType, Reason: "charge type required"}
	}
	return nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
