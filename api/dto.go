/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger record layout.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Request amounts are either a JSON integer in minor units (2100) or a
  decimal string in major units ("21.00"); see Cents. Responses carry
  integer minor units plus a *Display string rendered with
  shopspring/decimal, so clients never divide by 100 in floating point.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/resident-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// Cents is an amount in minor units. It decodes from a JSON integer (minor
// units) or a JSON string holding a decimal in major units with at most
// two fractional digits. Magnitudes must stay below math.MaxInt64.
type Cents int64

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

func (c *Cents) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", s, err)
		}
		minor := d.Mul(hundred)
		if !minor.IsInteger() {
			return fmt.Errorf("invalid amount %q: more than two decimal places", s)
		}
		if !minor.Abs().LessThan(maxCents) {
			return fmt.Errorf("invalid amount %q: out of range", s)
		}
		*c = Cents(minor.IntPart())
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid amount %s: want integer minor units or decimal string", data)
	}
	if n == math.MinInt64 || n == math.MaxInt64 {
		return fmt.Errorf("invalid amount %s: out of range", data)
	}
	*c = Cents(n)
	return nil
}

// ChargeRequest posts a charge.
type ChargeRequest struct {
	Amount      Cents  `json:"amount"`
	ChargeType  string `json:"chargeType"`
	Description string `json:"description,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
	PropertyID  string `json:"propertyId,omitempty"`
	State       string `json:"state,omitempty"`
}

// AmountRequest is the body for payments, credits, refunds, chargebacks
// and late fees. Amount is a magnitude; the server applies the sign.
type AmountRequest struct {
	Amount      Cents  `json:"amount"`
	Description string `json:"description,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
	PropertyID  string `json:"propertyId,omitempty"`
	State       string `json:"state,omitempty"`
}

func (r AmountRequest) metadata() ledger.Metadata {
	return ledger.Metadata{
		Description: r.Description,
		ReferenceID: r.ReferenceID,
		PropertyID:  r.PropertyID,
		State:       r.State,
	}
}

// =============================================================================
// RESPONSES
// =============================================================================

// VersionDTO carries an account version.
type VersionDTO struct {
	Version int64 `json:"version"`
}

// BalanceDTO is the rebuilt state of a resident.
type BalanceDTO struct {
	ResidentID       string               `json:"residentId"`
	Balance          int64                `json:"balance"`
	BalanceDisplay   string               `json:"balanceDisplay"`
	Currency         string               `json:"currency"`
	Version          int64                `json:"version"`
	OutstandingItems []OutstandingItemDTO `json:"outstandingItems"`
}

// OutstandingItemDTO is one unpaid charge.
type OutstandingItemDTO struct {
	Version       int64     `json:"version"`
	EventType     string    `json:"eventType"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amountDisplay"`
	ChargeType    string    `json:"chargeType,omitempty"`
	Description   string    `json:"description,omitempty"`
	PostedAt      time.Time `json:"postedAt"`
}

// RecordDTO is one entry in a resident's history.
type RecordDTO struct {
	Version     int64     `json:"version"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"eventType,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	ChargeType  string    `json:"chargeType,omitempty"`
	Description string    `json:"description,omitempty"`
	ReferenceID string    `json:"referenceId,omitempty"`
	PropertyID  string    `json:"propertyId,omitempty"`
	State       string    `json:"state,omitempty"`
	Balance     *int64    `json:"balance,omitempty"`
}

// HistoryDTO is a page of history. Next is the cursor for the following
// page, absent on the last one.
type HistoryDTO struct {
	Records []RecordDTO `json:"records"`
	Next    *int64      `json:"next,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// formatCents renders minor units as a fixed two-place decimal string.
func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func toBalanceDTO(account ledger.AccountID, currency string, s ledger.State) BalanceDTO {
	items := make([]OutstandingItemDTO, 0, len(s.OutstandingItems))
	for _, it := range s.OutstandingItems {
		items = append(items, OutstandingItemDTO{
			Version:       int64(it.Version),
			EventType:     string(it.EventType),
			Amount:        it.Amount,
			AmountDisplay: formatCents(it.Amount),
			ChargeType:    string(it.ChargeType),
			Description:   it.Description,
			PostedAt:      it.PostedAt,
		})
	}
	return BalanceDTO{
		ResidentID:       string(account),
		Balance:          s.Balance,
		BalanceDisplay:   formatCents(s.Balance),
		Currency:         currency,
		Version:          int64(s.Version),
		OutstandingItems: items,
	}
}

func toRecordDTO(rec ledger.Record) RecordDTO {
	dto := RecordDTO{
		Version:     int64(rec.Version),
		Kind:        string(rec.Kind),
		Timestamp:   rec.Timestamp,
		EventType:   string(rec.EventType),
		Amount:      rec.Amount,
		ChargeType:  string(rec.ChargeType),
		Description: rec.Description,
		ReferenceID: rec.ReferenceID,
		PropertyID:  rec.PropertyID,
		State:       rec.State,
	}
	if rec.IsSnapshot() {
		balance := rec.Balance
		dto.Balance = &balance
	}
	return dto
}
