/*
types.go - Record model and key scheme for the resident ledger

PURPOSE:
  Defines the two record shapes stored per resident (EVENT and SNAPSHOT),
  the outstanding-item breakdown carried by snapshots, and the derived
  State returned by a rebuild.

KEY SCHEME:
  Every record for one resident lives in a single ordered partition:

    partition key:  RESIDENT#<residentId>
    sort key:       v00000042   (zero-padded, 8 digits)

  Zero padding makes lexicographic order equal numeric order. Stores only
  order by the encoded key, so history can be read oldest-first or
  newest-first without decoding every key.

  Events and snapshots share the same keyspace. A snapshot at version N
  summarizes everything up to and including the event at version N.

AMOUNTS:
  All amounts are int64 minor currency units (cents).
    amount > 0  increases what the resident owes (charge)
    amount < 0  decreases it (payment, credit)

SEE ALSO:
  - events.go: Payload constructors enforcing the sign convention
  - replay.go: How events change State
  - ledger.go: Append / rebuild / snapshot operations
*/
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// IDENTITY AND VERSIONS
// =============================================================================

// AccountID identifies a resident. Opaque to the ledger.
type AccountID string

// Version is the per-account sequence number of a record.
// Version 0 is the bootstrap snapshot.
type Version int64

const (
	partitionPrefix = "RESIDENT#"
	sortKeyPrefix   = "v"
	sortKeyWidth    = 8
)

// MaxVersion is the highest version SortKey can encode while keeping
// lexical order equal to numeric order.
const MaxVersion Version = 99_999_999

// PartitionKey returns the ordered-partition key for an account.
func PartitionKey(account AccountID) string {
	return partitionPrefix + string(account)
}

// AccountFromPartitionKey is the inverse of PartitionKey.
func AccountFromPartitionKey(pk string) (AccountID, bool) {
	if !strings.HasPrefix(pk, partitionPrefix) {
		return "", false
	}
	return AccountID(strings.TrimPrefix(pk, partitionPrefix)), true
}

// SortKey encodes a version as a fixed-width, zero-padded key. Versions
// above MaxVersion widen the key and break its ordering.
func SortKey(v Version) string {
	return fmt.Sprintf("%s%0*d", sortKeyPrefix, sortKeyWidth, int64(v))
}

// ParseSortKey decodes a key produced by SortKey.
func ParseSortKey(sk string) (Version, error) {
	if !strings.HasPrefix(sk, sortKeyPrefix) {
		return 0, fmt.Errorf("malformed sort key %q", sk)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(sk, sortKeyPrefix), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("malformed sort key %q", sk)
	}
	return Version(n), nil
}

// =============================================================================
// RECORD KINDS AND EVENT TYPES
// =============================================================================

// RecordKind discriminates the two record shapes sharing one keyspace.
type RecordKind string

const (
	KindEvent    RecordKind = "EVENT"
	KindSnapshot RecordKind = "SNAPSHOT"
)

// EventType is the business meaning of an event record.
type EventType string

const (
	EventChargePosted      EventType = "CHARGE_POSTED"
	EventPaymentApplied    EventType = "PAYMENT_APPLIED"
	EventLateFeeApplied    EventType = "LATE_FEE_APPLIED"
	EventRefundApplied     EventType = "REFUND_APPLIED"
	EventChargebackApplied EventType = "CHARGEBACK_APPLIED"
	EventCreditApplied     EventType = "CREDIT_APPLIED"
)

// IsIncrease reports whether the event adds a new outstanding item.
func (t EventType) IsIncrease() bool {
	switch t {
	case EventChargePosted, EventLateFeeApplied, EventChargebackApplied:
		return true
	}
	return false
}

// IsDecrease reports whether the event consumes outstanding items.
// REFUND_APPLIED is in this group even though its amount is positive.
func (t EventType) IsDecrease() bool {
	switch t {
	case EventPaymentApplied, EventCreditApplied, EventRefundApplied:
		return true
	}
	return false
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t.IsIncrease() || t.IsDecrease()
}

// ChargeType categorizes a charge.
type ChargeType string

const (
	ChargeRent    ChargeType = "RENT"
	ChargeDeposit ChargeType = "DEPOSIT"
	ChargeUtility ChargeType = "UTILITY"
	ChargeLateFee ChargeType = "LATE_FEE"
	ChargeOther   ChargeType = "OTHER"
)

// Valid reports whether c is a known charge type.
func (c ChargeType) Valid() bool {
	switch c {
	case ChargeRent, ChargeDeposit, ChargeUtility, ChargeLateFee, ChargeOther:
		return true
	}
	return false
}

// ParseChargeType parses a charge type case-insensitively.
func ParseChargeType(s string) (ChargeType, error) {
	c := ChargeType(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown charge type %q", ErrInvalidEvent, s)
	}
	return c, nil
}

// =============================================================================
// RECORDS
// =============================================================================

// OutstandingItem is a not-yet-fully-paid charge. Its identity is the
// version of the event that created it. Never persisted on its own; it only
// lives inside a snapshot or an in-memory State.
type OutstandingItem struct {
	Version     Version    `json:"version"`
	EventType   EventType  `json:"eventType"`
	Amount      int64      `json:"amount"`
	ChargeType  ChargeType `json:"chargeType,omitempty"`
	Description string     `json:"description,omitempty"`
	PostedAt    time.Time  `json:"postedAt,omitempty"`
}

// Record is one entry in an account partition: an EVENT or a SNAPSHOT.
// Fields not belonging to the record's Kind are zero.
type Record struct {
	Account   AccountID  `json:"account"`
	Version   Version    `json:"version"`
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`

	// EVENT fields
	EventType   EventType  `json:"eventType,omitempty"`
	Amount      int64      `json:"amount,omitempty"`
	ChargeType  ChargeType `json:"chargeType,omitempty"`
	Description string     `json:"description,omitempty"`
	ReferenceID string     `json:"referenceId,omitempty"`
	PropertyID  string     `json:"propertyId,omitempty"`
	State       string     `json:"state,omitempty"`

	// SNAPSHOT fields
	Balance          int64             `json:"balance,omitempty"`
	OutstandingItems []OutstandingItem `json:"outstandingItems,omitempty"`
}

// IsEvent reports whether r is an EVENT record.
func (r Record) IsEvent() bool { return r.Kind == KindEvent }

// IsSnapshot reports whether r is a SNAPSHOT record.
func (r Record) IsSnapshot() bool { return r.Kind == KindSnapshot }

// PartitionKey returns the record's partition key.
func (r Record) PartitionKey() string { return PartitionKey(r.Account) }

// SortKey returns the record's encoded version.
func (r Record) SortKey() string { return SortKey(r.Version) }

// NewEventRecord stamps a payload with its account, version and time.
func NewEventRecord(account AccountID, v Version, p EventPayload, at time.Time) Record {
	return Record{
		Account:     account,
		Version:     v,
		Kind:        KindEvent,
		Timestamp:   at.UTC(),
		EventType:   p.EventType,
		Amount:      p.Amount,
		ChargeType:  p.ChargeType,
		Description: p.Description,
		ReferenceID: p.ReferenceID,
		PropertyID:  p.PropertyID,
		State:       p.State,
	}
}

// NewSnapshotRecord builds a snapshot. A nil item list is stored as empty.
func NewSnapshotRecord(account AccountID, v Version, balance int64, items []OutstandingItem, at time.Time) Record {
	return Record{
		Account:          account,
		Version:          v,
		Kind:             KindSnapshot,
		Timestamp:        at.UTC(),
		Balance:          balance,
		OutstandingItems: cloneItems(items),
	}
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// State is the reduced view of an account at Version. Derived, never stored
// on its own.
type State struct {
	Balance          int64             `json:"balance"`
	Version          Version           `json:"version"`
	OutstandingItems []OutstandingItem `json:"outstandingItems"`
}

// ZeroState is the state of an account with no records.
func ZeroState() State {
	return State{OutstandingItems: []OutstandingItem{}}
}

// OutstandingTotal sums the remaining amount of every outstanding item.
func (s State) OutstandingTotal() int64 {
	var total int64
	for _, it := range s.OutstandingItems {
		total += it.Amount
	}
	return total
}

func cloneItems(items []OutstandingItem) []OutstandingItem {
	out := make([]OutstandingItem, len(items))
	copy(out, items)
	return out
}
