package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/warp/resident-ledger/ledger"
)

// Domain event types, used as routing keys.
const (
	TypeChargePosted   = "charge.posted"
	TypePaymentSettled = "payment.settled"
	TypePaymentFailed  = "payment.failed"
	TypeLateFeeApplied = "late_fee.applied"
)

const (
	DefaultExchange = "ledger_events"
	Source          = "ledger"
	EnvelopeVersion = "1.0"

	publishTimeout   = 5 * time.Second
	defaultQueueSize = 1024
)

// DomainType maps a ledger event type to its domain event type.
func DomainType(t ledger.EventType) (string, bool) {
	switch t {
	case ledger.EventChargePosted, ledger.EventChargebackApplied:
		return TypeChargePosted, true
	case ledger.EventPaymentApplied, ledger.EventCreditApplied:
		return TypePaymentSettled, true
	case ledger.EventLateFeeApplied:
		return TypeLateFeeApplied, true
	case ledger.EventRefundApplied:
		return TypePaymentFailed, true
	}
	return "", false
}

// DomainEvent is the envelope published for every appended event.
type DomainEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Data      EventData `json:"data"`
}

// EventData carries the ledger entry.
type EventData struct {
	ResidentID    string `json:"residentId"`
	LedgerVersion int64  `json:"ledgerVersion"`
	LedgerType    string `json:"ledgerEventType"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ChargeType    string `json:"chargeType,omitempty"`
	Description   string `json:"description,omitempty"`
	ReferenceID   string `json:"referenceId,omitempty"`
	PropertyID    string `json:"propertyId,omitempty"`
	State         string `json:"state,omitempty"`
}

// NewDomainEvent builds the envelope for an event record.
func NewDomainEvent(rec ledger.Record, currency string) (DomainEvent, bool) {
	if !rec.IsEvent() {
		return DomainEvent{}, false
	}
	eventType, ok := DomainType(rec.EventType)
	if !ok {
		return DomainEvent{}, false
	}
	return DomainEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Source:    Source,
		Timestamp: rec.Timestamp,
		Version:   EnvelopeVersion,
		Data: EventData{
			ResidentID:    string(rec.Account),
			LedgerVersion: int64(rec.Version),
			LedgerType:    string(rec.EventType),
			Amount:        rec.Amount,
			Currency:      currency,
			ChargeType:    string(rec.ChargeType),
			Description:   rec.Description,
			ReferenceID:   rec.ReferenceID,
			PropertyID:    rec.PropertyID,
			State:         rec.State,
		},
	}, true
}

// Notifier is a ledger.Observer that publishes a DomainEvent for every
// appended event. Appends only enqueue: a worker goroutine drains the
// bounded queue and publishes. A full queue drops the event with a
// warning, and a publish failure is logged. Neither affects the append.
type Notifier struct {
	ledger.NopObserver

	publisher Publisher
	exchange  string
	currency  string
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan DomainEvent
	done    chan struct{}
	dropped atomic.Uint64
}

// NotifierOption configures a Notifier.
type NotifierOption func(*notifierOptions)

type notifierOptions struct {
	queueSize int
}

// WithQueueSize bounds the number of events waiting to be published.
func WithQueueSize(n int) NotifierOption {
	return func(o *notifierOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// NewNotifier returns a Notifier publishing to exchange and starts its
// worker. Call Close to drain and stop it.
func NewNotifier(publisher Publisher, exchange, currency string, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := notifierOptions{queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Notifier{
		publisher: publisher,
		exchange:  exchange,
		currency:  currency,
		logger:    logger.With("component", "events"),
		queue:     make(chan DomainEvent, o.queueSize),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

// EventAppended enqueues rec for publishing without waiting on the broker.
func (n *Notifier) EventAppended(_ context.Context, rec ledger.Record, _ int) {
	ev, ok := NewDomainEvent(rec, n.currency)
	if !ok {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.drop(ev, rec, "notifier closed")
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.drop(ev, rec, "queue full")
	}
}

// Dropped returns how many events were discarded without publishing.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain or ctx
// to end, whichever comes first.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		n.publish(ev)
	}
}

// publish sends one event, bounded by its own timeout.
func (n *Notifier) publish(ev DomainEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.publisher.Publish(ctx, n.exchange, ev.EventType, ev); err != nil {
		n.logger.Warn("domain event publish failed",
			"event_id", ev.EventID, "event_type", ev.EventType,
			"account", ev.Data.ResidentID, "version", ev.Data.LedgerVersion, "err", err)
	}
}

func (n *Notifier) drop(ev DomainEvent, rec ledger.Record, reason string) {
	n.dropped.Add(1)
	n.logger.Warn("domain event dropped",
		"reason", reason, "event_id", ev.EventID, "event_type", ev.EventType,
		"account", rec.Account, "version", rec.Version)
}
