/*
errors.go - Centralized error types for the ledger

ERROR CATEGORIES:
  1. Concurrency - conditional write lost a race (internal), or the append
     retry budget ran out (caller-visible)
  2. Validation - malformed payloads, unknown types, bad accounts
  3. Store - anything else from the storage collaborator, propagated as-is

NOT AN ERROR:
  Rebuilding an account that has no records returns ZeroState(). Callers
  must not treat "no history" as a failure.

USAGE:
  if errors.Is(err, ledger.ErrConcurrencyExhausted) {
      // caller decides whether to re-invoke
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConditionFailed is the store's distinct signal that a put-if-absent
	// found the key already written. The appender converts it into a retry.
	ErrConditionFailed = errors.New("conditional write failed: key exists")

	// ErrConcurrencyExhausted is returned when every append attempt lost
	// its race for the next version slot.
	ErrConcurrencyExhausted = errors.New("ledger append failed after optimistic locking retries")

	// ErrInvalidAccount is returned for an empty account id.
	ErrInvalidAccount = errors.New("invalid account id")

	// ErrInvalidEvent is returned when a payload breaks the sign or type rules.
	ErrInvalidEvent = errors.New("invalid ledger event")

	// ErrVersionLimit is returned when an account has used every version
	// its sort key can encode.
	ErrVersionLimit = errors.New("ledger account reached its version limit")

	// ErrHistoryUnsupported is returned when the store cannot list history.
	ErrHistoryUnsupported = errors.New("store does not support history reads")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConcurrencyExhaustedError carries the account and attempt count.
type ConcurrencyExhaustedError struct {
	Account  AccountID
	Attempts int
}

func (e *ConcurrencyExhaustedError) Error() string {
	return fmt.Sprintf("%s: account %s, %d attempts", ErrConcurrencyExhausted, e.Account, e.Attempts)
}

func (e *ConcurrencyExhaustedError) Unwrap() error {
	return ErrConcurrencyExhausted
}

// InvalidEventError describes why a payload was rejected.
type InvalidEventError struct {
	EventType EventType
	Reason    string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid %s event: %s", e.EventType, e.Reason)
}

func (e *InvalidEventError) Unwrap() error {
	return ErrInvalidEvent
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether err is the store's conditional-write signal.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsRetryable returns true if re-invoking the whole operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyExhausted)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrInvalidAccount)
}
