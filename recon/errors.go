/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these onto status codes without string matching.

ERROR CATEGORIES:
  1. Validation errors - submission rejected, nothing persisted
  2. Conflict errors   - state moved under the caller, re-fetch and retry
  3. Posting errors    - the ledger gateway failed, safe to retry Approve

USAGE:
  if errors.Is(err, recon.ErrAlreadyResolved) {
      var resolved *recon.AlreadyResolvedError
      errors.As(err, &resolved) // resolved.Status is the winning status
  }

SEE ALSO:
  - engine.go:    Raises ValidationError
  - lifecycle.go: Raises conflict and posting errors
*/
package recon

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when no close exists for the given id.
	ErrNotFound = errors.New("close not found")

	// ErrAlreadyPending is returned by Submit when the cashier already has
	// a Requested close outstanding.
	ErrAlreadyPending = errors.New("close already pending for cashier")

	// ErrAlreadyResolved is returned by Approve/Reject on a terminal close.
	// Callers must treat this as a conflict, not a silent success.
	ErrAlreadyResolved = errors.New("close already resolved")

	// ErrInvalidReason is returned by Reject when the reason is empty.
	ErrInvalidReason = errors.New("rejection reason must not be empty")

	// ErrPostingFailed is returned by Approve when the ledger gateway
	// fails. The close stays Requested; re-issuing Approve is safe.
	ErrPostingFailed = errors.New("ledger posting failed")

	// ErrStatusConflict is returned by stores when a conditional status
	// write finds the record no longer in the expected state.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// =============================================================================
// VALIDATION ERRORS - invariant violations, one code per rule
// =============================================================================

type ValidationCode string

const (
	// InvalidDenominationCount: a denomination count is negative or the
	// denomination value is not positive.
	InvalidDenominationCount ValidationCode = "invalid_denomination_count"

	// PaymentModeTotalMismatch: the sum of declared mode totals does not
	// equal the expected till amount within tolerance.
	PaymentModeTotalMismatch ValidationCode = "payment_mode_total_mismatch"

	// CashModeMismatch: the declared cash-mode amount does not equal the
	// physically counted total within tolerance.
	CashModeMismatch ValidationCode = "cash_mode_mismatch"

	// UnknownPaymentMode: a declared mode has no ledger account mapping.
	UnknownPaymentMode ValidationCode = "unknown_payment_mode"

	// NegativeModeAmount: a declared mode amount is negative.
	NegativeModeAmount ValidationCode = "negative_mode_amount"
)

// ValidationError describes the first invariant a draft close violates.
// The message is precise enough to show to the cashier verbatim.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// =============================================================================
// STRUCTURED ERRORS - carry additional context
// =============================================================================

// AlreadyResolvedError reports which terminal status won.
type AlreadyResolvedError struct {
	CloseID CloseID
	Status  CloseStatus
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("close %s already resolved as %s", e.CloseID, e.Status)
}

func (e *AlreadyResolvedError) Unwrap() error { return ErrAlreadyResolved }

// PostingError wraps a ledger gateway failure. Retryable by design: the
// gateway is idempotent per close id.
type PostingError struct {
	CloseID CloseID
	Cause   error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("posting close %s: %v", e.CloseID, e.Cause)
}

func (e *PostingError) Unwrap() error { return ErrPostingFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a conflict the client must resolve by re-fetching state.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrAlreadyPending) ||
		errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrInvalidReason)
}

// IsRetryable returns true if re-issuing the same call might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPostingFailed)
}

// IsNotFound returns true if the error indicates a missing close.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
