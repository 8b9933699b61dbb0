/*
Package recon implements the cashier close reconciliation engine.

PURPOSE:
  This package contains the domain types and algorithms for closing out a
  retail cashier shift: counting physical cash by denomination, reconciling
  it against the expected till amount and the per-payment-mode declared
  totals, and driving an approved close through an accountant review
  workflow that ends in an accounting ledger posting.

KEY CONCEPTS IN THIS FILE (types.go):
  - DenominationEntry: One banknote/coin face value with a physical count
  - PaymentModeTotal:  Declared takings for one payment channel
  - CashCounterConfig: Store-level reconciliation settings (read-only input)
  - CashierClose:      The central close record with its lifecycle status

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, never float64
  2. Tolerance: Currency totals are compared within one minor unit, never
     for exact equality (per-entry arithmetic accumulates)
  3. Derivation: countedTotal and variance are always computed, never set
  4. Immutability: A close that leaves Requested is only ever touched by
     the single field its terminal transition writes

USAGE:
  entries := recon.BuildTemplate(cfg)
  counted := recon.DenominationTotal(entries)
  v := recon.Variance(expected, counted)

SEE ALSO:
  - denomination.go: Denomination arithmetic and validation
  - engine.go:       Reconciliation validation rules
  - lifecycle.go:    The Requested -> Verified/Rejected state machine
*/
package recon

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CloseID string
type CashierID string

// =============================================================================
// PAYMENT MODES
// =============================================================================

// PaymentMode is a channel through which money was received during a shift.
// The set is closed per deployment but extensible via CashCounterConfig:
// any mode present in AccountMappings is accepted.
type PaymentMode string

const (
	ModeCash  PaymentMode = "cash"
	ModeCard  PaymentMode = "card"
	ModeUPI   PaymentMode = "upi"
	ModeOther PaymentMode = "other"
)

// PaymentModeTotal is the declared takings for one payment mode.
type PaymentModeTotal struct {
	Mode   PaymentMode
	Amount decimal.Decimal
}

// =============================================================================
// DENOMINATIONS
// =============================================================================

// DenominationEntry is one banknote/coin face value and how many of it were
// physically counted. Total is always derived via Total(), never stored.
type DenominationEntry struct {
	Value decimal.Decimal
	Count int64
}

// Total returns Value x Count for this entry.
func (e DenominationEntry) Total() decimal.Decimal {
	return e.Value.Mul(decimal.NewFromInt(e.Count))
}

// =============================================================================
// CONFIGURATION - read-only input for one reconciliation
// =============================================================================

// CashCounterConfig carries the store-level reconciliation settings. The
// engine treats it as immutable for the duration of one close attempt.
type CashCounterConfig struct {
	// Currency is the ISO code, e.g. "INR".
	Currency string

	// MinorUnit is the number of decimal places of the currency's smallest
	// unit (2 for INR/EUR/USD). Drives the equality tolerance.
	MinorUnit int32

	// Denominations are the allowed banknote/coin face values.
	Denominations []decimal.Decimal

	// AccountMappings maps each accepted payment mode to the ledger account
	// the approved close posts against. A mode absent from this map is not
	// accepted on submission.
	AccountMappings map[PaymentMode]string

	// VarianceThreshold is the advisory over/short limit. Exceeding it
	// flags the close for the approver but never blocks it.
	VarianceThreshold decimal.Decimal
}

// Tolerance returns one minor currency unit (0.01 for MinorUnit=2).
// Currency totals are equal iff their difference is within this amount.
func (c CashCounterConfig) Tolerance() decimal.Decimal {
	return decimal.New(1, -c.MinorUnit)
}

// =============================================================================
// CASHIER CLOSE - the central entity
// =============================================================================

type CloseStatus string

const (
	StatusRequested CloseStatus = "requested"
	StatusVerified  CloseStatus = "verified"
	StatusRejected  CloseStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s CloseStatus) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// CashierClose is one cashier's end-of-shift reconciliation record.
//
// A draft is assembled in memory by the caller (ID empty, no status) and
// becomes a persisted Requested record only through CloseLifecycle.Submit.
// It transitions exactly once to Verified or Rejected and is then retained
// indefinitely for history and audit.
type CashierClose struct {
	ID               CloseID
	CashierID        CashierID
	ClosingTimestamp time.Time

	// ExpectedTotal is the till amount expected before counting, supplied
	// by the till-tracking collaborator.
	ExpectedTotal decimal.Decimal

	Denominations     []DenominationEntry
	PaymentModeTotals []PaymentModeTotal
	Notes             string

	Status CloseStatus

	// JournalEntryID is set only when Status is Verified.
	JournalEntryID string

	// RejectionReason is set only when Status is Rejected.
	RejectionReason string

	// VarianceFlagged records that |variance| exceeded the configured
	// threshold at submission. Advisory for the approver.
	VarianceFlagged bool
}

// CountedTotal is the derived sum of all denomination totals.
func (c *CashierClose) CountedTotal() decimal.Decimal {
	return DenominationTotal(c.Denominations)
}

// Variance is the derived counted-minus-expected amount. Positive means
// cash over, negative means cash short.
func (c *CashierClose) Variance() decimal.Decimal {
	return Variance(c.ExpectedTotal, c.CountedTotal())
}

// ModeAmount returns the declared amount for a payment mode and whether the
// mode was declared at all.
func (c *CashierClose) ModeAmount(mode PaymentMode) (decimal.Decimal, bool) {
	for _, t := range c.PaymentModeTotals {
		if t.Mode == mode {
			return t.Amount, true
		}
	}
	return decimal.Zero, false
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state in place.
func (c *CashierClose) Clone() *CashierClose {
	cp := *c
	cp.Denominations = append([]DenominationEntry(nil), c.Denominations...)
	cp.PaymentModeTotals = append([]PaymentModeTotal(nil), c.PaymentModeTotals...)
	return &cp
}
