/*
engine.go - Reconciliation arithmetic and submission validation

PURPOSE:
  Turns raw denomination/payment-mode input into a trustworthy draft:
  computes variance and enforces the internal-consistency invariants
  before a close may be persisted.

VALIDATION RULES (in order, first violation wins):
  1. Every denomination count is a non-negative integer
  2. Every declared payment mode is configured and non-negative
  3. Sum of mode totals equals the expected till amount within tolerance
  4. The cash-mode total equals the counted denomination subtotal within
     the same tolerance

TOLERANCE:
  One minor currency unit (0.01 for two-decimal currencies). Totals
  accumulate from per-entry arithmetic, so currency equality is always
  "within one minor unit", never exact comparison.

VARIANCE:
  counted - expected. A variance beyond the configured threshold is
  advisory: it is surfaced to the approver but never blocks submission
  or approval by itself.
*/
package recon

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Variance returns counted minus expected.
// Positive = cash over; negative = cash short.
func Variance(expected, counted decimal.Decimal) decimal.Decimal {
	return counted.Sub(expected)
}

// PaymentModeSum returns the sum of all declared mode amounts.
func PaymentModeSum(totals []PaymentModeTotal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t.Amount)
	}
	return sum
}

// VarianceExceedsThreshold reports whether |variance| > threshold.
// Advisory only; see the package notes above.
func VarianceExceedsThreshold(variance, threshold decimal.Decimal) bool {
	return variance.Abs().GreaterThan(threshold)
}

// withinTolerance reports |a-b| <= tol.
func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// ValidateForSubmission checks a draft close against the submission
// invariants and returns the first violation as a *ValidationError.
// A nil return means the draft may be persisted.
func ValidateForSubmission(draft *CashierClose, cfg CashCounterConfig) error {
	if err := ValidateDenominations(draft.Denominations); err != nil {
		return err
	}

	for _, t := range draft.PaymentModeTotals {
		if _, ok := cfg.AccountMappings[t.Mode]; !ok {
			return &ValidationError{
				Code:    UnknownPaymentMode,
				Message: fmt.Sprintf("payment mode %q has no ledger account mapping", t.Mode),
			}
		}
		if t.Amount.IsNegative() {
			return &ValidationError{
				Code:    NegativeModeAmount,
				Message: fmt.Sprintf("payment mode %q has negative amount %s", t.Mode, t.Amount),
			}
		}
	}

	tol := cfg.Tolerance()

	modeSum := PaymentModeSum(draft.PaymentModeTotals)
	if !withinTolerance(modeSum, draft.ExpectedTotal, tol) {
		return &ValidationError{
			Code: PaymentModeTotalMismatch,
			Message: fmt.Sprintf("payment mode totals %s do not equal expected amount %s",
				modeSum, draft.ExpectedTotal),
		}
	}

	counted := draft.CountedTotal()
	cashAmount, _ := draft.ModeAmount(ModeCash)
	if !withinTolerance(cashAmount, counted, tol) {
		return &ValidationError{
			Code: CashModeMismatch,
			Message: fmt.Sprintf("declared cash amount %s does not equal counted total %s",
				cashAmount, counted),
		}
	}

	return nil
}
