/*
denomination.go - Pure arithmetic over denomination counts

PURPOSE:
  Computes the physical cash subtotal from (face value, count) pairs and
  gates count legality before submission. The UI may transiently hold
  invalid input while the cashier types; ValidateDenominations is the
  single check before a draft may be submitted.

SEE ALSO:
  - engine.go: Composes these into the submission validation
*/
package recon

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// DenominationTotal returns the sum of value x count over all entries.
// Pure; defined for empty input (returns zero).
func DenominationTotal(entries []DenominationEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Total())
	}
	return total
}

// ValidateDenominations returns nil iff every entry has a non-negative
// count and a positive face value. The first offending entry is reported.
func ValidateDenominations(entries []DenominationEntry) error {
	for _, e := range entries {
		if e.Count < 0 {
			return &ValidationError{
				Code:    InvalidDenominationCount,
				Message: fmt.Sprintf("denomination %s has negative count %d", e.Value, e.Count),
			}
		}
		if !e.Value.IsPositive() {
			return &ValidationError{
				Code:    InvalidDenominationCount,
				Message: fmt.Sprintf("denomination value %s must be positive", e.Value),
			}
		}
	}
	return nil
}

// BuildTemplate produces one zero-count entry per configured denomination,
// sorted by face value descending (highest first), used to initialize a
// new close form.
func BuildTemplate(cfg CashCounterConfig) []DenominationEntry {
	entries := make([]DenominationEntry, 0, len(cfg.Denominations))
	for _, v := range cfg.Denominations {
		entries = append(entries, DenominationEntry{Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Value.GreaterThan(entries[j].Value)
	})
	return entries
}
