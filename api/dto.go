/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY ON THE WIRE:
  All currency values travel as decimal strings ("5000.00"), never JSON
  numbers, so clients cannot lose precision on the way in or out.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// DenominationInput is one (face value, count) pair from the close form.
type DenominationInput struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// PaymentModeInput is one declared mode total from the close form.
type PaymentModeInput struct {
	Mode   string `json:"mode"`
	Amount string `json:"amount"`
}

// SubmitCloseRequest is the draft close a cashier submits.
type SubmitCloseRequest struct {
	CashierID         string              `json:"cashier_id"`
	ExpectedTotal     string              `json:"expected_total"`
	Denominations     []DenominationInput `json:"denominations"`
	PaymentModeTotals []PaymentModeInput  `json:"payment_mode_totals"`
	Notes             string              `json:"notes,omitempty"`
}

// RejectCloseRequest carries the accountant's rejection reason.
type RejectCloseRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DenominationDTO is one counted denomination in responses; Total is the
// derived value x count.
type DenominationDTO struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
	Total string `json:"total"`
}

// PaymentModeDTO is one declared mode total in responses.
type PaymentModeDTO struct {
	Mode   string `json:"mode"`
	Amount string `json:"amount"`
}

// CloseDTO represents a cashier close in API responses.
type CloseDTO struct {
	ID               string            `json:"id"`
	CashierID        string            `json:"cashier_id"`
	ClosingTimestamp string            `json:"closing_timestamp"`
	ExpectedTotal    string            `json:"expected_total"`
	CountedTotal     string            `json:"counted_total"`
	Variance         string            `json:"variance"`
	VarianceFlagged  bool              `json:"variance_flagged"`
	Status           string            `json:"status"`
	Denominations    []DenominationDTO `json:"denominations"`
	PaymentModes     []PaymentModeDTO  `json:"payment_mode_totals"`
	Notes            string            `json:"notes,omitempty"`
	JournalEntryID   string            `json:"journal_entry_id,omitempty"`
	RejectionReason  string            `json:"rejection_reason,omitempty"`
}

// HistoryResponse is one page of close history.
type HistoryResponse struct {
	Closes     []CloseDTO `json:"closes"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// TemplateResponse initializes a new close form.
type TemplateResponse struct {
	Currency          string            `json:"currency"`
	VarianceThreshold string            `json:"variance_threshold"`
	PaymentModes      []string          `json:"payment_modes"`
	Denominations     []DenominationDTO `json:"denominations"`
}

// AuditEventDTO represents one audit event in responses.
type AuditEventDTO struct {
	ID              string `json:"id"`
	Action          string `json:"action"`
	CloseID         string `json:"close_id"`
	CashierID       string `json:"cashier_id"`
	Seq             int    `json:"seq"`
	ExpectedTotal   string `json:"expected_total"`
	CountedTotal    string `json:"counted_total"`
	Variance        string `json:"variance"`
	JournalEntryID  string `json:"journal_entry_id,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	At              string `json:"at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCloseDTO(c *recon.CashierClose) CloseDTO {
	denoms := make([]DenominationDTO, len(c.Denominations))
	for i, d := range c.Denominations {
		denoms[i] = DenominationDTO{
			Value: d.Value.String(),
			Count: d.Count,
			Total: d.Total().String(),
		}
	}
	modes := make([]PaymentModeDTO, len(c.PaymentModeTotals))
	for i, m := range c.PaymentModeTotals {
		modes[i] = PaymentModeDTO{Mode: string(m.Mode), Amount: m.Amount.String()}
	}
	return CloseDTO{
		ID:               string(c.ID),
		CashierID:        string(c.CashierID),
		ClosingTimestamp: c.ClosingTimestamp.Format(time.RFC3339Nano),
		ExpectedTotal:    c.ExpectedTotal.String(),
		CountedTotal:     c.CountedTotal().String(),
		Variance:         c.Variance().String(),
		VarianceFlagged:  c.VarianceFlagged,
		Status:           string(c.Status),
		Denominations:    denoms,
		PaymentModes:     modes,
		Notes:            c.Notes,
		JournalEntryID:   c.JournalEntryID,
		RejectionReason:  c.RejectionReason,
	}
}

func toCloseDTOs(closes []*recon.CashierClose) []CloseDTO {
	dtos := make([]CloseDTO, len(closes))
	for i, c := range closes {
		dtos[i] = toCloseDTO(c)
	}
	return dtos
}

func toAuditEventDTO(e recon.AuditEvent) AuditEventDTO {
	return AuditEventDTO{
		ID:              e.ID,
		Action:          string(e.Action),
		CloseID:         string(e.CloseID),
		CashierID:       string(e.CashierID),
		Seq:             e.Seq,
		ExpectedTotal:   e.ExpectedTotal,
		CountedTotal:    e.CountedTotal,
		Variance:        e.Variance,
		JournalEntryID:  e.JournalEntryID,
		RejectionReason: e.RejectionReason,
		At:              e.At.Format(time.RFC3339Nano),
	}
}

// toDraft converts a submit request to a domain draft. Amount parsing
// failures surface as field-specific errors before domain validation.
func (r SubmitCloseRequest) toDraft() (*recon.CashierClose, error) {
	expected, err := decimal.NewFromString(r.ExpectedTotal)
	if err != nil {
		return nil, badField("expected_total", r.ExpectedTotal)
	}

	draft := &recon.CashierClose{
		CashierID:     recon.CashierID(r.CashierID),
		ExpectedTotal: expected,
		Notes:         r.Notes,
	}

	for _, d := range r.Denominations {
		value, err := decimal.NewFromString(d.Value)
		if err != nil {
			return nil, badField("denominations.value", d.Value)
		}
		draft.Denominations = append(draft.Denominations, recon.DenominationEntry{
			Value: value,
			Count: d.Count,
		})
	}

	for _, m := range r.PaymentModeTotals {
		amount, err := decimal.NewFromString(m.Amount)
		if err != nil {
			return nil, badField("payment_mode_totals.amount", m.Amount)
		}
		draft.PaymentModeTotals = append(draft.PaymentModeTotals, recon.PaymentModeTotal{
			Mode:   recon.PaymentMode(m.Mode),
			Amount: amount,
		})
	}

	return draft, nil
}
