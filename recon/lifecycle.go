/*
lifecycle.go - Close status state machine

PURPOSE:
  Owns the status of a cashier close across Requested -> Verified/Rejected.
  This is the only writer of close records; the UI is a thin caller, never
  the source of truth for invariants.

STATE MACHINE:

  Submit            Approve
  ───────▶ Requested ───────▶ Verified  (journalEntryID set, terminal)
                 │
                 │  Reject
                 └─────────▶ Rejected   (rejectionReason set, terminal)

ATOMICITY OF APPROVAL:
  The ledger posting call and the status transition are one logical unit.
  Posting failure leaves the record Requested; the error is retryable.
  If posting succeeds but the conditional persist fails for any reason
  other than losing the status race, that is a fatal inconsistency logged
  for manual reconciliation. The gateway is idempotent per close id, so a
  retried Approve after a crash does not double-post.

RACES:
  Concurrent Approve/Reject on the same Requested record: both may pass
  the status guard, but the store's conditional write lets exactly one
  win. The loser re-reads and reports AlreadyResolved with the winning
  status.

AUDIT:
  Every transition enqueues one event. Emission is best-effort and never
  affects the caller's result; per-close ordering is carried by a
  sequence number (1 = submitted, 2 = terminal transition).
*/
package recon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metrics receives lifecycle counters. The observability package provides
// the Prometheus implementation; NopMetrics is used when none is wired.
type Metrics interface {
	CloseSubmitted(varianceFlagged bool)
	CloseResolved(status CloseStatus)
	PostingFailed()
	AuditRetried()
	AuditDropped()
}

// NopMetrics discards all counters.
type NopMetrics struct{}

func (NopMetrics) CloseSubmitted(bool)       {}
func (NopMetrics) CloseResolved(CloseStatus) {}
func (NopMetrics) PostingFailed()            {}
func (NopMetrics) AuditRetried()             {}
func (NopMetrics) AuditDropped()             {}

// CloseLifecycle drives close records through their status transitions.
type CloseLifecycle struct {
	store   CloseStore
	gateway LedgerPostingGateway
	audit   AuditSink
	logger  *zap.Logger
	metrics Metrics

	// now and newID are swappable for tests.
	now   func() time.Time
	newID func() CloseID
}

// NewCloseLifecycle wires a lifecycle with the given collaborators.
// logger and metrics may be nil.
func NewCloseLifecycle(store CloseStore, gateway LedgerPostingGateway, audit AuditSink, logger *zap.Logger) *CloseLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloseLifecycle{
		store:   store,
		gateway: gateway,
		audit:   audit,
		logger:  logger,
		metrics: NopMetrics{},
		now:     time.Now,
		newID:   func() CloseID { return CloseID(uuid.NewString()) },
	}
}

// WithMetrics attaches a metrics implementation.
func (l *CloseLifecycle) WithMetrics(m Metrics) *CloseLifecycle {
	if m != nil {
		l.metrics = m
	}
	return l
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates a draft close and persists it as Requested.
//
// On validation failure the typed error is returned untouched and nothing
// is persisted. ErrAlreadyPending is returned if the cashier already has a
// Requested close; the check is atomic with the insert, so two concurrent
// submissions for the same cashier cannot both succeed.
func (l *CloseLifecycle) Submit(ctx context.Context, draft *CashierClose, cfg CashCounterConfig) (*CashierClose, error) {
	if err := ValidateForSubmission(draft, cfg); err != nil {
		return nil, err
	}

	close := draft.Clone()
	close.ID = l.newID()
	close.ClosingTimestamp = l.now().UTC()
	close.Status = StatusRequested
	close.JournalEntryID = ""
	close.RejectionReason = ""
	close.VarianceFlagged = VarianceExceedsThreshold(close.Variance(), cfg.VarianceThreshold)

	if err := l.store.Create(ctx, close); err != nil {
		return nil, err
	}

	l.metrics.CloseSubmitted(close.VarianceFlagged)
	l.logger.Info("close submitted",
		zap.String("close_id", string(close.ID)),
		zap.String("cashier_id", string(close.CashierID)),
		zap.String("expected_total", close.ExpectedTotal.String()),
		zap.String("counted_total", close.CountedTotal().String()),
		zap.String("variance", close.Variance().String()),
		zap.Bool("variance_flagged", close.VarianceFlagged),
	)

	l.emit(close, AuditCloseSubmitted, 1)
	return close, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve posts the close to the accounting ledger and transitions it to
// Verified. The posting call and the transition are one logical unit; see
// the file notes on atomicity.
//
// The caller's ctx is honored up to the moment the posting call is issued.
// Once the gateway returns success, the transition is persisted even if
// ctx has since been cancelled; a cancelled persist would strand a posted
// journal entry with a Requested close.
func (l *CloseLifecycle) Approve(ctx context.Context, id CloseID) (*CashierClose, error) {
	close, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if close.Status != StatusRequested {
		return nil, &AlreadyResolvedError{CloseID: id, Status: close.Status}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	journalEntryID, err := l.gateway.Post(ctx, close)
	if err != nil {
		l.metrics.PostingFailed()
		l.logger.Warn("ledger posting failed, close stays requested",
			zap.String("close_id", string(id)),
			zap.Error(err),
		)
		return nil, &PostingError{CloseID: id, Cause: err}
	}

	// The journal entry now exists; the persist must not be abandoned on
	// caller cancellation.
	resolved, err := l.store.Resolve(context.WithoutCancel(ctx), id, StatusRequested, StatusVerified, journalEntryID, "")
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, l.lostRace(ctx, id)
		}
		// Posted but not persisted: manual reconciliation territory.
		// Re-issuing Approve is safe (gateway idempotent per close id).
		l.logger.Error("FATAL INCONSISTENCY: journal entry posted but close not persisted as verified",
			zap.String("close_id", string(id)),
			zap.String("journal_entry_id", journalEntryID),
			zap.Error(err),
		)
		return nil, err
	}

	l.metrics.CloseResolved(StatusVerified)
	l.logger.Info("close verified",
		zap.String("close_id", string(id)),
		zap.String("journal_entry_id", journalEntryID),
		zap.String("variance", resolved.Variance().String()),
	)

	l.emit(resolved, AuditCloseVerified, 2)
	return resolved, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject transitions a Requested close to Rejected with the given reason.
// No ledger posting occurs. An empty reason is ErrInvalidReason.
func (l *CloseLifecycle) Reject(ctx context.Context, id CloseID, reason string) (*CashierClose, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrInvalidReason
	}

	close, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if close.Status != StatusRequested {
		return nil, &AlreadyResolvedError{CloseID: id, Status: close.Status}
	}

	resolved, err := l.store.Resolve(ctx, id, StatusRequested, StatusRejected, "", reason)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, l.lostRace(ctx, id)
		}
		return nil, err
	}

	l.metrics.CloseResolved(StatusRejected)
	l.logger.Info("close rejected",
		zap.String("close_id", string(id)),
		zap.String("reason", reason),
	)

	l.emit(resolved, AuditCloseRejected, 2)
	return resolved, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// lostRace re-reads a close after losing the status CAS to report which
// terminal status won.
func (l *CloseLifecycle) lostRace(ctx context.Context, id CloseID) error {
	current, err := l.store.GetByID(ctx, id)
	if err != nil {
		return &AlreadyResolvedError{CloseID: id, Status: ""}
	}
	return &AlreadyResolvedError{CloseID: id, Status: current.Status}
}

// emit enqueues an audit event. Failures are logged, never propagated:
// audit is best-effort, not transactional with the write.
func (l *CloseLifecycle) emit(close *CashierClose, action AuditAction, seq int) {
	if l.audit == nil {
		return
	}
	event := AuditEvent{
		ID:              uuid.NewString(),
		Action:          action,
		CloseID:         close.ID,
		CashierID:       close.CashierID,
		Seq:             seq,
		ExpectedTotal:   close.ExpectedTotal.String(),
		CountedTotal:    close.CountedTotal().String(),
		Variance:        close.Variance().String(),
		JournalEntryID:  close.JournalEntryID,
		RejectionReason: close.RejectionReason,
		At:              l.now().UTC(),
	}
	if err := l.audit.Emit(context.Background(), event); err != nil {
		l.logger.Warn("audit emission failed",
			zap.String("close_id", string(close.ID)),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}
