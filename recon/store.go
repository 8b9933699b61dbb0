/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the contracts between the reconciliation core and its
  surroundings. The core owns no database and no wire format; it is
  handed a CloseStore, a LedgerPostingGateway and an AuditSink and
  enforces its invariants through them.

SINGLE-WRITER CONTRACT:
  Submit/Approve/Reject must be mutually exclusive per close (and, for
  Submit, per cashier). The store carries that burden:
  - Create() is atomic with the one-pending-per-cashier check
  - Resolve() is a conditional write on the current status (CAS)
  A naive read-modify-write implementation of either is a correctness
  bug, not an acceptable simplification.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: partial unique index + conditional UPDATE
  - recon/store/memory.go:  mutex-serialized in-memory map

SEE ALSO:
  - lifecycle.go: The only writer through these interfaces
  - query.go:     The read path over the same records
*/
package recon

import (
	"context"
	"time"
)

// =============================================================================
// CLOSE STORE
// =============================================================================

// CloseFilter narrows List results. Zero values mean "no constraint".
type CloseFilter struct {
	Status    CloseStatus
	CashierID CashierID

	// Before restricts to records with ClosingTimestamp strictly before
	// this instant (pagination cursor). Ties are broken by id.
	Before *time.Time
	// BeforeID disambiguates records sharing the cursor timestamp.
	BeforeID CloseID

	// Limit caps the result set; 0 means no cap.
	Limit int

	// Ascending orders by ClosingTimestamp ascending when true,
	// descending (newest first) otherwise.
	Ascending bool
}

// CloseStore persists cashier close records.
//
// Terminal records are never deleted by this core; retention policies live
// outside it.
type CloseStore interface {
	// Create persists a new Requested close. Returns ErrAlreadyPending if
	// the cashier already has a Requested close; the check is atomic with
	// the insert.
	Create(ctx context.Context, close *CashierClose) error

	// GetByID returns the close or ErrNotFound.
	GetByID(ctx context.Context, id CloseID) (*CashierClose, error)

	// PendingByCashier returns the cashier's Requested close, or
	// ErrNotFound if none is outstanding.
	PendingByCashier(ctx context.Context, cashierID CashierID) (*CashierClose, error)

	// Resolve conditionally transitions a close from one status to a
	// terminal one, writing exactly the field that transition owns
	// (journalEntryID for Verified, rejectionReason for Rejected).
	// Returns ErrNotFound if the id is unknown and ErrStatusConflict if
	// the record is no longer in the expected from status.
	Resolve(ctx context.Context, id CloseID, from, to CloseStatus, journalEntryID, rejectionReason string) (*CashierClose, error)

	// List returns closes matching the filter, ordered by
	// ClosingTimestamp (direction per filter), ties broken by id.
	List(ctx context.Context, filter CloseFilter) ([]*CashierClose, error)
}

// =============================================================================
// LEDGER POSTING GATEWAY - external collaborator, consumed not implemented
// =============================================================================

// LedgerPostingGateway posts an accounting journal entry for a verified
// close. Post must be idempotent per close id: a retried Approve after a
// crash between posting and persisting Verified must not double-post.
type LedgerPostingGateway interface {
	Post(ctx context.Context, close *CashierClose) (journalEntryID string, err error)
}

// =============================================================================
// AUDIT - append-only event stream, best-effort delivery
// =============================================================================

type AuditAction string

const (
	AuditCloseSubmitted AuditAction = "close_submitted"
	AuditCloseVerified  AuditAction = "close_verified"
	AuditCloseRejected  AuditAction = "close_rejected"
)

// AuditEvent records one lifecycle transition. Seq is a per-close sequence
// number so downstream consumers can detect reordering.
type AuditEvent struct {
	ID        string
	Action    AuditAction
	CloseID   CloseID
	CashierID CashierID
	Seq       int

	ExpectedTotal string
	CountedTotal  string
	Variance      string

	// JournalEntryID is set for close_verified events.
	JournalEntryID string
	// RejectionReason is set for close_rejected events.
	RejectionReason string

	At time.Time
}

// AuditSink accepts audit events for delivery. At-least-once semantics:
// the sink may see an event more than once after retries. Emit returning
// nil means "accepted for delivery", not durably stored downstream.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent) error
}

// AuditFilter narrows AuditLog queries. Nil/empty fields mean no constraint.
type AuditFilter struct {
	CloseID   CloseID
	CashierID CashierID
	Actions   []AuditAction
	Limit     int
}

// AuditLog is an AuditSink that also supports querying what it stored.
// Append-only.
type AuditLog interface {
	AuditSink
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// =============================================================================
// CONFIG PROVIDER - read-only settings collaborator
// =============================================================================

// ConfigProvider returns the cash counter settings for a store/tenant.
// Assumed to change rarely; implementations may cache freely.
type ConfigProvider interface {
	CounterConfig(ctx context.Context) (CashCounterConfig, error)
}
