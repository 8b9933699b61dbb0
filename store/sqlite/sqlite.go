/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements recon.CloseStore and recon.AuditLog using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

SINGLE-WRITER ENFORCEMENT:
  The invariants the lifecycle depends on live in the database, not in
  application reads:
  - idx_one_pending_per_cashier: a partial unique index makes the insert
    of a second Requested close for the same cashier fail, atomically
    with the insert itself
  - Resolve(): a conditional UPDATE ... WHERE status = ? is the
    compare-and-swap; zero rows affected means the caller lost the race

KEY TABLES:
  closes:       One row per cashier close, retained indefinitely
  audit_events: Append-only record of every lifecycle transition

TIMESTAMPS:
  closing_timestamp is stored as unix nanoseconds so cursor comparisons
  are plain integer comparisons; RFC3339 text ordering is not reliable
  across fractional-second widths.

WAL MODE:
  SQLite is opened with WAL so readers don't block the single writer and
  the pending/history queries stay lock-free against transitions.

USAGE:
  store, err := sqlite.New("./data/till.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - recon/store.go:        Interface definitions
  - recon/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/till-engine/recon"
)

// Store implements recon.CloseStore and recon.AuditLog using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between the lifecycle writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Cashier closes (terminal rows are never mutated again)
	CREATE TABLE IF NOT EXISTS closes (
		id TEXT PRIMARY KEY,
		cashier_id TEXT NOT NULL,
		closing_timestamp INTEGER NOT NULL,
		expected_total TEXT NOT NULL,
		denominations_json TEXT NOT NULL,
		payment_modes_json TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		journal_entry_id TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		variance_flagged BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one Requested close per cashier. The insert and
	-- the check are one atomic operation.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_pending_per_cashier
		ON closes(cashier_id) WHERE status = 'requested';

	CREATE INDEX IF NOT EXISTS idx_closes_status
		ON closes(status, closing_timestamp);
	CREATE INDEX IF NOT EXISTS idx_closes_cashier
		ON closes(cashier_id, closing_timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_closes_timestamp
		ON closes(closing_timestamp DESC, id DESC);

	-- Audit events (append-only)
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		close_id TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		expected_total TEXT NOT NULL,
		counted_total TEXT NOT NULL,
		variance TEXT NOT NULL,
		journal_entry_id TEXT NOT NULL DEFAULT '',
		rejection_reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_close
		ON audit_events(close_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_cashier
		ON audit_events(cashier_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CLOSE STORE (recon.CloseStore interface)
// =============================================================================

// Create inserts a Requested close. The partial unique index turns a
// second pending close for the same cashier into ErrAlreadyPending.
func (s *Store) Create(ctx context.Context, close *recon.CashierClose) error {
	denomsJSON, err := json.Marshal(close.Denominations)
	if err != nil {
		return fmt.Errorf("failed to encode denominations: %w", err)
	}
	modesJSON, err := json.Marshal(close.PaymentModeTotals)
	if err != nil {
		return fmt.Errorf("failed to encode payment modes: %w", err)
	}

	query := `
		INSERT INTO closes
		(id, cashier_id, closing_timestamp, expected_total, denominations_json,
		 payment_modes_json, notes, status, journal_entry_id, rejection_reason,
		 variance_flagged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		close.ID,
		close.CashierID,
		close.ClosingTimestamp.UnixNano(),
		close.ExpectedTotal.String(),
		string(denomsJSON),
		string(modesJSON),
		close.Notes,
		close.Status,
		close.VarianceFlagged,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return recon.ErrAlreadyPending
		}
		return fmt.Errorf("failed to insert close: %w", err)
	}
	return nil
}

// GetByID returns the close or recon.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id recon.CloseID) (*recon.CashierClose, error) {
	closes, err := s.queryCloses(ctx, selectCloses+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(closes) == 0 {
		return nil, recon.ErrNotFound
	}
	return closes[0], nil
}

// PendingByCashier returns the cashier's Requested close, if any.
func (s *Store) PendingByCashier(ctx context.Context, cashierID recon.CashierID) (*recon.CashierClose, error) {
	closes, err := s.queryCloses(ctx,
		selectCloses+" WHERE cashier_id = ? AND status = ?", cashierID, recon.StatusRequested)
	if err != nil {
		return nil, err
	}
	if len(closes) == 0 {
		return nil, recon.ErrNotFound
	}
	return closes[0], nil
}

// Resolve is the status compare-and-swap. The UPDATE writes only the
// field the target transition owns; zero affected rows means either the
// id is unknown (ErrNotFound) or the guard failed (ErrStatusConflict).
func (s *Store) Resolve(ctx context.Context, id recon.CloseID, from, to recon.CloseStatus, journalEntryID, rejectionReason string) (*recon.CashierClose, error) {
	var res sql.Result
	var err error
	switch to {
	case recon.StatusVerified:
		res, err = s.db.ExecContext(ctx,
			`UPDATE closes SET status = ?, journal_entry_id = ? WHERE id = ? AND status = ?`,
			to, journalEntryID, id, from)
	case recon.StatusRejected:
		res, err = s.db.ExecContext(ctx,
			`UPDATE closes SET status = ?, rejection_reason = ? WHERE id = ? AND status = ?`,
			to, rejectionReason, id, from)
	default:
		return nil, fmt.Errorf("cannot resolve close to status %q", to)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve close: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve close: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, recon.ErrStatusConflict
	}

	return s.GetByID(ctx, id)
}

// List returns closes matching the filter, ordered by closing timestamp
// with id as the tie-break.
func (s *Store) List(ctx context.Context, filter recon.CloseFilter) ([]*recon.CashierClose, error) {
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CashierID != "" {
		conds = append(conds, "cashier_id = ?")
		args = append(args, filter.CashierID)
	}
	if filter.Before != nil {
		conds = append(conds, "(closing_timestamp < ? OR (closing_timestamp = ? AND id < ?))")
		nanos := filter.Before.UnixNano()
		args = append(args, nanos, nanos, filter.BeforeID)
	}

	query := selectCloses
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY closing_timestamp ASC, id ASC"
	} else {
		query += " ORDER BY closing_timestamp DESC, id DESC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryCloses(ctx, query, args...)
}

const selectCloses = `
	SELECT id, cashier_id, closing_timestamp, expected_total, denominations_json,
	       payment_modes_json, notes, status, journal_entry_id, rejection_reason,
	       variance_flagged
	FROM closes`

func (s *Store) queryCloses(ctx context.Context, query string, args ...any) ([]*recon.CashierClose, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query closes: %w", err)
	}
	defer rows.Close()

	var result []*recon.CashierClose
	for rows.Next() {
		c, err := scanClose(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanClose(rows *sql.Rows) (*recon.CashierClose, error) {
	var (
		c          recon.CashierClose
		nanos      int64
		expected   string
		denomsJSON string
		modesJSON  string
	)
	if err := rows.Scan(
		&c.ID,
		&c.CashierID,
		&nanos,
		&expected,
		&denomsJSON,
		&modesJSON,
		&c.Notes,
		&c.Status,
		&c.JournalEntryID,
		&c.RejectionReason,
		&c.VarianceFlagged,
	); err != nil {
		return nil, fmt.Errorf("failed to scan close: %w", err)
	}

	c.ClosingTimestamp = time.Unix(0, nanos).UTC()

	var err error
	c.ExpectedTotal, err = decimal.NewFromString(expected)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expected total: %w", err)
	}
	if err := json.Unmarshal([]byte(denomsJSON), &c.Denominations); err != nil {
		return nil, fmt.Errorf("failed to decode denominations: %w", err)
	}
	if err := json.Unmarshal([]byte(modesJSON), &c.PaymentModeTotals); err != nil {
		return nil, fmt.Errorf("failed to decode payment modes: %w", err)
	}
	return &c, nil
}

// =============================================================================
// AUDIT LOG (recon.AuditLog interface)
// =============================================================================

// Emit appends an audit event. Re-delivery of the same event id is a
// no-op so the retrying queue stays idempotent against this log.
func (s *Store) Emit(ctx context.Context, event recon.AuditEvent) error {
	query := `
		INSERT OR IGNORE INTO audit_events
		(id, action, close_id, cashier_id, seq, expected_total, counted_total,
		 variance, journal_entry_id, rejection_reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Action,
		event.CloseID,
		event.CashierID,
		event.Seq,
		event.ExpectedTotal,
		event.CountedTotal,
		event.Variance,
		event.JournalEntryID,
		event.RejectionReason,
		event.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Query returns audit events matching the filter, oldest first.
func (s *Store) Query(ctx context.Context, filter recon.AuditFilter) ([]recon.AuditEvent, error) {
	var conds []string
	var args []any

	if filter.CloseID != "" {
		conds = append(conds, "close_id = ?")
		args = append(args, filter.CloseID)
	}
	if filter.CashierID != "" {
		conds = append(conds, "cashier_id = ?")
		args = append(args, filter.CashierID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, a)
		}
		conds = append(conds, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, action, close_id, cashier_id, seq, expected_total,
		       counted_total, variance, journal_entry_id, rejection_reason, at
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY at ASC, seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var result []recon.AuditEvent
	for rows.Next() {
		var e recon.AuditEvent
		var at string
		if err := rows.Scan(
			&e.ID, &e.Action, &e.CloseID, &e.CashierID, &e.Seq,
			&e.ExpectedTotal, &e.CountedTotal, &e.Variance,
			&e.JournalEntryID, &e.RejectionReason, &at,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		var parseErr error
		e.At, parseErr = time.Parse(time.RFC3339Nano, at)
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse audit timestamp: %w", parseErr)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
