// Package store provides in-memory CloseStore and AuditLog implementations
// for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// MEMORY CLOSE STORE
// =============================================================================

// Memory is a mutex-serialized CloseStore. The single lock gives the same
// guarantees the SQLite implementation gets from its unique index and
// conditional UPDATE: Create is atomic with the pending-per-cashier check
// and Resolve is a compare-and-swap on status.
type Memory struct {
	mu     sync.RWMutex
	closes map[recon.CloseID]*recon.CashierClose
}

func NewMemory() *Memory {
	return &Memory{closes: make(map[recon.CloseID]*recon.CashierClose)}
}

// Create persists a Requested close, enforcing at most one Requested close
// per cashier atomically under the store lock.
func (m *Memory) Create(_ context.Context, close *recon.CashierClose) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.closes {
		if existing.CashierID == close.CashierID && existing.Status == recon.StatusRequested {
			return recon.ErrAlreadyPending
		}
	}
	m.closes[close.ID] = close.Clone()
	return nil
}

func (m *Memory) GetByID(_ context.Context, id recon.CloseID) (*recon.CashierClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	close, ok := m.closes[id]
	if !ok {
		return nil, recon.ErrNotFound
	}
	return close.Clone(), nil
}

func (m *Memory) PendingByCashier(_ context.Context, cashierID recon.CashierID) (*recon.CashierClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, close := range m.closes {
		if close.CashierID == cashierID && close.Status == recon.StatusRequested {
			return close.Clone(), nil
		}
	}
	return nil, recon.ErrNotFound
}

// Resolve compare-and-swaps the status under the store lock, writing only
// the field the transition owns.
func (m *Memory) Resolve(_ context.Context, id recon.CloseID, from, to recon.CloseStatus, journalEntryID, rejectionReason string) (*recon.CashierClose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	close, ok := m.closes[id]
	if !ok {
		return nil, recon.ErrNotFound
	}
	if close.Status != from {
		return nil, recon.ErrStatusConflict
	}

	close.Status = to
	switch to {
	case recon.StatusVerified:
		close.JournalEntryID = journalEntryID
	case recon.StatusRejected:
		close.RejectionReason = rejectionReason
	}
	return close.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter recon.CloseFilter) ([]*recon.CashierClose, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*recon.CashierClose
	for _, close := range m.closes {
		if filter.Status != "" && close.Status != filter.Status {
			continue
		}
		if filter.CashierID != "" && close.CashierID != filter.CashierID {
			continue
		}
		if filter.Before != nil {
			if close.ClosingTimestamp.After(*filter.Before) {
				continue
			}
			if close.ClosingTimestamp.Equal(*filter.Before) && close.ID >= filter.BeforeID {
				continue
			}
		}
		result = append(result, close.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.ClosingTimestamp.Equal(b.ClosingTimestamp) {
			if filter.Ascending {
				return a.ClosingTimestamp.Before(b.ClosingTimestamp)
			}
			return a.ClosingTimestamp.After(b.ClosingTimestamp)
		}
		if filter.Ascending {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// MEMORY AUDIT LOG
// =============================================================================

// MemoryAuditLog stores emitted events in order. Append-only.
type MemoryAuditLog struct {
	mu     sync.RWMutex
	events []recon.AuditEvent
}

func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (a *MemoryAuditLog) Emit(_ context.Context, event recon.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *MemoryAuditLog) Query(_ context.Context, filter recon.AuditFilter) ([]recon.AuditEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []recon.AuditEvent
	for _, e := range a.events {
		if filter.CloseID != "" && e.CloseID != filter.CloseID {
			continue
		}
		if filter.CashierID != "" && e.CashierID != filter.CashierID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// Events returns a copy of everything emitted, in order. Test helper.
func (a *MemoryAuditLog) Events() []recon.AuditEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]recon.AuditEvent(nil), a.events...)
}

func containsAction(actions []recon.AuditAction, action recon.AuditAction) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
