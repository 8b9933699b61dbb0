/*
query.go - Read path over close records

PURPOSE:
  Lists the pending approval queue and filtered/paginated history. Reads
  are lock-free against the lifecycle writers; observing a record a moment
  before it flips to a terminal status is acceptable eventual consistency.

PAGINATION:
  History uses an opaque cursor encoding (closingTimestamp, id) of the
  last record seen. Ordering is newest first, ties broken by id, so pages
  are stable between polls even while new closes arrive.
*/
package recon

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// DefaultHistoryLimit caps History results when the caller passes 0.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the hard cap on a single History page.
const MaxHistoryLimit = 500

// CloseQueryService reads the records CloseLifecycle mutates.
type CloseQueryService struct {
	store CloseStore
}

func NewCloseQueryService(store CloseStore) *CloseQueryService {
	return &CloseQueryService{store: store}
}

// ListPending returns all Requested closes, closingTimestamp ascending.
// Stable order so paginated UIs don't reshuffle between polls.
func (q *CloseQueryService) ListPending(ctx context.Context) ([]*CashierClose, error) {
	return q.store.List(ctx, CloseFilter{
		Status:    StatusRequested,
		Ascending: true,
	})
}

// GetByID returns the close or ErrNotFound.
func (q *CloseQueryService) GetByID(ctx context.Context, id CloseID) (*CashierClose, error) {
	return q.store.GetByID(ctx, id)
}

// HistoryPage is one page of close history plus the cursor for the next.
type HistoryPage struct {
	Closes []*CashierClose
	// NextCursor is empty when this is the last page.
	NextCursor string
}

// History returns terminal and pending closes, newest closingTimestamp
// first, optionally filtered by cashier. limit 0 means DefaultHistoryLimit;
// cursor "" means the first page.
func (q *CloseQueryService) History(ctx context.Context, cashierID CashierID, limit int, cursor string) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	filter := CloseFilter{
		CashierID: cashierID,
		Limit:     limit + 1, // one extra to detect a next page
	}

	if cursor != "" {
		at, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		filter.Before = &at
		filter.BeforeID = id
	}

	closes, err := q.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{}
	if len(closes) > limit {
		closes = closes[:limit]
		last := closes[len(closes)-1]
		page.NextCursor = encodeCursor(last.ClosingTimestamp, last.ID)
	}
	page.Closes = closes
	return page, nil
}

// =============================================================================
// CURSOR ENCODING
// =============================================================================

func encodeCursor(at time.Time, id CloseID) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + string(id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, CloseID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return at, CloseID(parts[1]), nil
}
