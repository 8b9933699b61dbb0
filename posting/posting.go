/*
Package posting provides ledger posting gateway adapters.

PURPOSE:
  The reconciliation core consumes a LedgerPostingGateway; it never owns
  one. This package supplies the two pieces the host service wires around
  a real accounting backend:

  - Breaker:       a circuit-breaker decorator so a struggling ledger
                   backend fails fast instead of tying up approvers
  - MemoryJournal: an in-memory, idempotent journal for dev and tests

IDEMPOTENCY:
  The gateway contract requires Post to be safe to retry with the same
  close id: a crash between posting and persisting Verified must not
  double-post. MemoryJournal keys entries by close id; a real adapter
  must pass the close id as its dedup key.
*/
package posting

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/warp/till-engine/recon"
)

// =============================================================================
// CIRCUIT BREAKER DECORATOR
// =============================================================================

// Breaker wraps a LedgerPostingGateway with a circuit breaker. An open
// circuit surfaces as a plain error from Post; the lifecycle wraps it in
// a retryable PostingError like any other gateway failure.
type Breaker struct {
	next recon.LedgerPostingGateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps the gateway with default breaker settings: trip after
// a 60% failure ratio over at least 5 calls, probe again after 10s.
func NewBreaker(next recon.LedgerPostingGateway) *Breaker {
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ledger-posting",
			MaxRequests: 3,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.6
			},
		}),
	}
}

func (b *Breaker) Post(ctx context.Context, close *recon.CashierClose) (string, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return b.next.Post(ctx, close)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// =============================================================================
// MEMORY JOURNAL - dev/test gateway
// =============================================================================

// MemoryJournal assigns deterministic journal entry ids and remembers
// them per close id, so a retried Post returns the original entry
// instead of creating a second one.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[recon.CloseID]string
	next    int

	// Fail, when set, makes every Post return this error. Test hook for
	// exercising posting-failure paths.
	Fail error
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[recon.CloseID]string)}
}

func (j *MemoryJournal) Post(_ context.Context, close *recon.CashierClose) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Fail != nil {
		return "", j.Fail
	}
	if id, ok := j.entries[close.ID]; ok {
		return id, nil
	}
	j.next++
	id := fmt.Sprintf("JE-%d", j.next)
	j.entries[close.ID] = id
	return id, nil
}

// Entries returns a copy of the posted journal, keyed by close id.
func (j *MemoryJournal) Entries() map[recon.CloseID]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[recon.CloseID]string, len(j.entries))
	for k, v := range j.entries {
		out[k] = v
	}
	return out
}
