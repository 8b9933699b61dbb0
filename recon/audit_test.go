package recon_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/posting"
	"github.com/warp/till-engine/recon"
	"github.com/warp/till-engine/recon/store"
)

// flakySink fails the first failures deliveries of each event, then
// accepts. Tracks every attempt for assertions.
type flakySink struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	accepted []recon.AuditEvent
}

func newFlakySink(failures int) *flakySink {
	return &flakySink{failures: failures, attempts: make(map[string]int)}
}

func (s *flakySink) Emit(_ context.Context, event recon.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[event.ID]++
	if s.attempts[event.ID] <= s.failures {
		return errors.New("sink unavailable")
	}
	s.accepted = append(s.accepted, event)
	return nil
}

func (s *flakySink) acceptedEvents() []recon.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recon.AuditEvent, len(s.accepted))
	copy(out, s.accepted)
	return out
}

func auditEvent(id string, closeID recon.CloseID, seq int) recon.AuditEvent {
	return recon.AuditEvent{
		ID:      id,
		Action:  recon.AuditCloseSubmitted,
		CloseID: closeID,
		Seq:     seq,
		At:      time.Now().UTC(),
	}
}

func drainQueue(t *testing.T, q *recon.AuditQueue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))
}

func TestAuditQueue_DeliversInEnqueueOrder(t *testing.T) {
	sink := store.NewMemoryAuditLog()
	q := recon.NewAuditQueue(sink, recon.AuditQueueConfig{}, nil)

	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		err := q.Emit(ctx, auditEvent(fmt.Sprintf("evt-%d", i), "close-1", i))
		require.NoError(t, err)
	}
	drainQueue(t, q)

	events := sink.Events()
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("evt-%d", i+1), e.ID)
	}
}

func TestAuditQueue_RetriesUntilSinkRecovers(t *testing.T) {
	// GIVEN: a sink that rejects the first two attempts of every event
	sink := newFlakySink(2)
	q := recon.NewAuditQueue(sink, recon.AuditQueueConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil)

	require.NoError(t, q.Emit(context.Background(), auditEvent("evt-1", "close-1", 1)))
	drainQueue(t, q)

	accepted := sink.acceptedEvents()
	require.Len(t, accepted, 1)
	assert.Equal(t, "evt-1", accepted[0].ID)
	assert.Equal(t, 3, sink.attempts["evt-1"])
}

func TestAuditQueue_DropsAfterMaxAttempts(t *testing.T) {
	// GIVEN: a sink that never accepts
	sink := newFlakySink(1000)
	q := recon.NewAuditQueue(sink, recon.AuditQueueConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}, nil)

	require.NoError(t, q.Emit(context.Background(), auditEvent("evt-doomed", "close-1", 1)))
	require.NoError(t, q.Emit(context.Background(), auditEvent("evt-after", "close-1", 2)))
	drainQueue(t, q)

	// THEN: the doomed event was attempted exactly MaxAttempts times and
	// the queue moved on to the next event
	assert.Equal(t, 3, sink.attempts["evt-doomed"])
	assert.Equal(t, 3, sink.attempts["evt-after"])
	assert.Empty(t, sink.acceptedEvents())
}

func TestAuditQueue_EmitAfterClose(t *testing.T) {
	q := recon.NewAuditQueue(store.NewMemoryAuditLog(), recon.AuditQueueConfig{}, nil)
	drainQueue(t, q)

	err := q.Emit(context.Background(), auditEvent("evt-1", "close-1", 1))
	assert.ErrorIs(t, err, recon.ErrAuditQueueClosed)

	// Close is safe to call again
	assert.NoError(t, q.Close(context.Background()))
}

func TestAuditQueue_FullBufferRejectsWithoutBlocking(t *testing.T) {
	// GIVEN: a tiny buffer and a sink stuck in backoff
	sink := newFlakySink(1000)
	q := recon.NewAuditQueue(sink, recon.AuditQueueConfig{
		Buffer:      1,
		MaxAttempts: 5,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  200 * time.Millisecond,
	}, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	}()

	ctx := context.Background()
	// Flood well past capacity; at least one Emit must be refused and
	// none may block.
	var full bool
	for i := 0; i < 10; i++ {
		if err := q.Emit(ctx, auditEvent(fmt.Sprintf("evt-%d", i), "close-1", i+1)); err != nil {
			assert.ErrorIs(t, err, recon.ErrAuditQueueFull)
			full = true
		}
	}
	assert.True(t, full)
}

func TestAuditQueue_CloseHonorsContextDeadline(t *testing.T) {
	// GIVEN: a sink slow enough that draining exceeds the deadline
	sink := newFlakySink(1000)
	q := recon.NewAuditQueue(sink, recon.AuditQueueConfig{
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  100 * time.Millisecond,
	}, nil)
	require.NoError(t, q.Emit(context.Background(), auditEvent("evt-slow", "close-1", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAuditQueue_EndToEndWithLifecycle(t *testing.T) {
	// GIVEN: a lifecycle whose sink is the queue in front of a memory log
	log := store.NewMemoryAuditLog()
	q := recon.NewAuditQueue(log, recon.AuditQueueConfig{}, nil)

	memStore := store.NewMemory()
	lifecycle := recon.NewCloseLifecycle(memStore, posting.NewMemoryJournal(), q, nil)

	draft := draftClose("5000",
		[]recon.DenominationEntry{entry("1000", 5)},
		map[recon.PaymentMode]string{recon.ModeCash: "5000"},
	)
	draft.CashierID = "cashier-1"

	ctx := context.Background()
	close, err := lifecycle.Submit(ctx, draft, testConfig())
	require.NoError(t, err)
	_, err = lifecycle.Approve(ctx, close.ID)
	require.NoError(t, err)

	drainQueue(t, q)

	events := log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, recon.AuditCloseSubmitted, events[0].Action)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, recon.AuditCloseVerified, events[1].Action)
	assert.Equal(t, 2, events[1].Seq)
}
