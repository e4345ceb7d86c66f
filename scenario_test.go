package mailout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/mailout"
	"github.com/velmie/mailout/memory"
)

// scriptedTransport fails transiently for a fixed number of attempts and
// then succeeds.
type scriptedTransport struct {
	mu        sync.Mutex
	failures  int
	attempts  int
	permanent bool
}

func (s *scriptedTransport) Send(context.Context, mailout.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.permanent {
		return mailout.Permanent(errors.New("recipient rejected"))
	}
	if s.attempts <= s.failures {
		return mailout.Transient(errors.New("smtp timeout"))
	}

	return nil
}

func assertValidWalk(t *testing.T, history []mailout.LogEntry) {
	t.Helper()

	if len(history) == 0 {
		t.Fatalf("expected at least one log row")
	}
	if history[0].Action != mailout.StatusQueued {
		t.Fatalf("walks must start at queued, got %s", history[0].Action)
	}
	for i := 1; i < len(history); i++ {
		from, to := history[i-1].Action, history[i].Action
		if from == to {
			t.Fatalf("consecutive identical actions at %d: %s", i, from)
		}
		if !mailout.CanTransition(from, to) {
			t.Fatalf("edge %s -> %s is not in the transition table", from, to)
		}
	}
}

func assertActions(t *testing.T, history []mailout.LogEntry, want []mailout.Status) {
	t.Helper()

	if len(history) != len(want) {
		t.Fatalf("expected %d log rows, got %d: %+v", len(want), len(history), history)
	}
	for i, entry := range history {
		if entry.Action != want[i] {
			t.Fatalf("log row %d: expected %s, got %s", i, want[i], entry.Action)
		}
	}
}

func enqueueOne(t *testing.T, service *mailout.Service) uuid.UUID {
	t.Helper()

	createWelcomeTemplate(t, service)
	resp, err := service.EnqueueEmail(context.Background(), "welcome_email", "alice@x.com", map[string]string{
		"userName": "Alice",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !resp.Success {
		t.Fatalf("enqueue rejected: %s", resp.Message)
	}

	return *resp.EmailID
}

func TestDeliveryAfterTransientFailures(t *testing.T) {
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock), memory.WithMaxAttempts(3))
	service := mailout.NewService(store)
	transport := &scriptedTransport{failures: 2}

	dispatcher := mailout.NewDispatcher(store, transport,
		mailout.WithClock(clock),
		mailout.WithRetryPolicy(mailout.RetryPolicy{
			BaseDelay:   time.Minute,
			MaxDelay:    time.Hour,
			MaxAttempts: 3,
		}),
	)

	id := enqueueOne(t, service)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := dispatcher.ProcessOnce(ctx)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("attempt %d: expected a claim", i+1)
		}
		// Jump past the scheduled retry time.
		clock.Advance(time.Hour)
	}

	msg, err := store.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != mailout.StatusSent {
		t.Fatalf("expected sent, got %s", msg.Status)
	}
	if msg.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", msg.Attempts)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	assertValidWalk(t, history)
	assertActions(t, history, []mailout.Status{
		mailout.StatusQueued,
		mailout.StatusProcessing,
		mailout.StatusRetried,
		mailout.StatusProcessing,
		mailout.StatusRetried,
		mailout.StatusProcessing,
		mailout.StatusSent,
	})
}

func TestPermanentFailureOnFirstAttempt(t *testing.T) {
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock))
	service := mailout.NewService(store)
	transport := &scriptedTransport{permanent: true}

	dispatcher := mailout.NewDispatcher(store, transport, mailout.WithClock(clock))

	id := enqueueOne(t, service)
	ctx := context.Background()

	if _, err := dispatcher.ProcessOnce(ctx); err != nil {
		t.Fatalf("process once: %v", err)
	}

	msg, err := store.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != mailout.StatusFailed {
		t.Fatalf("expected failed, got %s", msg.Status)
	}
	if msg.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", msg.Attempts)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	assertValidWalk(t, history)
	assertActions(t, history, []mailout.Status{
		mailout.StatusQueued,
		mailout.StatusProcessing,
		mailout.StatusFailed,
	})
}

func TestRetryBudgetExhaustion(t *testing.T) {
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock), memory.WithMaxAttempts(2))
	service := mailout.NewService(store)
	transport := &scriptedTransport{failures: 10}

	dispatcher := mailout.NewDispatcher(store, transport,
		mailout.WithClock(clock),
		mailout.WithRetryPolicy(mailout.RetryPolicy{
			BaseDelay:   time.Minute,
			MaxDelay:    time.Hour,
			MaxAttempts: 2,
		}),
	)

	id := enqueueOne(t, service)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := dispatcher.ProcessOnce(ctx); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		clock.Advance(time.Hour)
	}

	msg, err := store.GetMessage(ctx, id)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Status != mailout.StatusFailed {
		t.Fatalf("expected failed after budget exhaustion, got %s", msg.Status)
	}
	if msg.Attempts != 2 {
		t.Fatalf("attempt counter must equal the budget, got %d", msg.Attempts)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	assertValidWalk(t, history)
	assertActions(t, history, []mailout.Status{
		mailout.StatusQueued,
		mailout.StatusProcessing,
		mailout.StatusRetried,
		mailout.StatusProcessing,
		mailout.StatusFailed,
	})
}

func TestLeaseExpiryReclaim(t *testing.T) {
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clock), memory.WithMaxAttempts(5))
	service := mailout.NewService(store)

	id := enqueueOne(t, service)
	ctx := context.Background()

	// First worker claims and crashes (no transition is ever recorded).
	if _, err := store.Claim(ctx, clock.Now(), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Before the lease expires the message is invisible.
	clock.Advance(30 * time.Second)
	if _, err := store.Claim(ctx, clock.Now(), time.Minute); !errors.Is(err, mailout.ErrNoEligibleMessages) {
		t.Fatalf("expected no eligible messages, got %v", err)
	}

	// Past the lease another worker reclaims it.
	clock.Advance(time.Minute)
	reclaimed, err := store.Claim(ctx, clock.Now(), time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if reclaimed.ID != id {
		t.Fatalf("reclaimed the wrong message")
	}
	if reclaimed.Attempts != 1 {
		t.Fatalf("lease expiry must consume an attempt, got %d", reclaimed.Attempts)
	}

	history, err := store.History(ctx, id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	assertValidWalk(t, history)
	assertActions(t, history, []mailout.Status{
		mailout.StatusQueued,
		mailout.StatusProcessing,
		mailout.StatusRetried,
		mailout.StatusProcessing,
	})
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	store := memory.NewStore()
	service := mailout.NewService(store)

	id := enqueueOne(t, service)
	ctx := context.Background()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []uuid.UUID
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := store.Claim(ctx, time.Now().UTC(), time.Minute)
			if err != nil {
				if !errors.Is(err, mailout.ErrNoEligibleMessages) {
					t.Errorf("claim: %v", err)
				}

				return
			}
			mu.Lock()
			successes = append(successes, msg.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(successes) != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", len(successes))
	}
	if successes[0] != id {
		t.Fatalf("claimed the wrong message")
	}
}
