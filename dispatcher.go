package mailout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FailureHandler is called when a delivery attempt returns an error.
type FailureHandler func(ctx context.Context, msg Message, err error)

// Dispatcher runs a pool of workers that claim eligible outbox messages,
// invoke the Transport, and drive status transitions.
type Dispatcher struct {
	store     OutboxStore
	transport Transport
	cfg       DispatcherConfig

	depthMu sync.Mutex
	depthAt time.Time
}

// NewDispatcher constructs a Dispatcher with defaults and optional settings.
func NewDispatcher(store OutboxStore, transport Transport, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("mailout: nil OutboxStore")
	}
	if transport == nil {
		panic("mailout: nil Transport")
	}

	var cfg DispatcherConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Dispatcher{
		store:     store,
		transport: transport,
		cfg:       cfg,
	}
}

// Run starts the polling loop with the configured number of workers and
// blocks until ctx is cancelled or a worker fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, d.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					d.cfg.Logger.Error("mailout worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := d.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.cfg.Logger.Error("mailout worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce claims and processes at most one message. It returns false
// when no message was eligible.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (bool, error) {
	msg, err := d.claim(ctx)
	if err != nil {
		if errors.Is(err, ErrNoEligibleMessages) {
			d.maybeRecordQueueDepth(ctx)

			return false, nil
		}

		return false, err
	}

	if err := d.deliver(ctx, msg); err != nil {
		return false, err
	}

	return true, nil
}

func (d *Dispatcher) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := d.claim(ctx)
		if err != nil {
			if errors.Is(err, ErrNoEligibleMessages) {
				d.maybeRecordQueueDepth(ctx)
				if sleepErr := d.sleep(ctx, d.cfg.PollInterval); sleepErr != nil {
					return sleepErr
				}

				continue
			}

			return err
		}

		if err := d.deliver(ctx, msg); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) claim(ctx context.Context) (Message, error) {
	claimCtx := ctx
	cancel := func() {}
	if d.cfg.ClaimTimeout > 0 {
		claimCtx, cancel = context.WithTimeout(ctx, d.cfg.ClaimTimeout)
	}
	defer cancel()

	return d.store.Claim(claimCtx, d.cfg.Clock.Now(), d.cfg.LeaseDuration)
}

// deliver runs one transport attempt for a claimed message and applies the
// resulting transition. Transport errors are consumed here: they become log
// details and retry state, never worker failures.
func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	start := time.Now()
	defer func() {
		d.cfg.Metrics.ObserveAttemptDuration(time.Since(start))
	}()

	sendCtx := ctx
	cancel := func() {}
	if d.cfg.SendTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
	}
	sendErr := d.transport.Send(sendCtx, msg)
	cancel()

	if sendErr == nil {
		return d.applyTransition(msg, d.store.MarkSent(ctx, msg.ID, msg.Version, ""), func() {
			d.cfg.Metrics.AddSent(1)
		})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if d.cfg.ErrorHandler != nil {
		d.cfg.ErrorHandler(ctx, msg, sendErr)
	}

	if d.cfg.FailureClassifier(ctx, msg, sendErr) == FailurePermanent {
		return d.applyTransition(msg, d.store.MarkFailed(ctx, msg.ID, msg.Version, sendErr.Error()), func() {
			d.cfg.Metrics.AddFailed(1)
		})
	}

	// The attempt that just failed is Attempts+1; the counter itself only
	// moves when the store commits the edge.
	attempt := msg.Attempts + 1
	nextAt, ok := d.cfg.RetryPolicy.NextAttempt(attempt, d.cfg.Clock.Now())
	if !ok {
		details := fmt.Sprintf("%s: %s", ErrMaxAttemptsExceeded.Error(), sendErr.Error())

		return d.applyTransition(msg, d.store.MarkFailed(ctx, msg.ID, msg.Version, details), func() {
			d.cfg.Metrics.AddFailed(1)
		})
	}

	return d.applyTransition(msg, d.store.MarkRetried(ctx, msg.ID, msg.Version, nextAt, sendErr.Error()), func() {
		d.cfg.Metrics.AddRetried(1)
	})
}

// applyTransition absorbs claim conflicts: a version mismatch means the
// lease expired and another worker took over, so this worker simply moves on.
func (d *Dispatcher) applyTransition(msg Message, err error, record func()) error {
	if err == nil {
		record()

		return nil
	}
	if errors.Is(err, ErrClaimConflict) {
		d.cfg.Logger.Warn("mailout message reclaimed during attempt", "id", msg.ID, "err", err)

		return nil
	}

	return err
}

func (d *Dispatcher) sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) maybeRecordQueueDepth(ctx context.Context) {
	counter, ok := d.store.(QueueDepthCounter)
	if !ok {
		return
	}
	if d.cfg.DepthInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := d.cfg.Clock.Now()
	d.depthMu.Lock()
	nextAllowed := d.depthAt.Add(d.cfg.DepthInterval)
	if !d.depthAt.IsZero() && now.Before(nextAllowed) {
		d.depthMu.Unlock()

		return
	}
	d.depthAt = now
	d.depthMu.Unlock()

	depth, err := counter.QueueDepth(ctx)
	if err != nil {
		d.cfg.Logger.Warn("mailout queue depth check failed", "err", err)

		return
	}

	d.cfg.Metrics.SetQueueDepth(depth)
}
