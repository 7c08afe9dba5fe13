// Package worker runs notification deliveries with bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/kasse/internal/notify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance in logs.
	WorkerID string

	// MaxConcurrency is the maximum number of deliveries in flight.
	MaxConcurrency int

	// JobTimeout bounds one delivery.
	JobTimeout time.Duration

	// MaxAttempts is how many times a failing delivery is tried.
	MaxAttempts int

	// RetryBackoff is the wait before the second attempt; it doubles after
	// each failure.
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Processor handles one notification.
type Processor interface {
	Deliver(ctx context.Context, n notify.Notification) error
}

// Worker drains a channel of notifications through a Processor.
type Worker struct {
	config    Config
	processor Processor
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewWorker creates a new notification worker
func NewWorker(processor Processor, config Config, logger *slog.Logger) *Worker {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		config:    config,
		processor: processor,
		logger:    logger.With("worker_id", config.WorkerID),
		sleep:     sleepCtx,
	}
}

// Run processes notifications from in until ctx is cancelled or in is
// closed, then waits for in-flight deliveries to finish.
func (w *Worker) Run(ctx context.Context, in <-chan notify.Notification) error {
	w.logger.Info("worker starting", "max_concurrency", w.config.MaxConcurrency)

	var g errgroup.Group
	g.SetLimit(w.config.MaxConcurrency)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case n, ok := <-in:
			if !ok {
				break loop
			}
			// Go blocks while MaxConcurrency deliveries are running.
			g.Go(func() error {
				w.process(ctx, n)
				return nil
			})
		}
	}

	w.logger.Info("worker draining in-flight deliveries")
	return g.Wait()
}

// process delivers n, retrying with backoff. Failures are logged, never
// returned: one bad message must not stop the worker.
func (w *Worker) process(ctx context.Context, n notify.Notification) {
	logger := w.logger.With("kind", n.Kind, "notification_id", n.ID, "tenant_id", n.TenantID, "order_id", n.OrderID)
	backoff := w.config.RetryBackoff

	for attempt := 1; ; attempt++ {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.JobTimeout)
		err := w.processor.Deliver(jobCtx, n)
		cancel()
		if err == nil {
			logger.Debug("notification delivered", "attempt", attempt)
			return
		}
		if attempt >= w.config.MaxAttempts {
			logger.Error("notification delivery failed", "attempts", attempt, "error", err)
			return
		}
		logger.Warn("notification delivery failed, retrying", "attempt", attempt, "error", err)
		if err := w.sleep(ctx, backoff); err != nil {
			logger.Error("notification abandoned at shutdown", "attempts", attempt)
			return
		}
		backoff *= 2
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
