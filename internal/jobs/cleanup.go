// Package jobs runs periodic maintenance inside the server process.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CartSweeper marks active carts whose expiry has passed as abandoned.
type CartSweeper interface {
	AbandonExpiredCarts(ctx context.Context, before time.Time) (int64, error)
}

// Task is one named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// AbandonExpiredCarts returns a task that sweeps expired carts every
// interval.
func AbandonExpiredCarts(sweeper CartSweeper, interval time.Duration, logger *slog.Logger) Task {
	return Task{
		Name:     "cleanup:expired_carts",
		Interval: interval,
		Timeout:  time.Minute,
		Run: func(ctx context.Context) error {
			n, err := sweeper.AbandonExpiredCarts(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to abandon expired carts: %w", err)
			}
			if n > 0 {
				logger.Info("abandoned expired carts", "count", n)
			}
			return nil
		},
	}
}

// Schedule runs task every Interval until ctx is cancelled. A failed run is
// logged and retried at the next tick.
func Schedule(ctx context.Context, task Task, logger *slog.Logger) {
	if task.Interval <= 0 {
		return
	}
	logger = logger.With("job", task.Name)
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, task, logger)
		}
	}
}

func runOnce(ctx context.Context, task Task, logger *slog.Logger) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = task.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := task.Run(runCtx); err != nil {
		logger.Error("job failed", "duration", time.Since(start), "error", err)
		return
	}
	logger.Debug("job completed", "duration", time.Since(start))
}
