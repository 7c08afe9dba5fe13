package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/kasse/internal/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProcessor struct {
	deliverFunc func(ctx context.Context, n notify.Notification) error
}

func (m *mockProcessor) Deliver(ctx context.Context, n notify.Notification) error {
	return m.deliverFunc(ctx, n)
}

func noSleep(context.Context, time.Duration) error { return nil }

func feed(ns ...notify.Notification) <-chan notify.Notification {
	ch := make(chan notify.Notification, len(ns))
	for _, n := range ns {
		ch <- n
	}
	close(ch)
	return ch
}

func note() notify.Notification {
	return notify.Notification{ID: uuid.New(), Kind: notify.KindOrderPaid}
}

func TestRun_DeliversEverything(t *testing.T) {
	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	w := NewWorker(&mockProcessor{deliverFunc: func(_ context.Context, n notify.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		seen[n.ID] = true
		return nil
	}}, Config{MaxConcurrency: 2}, nil)

	ns := []notify.Notification{note(), note(), note(), note()}
	require.NoError(t, w.Run(context.Background(), feed(ns...)))

	for _, n := range ns {
		assert.True(t, seen[n.ID])
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	w := NewWorker(&mockProcessor{deliverFunc: func(context.Context, notify.Notification) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}, Config{MaxConcurrency: 2}, nil)

	require.NoError(t, w.Run(context.Background(), feed(note(), note(), note(), note(), note(), note())))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	w := NewWorker(&mockProcessor{deliverFunc: func(context.Context, notify.Notification) error {
		calls++
		if calls < 3 {
			return errors.New("smtp: 421 try again later")
		}
		return nil
	}}, Config{MaxAttempts: 3}, nil)
	w.sleep = noSleep

	w.process(context.Background(), note())
	assert.Equal(t, 3, calls)
}

func TestProcess_GivesUp(t *testing.T) {
	calls := 0
	var waits []time.Duration
	w := NewWorker(&mockProcessor{deliverFunc: func(context.Context, notify.Notification) error {
		calls++
		return errors.New("permanent")
	}}, Config{MaxAttempts: 3, RetryBackoff: time.Second}, nil)
	w.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	w.process(context.Background(), note())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan notify.Notification)
	w := NewWorker(&mockProcessor{deliverFunc: func(context.Context, notify.Notification) error { return nil }}, Config{}, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, in) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
