package notify

import (
	"context"
	"slices"
	"sync"
)

// Recorder is an in-memory Queue used in development and tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	// Err, when set, is returned by Enqueue instead of recording.
	Err error
}

// Enqueue implements Queue.
func (r *Recorder) Enqueue(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns every recorded notification.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// Kinds returns the kinds of every recorded notification, in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.Kind
	}
	return out
}
