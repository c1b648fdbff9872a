// Package ratelimit provides fixed-window admission control keyed by client
// identity. Excess requests inside a window are rejected before any business
// logic runs; the next window admits the client again.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter admits or rejects one inbound request for a client key.
type Limiter interface {
	Admit(ctx context.Context, key string) error
}

type bucket struct {
	start time.Time
	count int
}

// Window counts requests per key in fixed windows anchored at the first
// request of each window. All state lives behind one mutex so a burst of
// concurrent requests for the same key can never slip past the threshold.
type Window struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string]*bucket
	lastPrune time.Time

	now func() time.Time // stubbed in tests
}

func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Admit increments the key's counter and rejects once the count exceeds the
// limit. Rejected requests still consume window budget.
func (w *Window) Admit(ctx context.Context, key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	b, ok := w.buckets[key]
	if !ok || now.Sub(b.start) >= w.window {
		b = &bucket{start: now}
		w.buckets[key] = b
	}
	b.count++

	w.pruneLocked(now)

	if b.count > w.limit {
		return ErrRateLimited
	}
	return nil
}

// pruneLocked drops expired buckets so idle keys don't accumulate forever.
func (w *Window) pruneLocked(now time.Time) {
	if now.Sub(w.lastPrune) < w.window {
		return
	}
	for key, b := range w.buckets {
		if now.Sub(b.start) >= w.window {
			delete(w.buckets, key)
		}
	}
	w.lastPrune = now
}
