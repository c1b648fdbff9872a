package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAdmitsUpToLimit(t *testing.T) {
	w := NewWindow(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Admit(ctx, "client-a"), "request %d should be admitted", i+1)
	}
	assert.ErrorIs(t, w.Admit(ctx, "client-a"), ErrRateLimited)
	assert.ErrorIs(t, w.Admit(ctx, "client-a"), ErrRateLimited, "rejections repeat within the window")
}

func TestWindowResetsAtBoundary(t *testing.T) {
	w := NewWindow(2, time.Minute)
	current := time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return current }
	ctx := context.Background()

	require.NoError(t, w.Admit(ctx, "client-a"))
	require.NoError(t, w.Admit(ctx, "client-a"))
	require.ErrorIs(t, w.Admit(ctx, "client-a"), ErrRateLimited)

	current = current.Add(30 * time.Second)
	assert.ErrorIs(t, w.Admit(ctx, "client-a"), ErrRateLimited, "mid-window, still rejected")

	current = current.Add(30 * time.Second)
	assert.NoError(t, w.Admit(ctx, "client-a"), "next window admits again")
}

func TestWindowKeysAreIndependent(t *testing.T) {
	w := NewWindow(1, time.Minute)
	ctx := context.Background()

	require.NoError(t, w.Admit(ctx, "client-a"))
	require.ErrorIs(t, w.Admit(ctx, "client-a"), ErrRateLimited)

	assert.NoError(t, w.Admit(ctx, "client-b"))
}

func TestWindowConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	const (
		limit    = 50
		requests = 200
	)
	w := NewWindow(limit, time.Minute)

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit(context.Background(), "client-a") == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), atomic.LoadInt64(&admitted))
}
