package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow keeps the window counters in Redis so the limit holds across
// process restarts and replicas. Counters live in per-window keys
// (ratelimit:<key>:<window index>) that expire on their own.
type RedisWindow struct {
	client *redis.Client
	limit  int
	window time.Duration

	now func() time.Time
}

func NewRedisWindow(redisURL string, limit int, window time.Duration) (*RedisWindow, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisWindow{client: client, limit: limit, window: window, now: time.Now}, nil
}

// Admit runs INCR and EXPIRE in one pipeline; the atomic increment is the
// threshold check, so concurrent requests cannot race past the limit.
func (w *RedisWindow) Admit(ctx context.Context, key string) error {
	idx := w.now().UnixNano() / int64(w.window)
	rkey := fmt.Sprintf("ratelimit:%s:%d", key, idx)

	pipe := w.client.Pipeline()
	incr := pipe.Incr(ctx, rkey)
	pipe.Expire(ctx, rkey, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	if incr.Val() > int64(w.limit) {
		return ErrRateLimited
	}
	return nil
}

func (w *RedisWindow) Close() error {
	return w.client.Close()
}
