// Package store persists tasks and their execution logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate id")
)

// TaskStore is the durable home of task definitions and their cross-tick
// execution state. Nothing about scheduling lives in memory between ticks.
type TaskStore interface {
	Create(ctx context.Context, t domain.Task) (string, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	ListEnabled(ctx context.Context) ([]domain.Task, error)
	Update(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error

	// UpdateExecutionState persists the outcome of one execution: the
	// last-run marker, its status, the next keepalive run, and the advanced
	// recurrence rule (nil for keepalive tasks).
	UpdateExecutionState(ctx context.Context, id string, lastRun time.Time, lastStatus string, nextRun time.Time, rule *domain.RecurrenceRule) error
}

// LogStore is append-only: logs are never updated once inserted, and a second
// insert with the same id is rejected with ErrDuplicate.
type LogStore interface {
	Insert(ctx context.Context, l domain.ExecutionLog) error
	ListByTask(ctx context.Context, taskID string, limit int) ([]domain.ExecutionLog, error)
	ListRecent(ctx context.Context, limit int) ([]domain.ExecutionLog, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
