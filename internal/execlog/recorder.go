// Package execlog turns execution results into durable log records.
package execlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
	"github.com/zengdw/app-keep-alive-sub001/internal/store"
)

type Recorder struct {
	logs store.LogStore
}

func NewRecorder(logs store.LogStore) *Recorder { return &Recorder{logs: logs} }

// Record derives an ExecutionLog from one execution result and persists it.
// Field bounds are validated before the insert; malformed payloads are
// rejected rather than truncated. Records are immutable once written, so a
// reused id surfaces store.ErrDuplicate instead of overwriting.
func (r *Recorder) Record(ctx context.Context, task domain.Task, res domain.ExecutionResult) (domain.ExecutionLog, error) {
	l := domain.ExecutionLog{
		ID:         "log_" + uuid.NewString(),
		TaskID:     task.ID,
		TaskType:   task.Type,
		Success:    res.Success,
		StatusCode: res.StatusCode,
		Delivery:   res.Delivery,
		ElapsedMs:  res.ElapsedMs,
		Error:      res.Error,
		Details:    res.Details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.Validate(); err != nil {
		return domain.ExecutionLog{}, err
	}
	if err := r.logs.Insert(ctx, l); err != nil {
		return domain.ExecutionLog{}, err
	}
	return l, nil
}
