// Package orchestrator runs one batch of due tasks per external tick. All
// cross-tick state (next-due dates, last-run markers) lives in the task
// store, so every invocation is self-contained: a tick that faults is simply
// retried by re-evaluating due-ness at the next tick.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
	"github.com/zengdw/app-keep-alive-sub001/internal/recurrence"
	"github.com/zengdw/app-keep-alive-sub001/internal/store"
)

// Executor runs one execution attempt for a due task.
type Executor interface {
	Execute(ctx context.Context, task domain.Task) domain.ExecutionResult
}

// Recorder persists the outcome of one execution attempt.
type Recorder interface {
	Record(ctx context.Context, task domain.Task, res domain.ExecutionResult) (domain.ExecutionLog, error)
}

type Orchestrator struct {
	tasks    store.TaskStore
	exec     Executor
	recorder Recorder
	sem      chan struct{}
}

func New(tasks store.TaskStore, exec Executor, recorder Recorder, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{
		tasks:    tasks,
		exec:     exec,
		recorder: recorder,
		sem:      make(chan struct{}, concurrency),
	}
}

// RunBatch loads the enabled tasks, executes every one due at now with
// bounded parallelism, and aggregates the outcomes. Task failures land in
// the report's error list; Success flips to false only when the
// orchestration itself fails (e.g. the store is unreachable). RunBatch never
// panics: per-task panics are contained at the task boundary.
func (o *Orchestrator) RunBatch(ctx context.Context, now time.Time) domain.BatchReport {
	enabled, err := o.tasks.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list enabled tasks")
		return domain.BatchReport{Errors: []string{fmt.Sprintf("list enabled tasks: %v", err)}}
	}

	due := make([]domain.Task, 0, len(enabled))
	for _, t := range enabled {
		if o.isDue(t, now) {
			due = append(due, t)
		}
	}

	failures := make(chan string, len(due))
	var wg sync.WaitGroup
	for _, t := range due {
		wg.Add(1)
		o.sem <- struct{}{}
		go func(task domain.Task) {
			defer wg.Done()
			defer func() { <-o.sem }()
			if msg := o.runOne(ctx, task, now); msg != "" {
				failures <- msg
			}
		}(t)
	}
	wg.Wait()
	close(failures)

	report := domain.BatchReport{Success: true, Processed: len(due)}
	for msg := range failures {
		report.Errors = append(report.Errors, msg)
	}

	log.Info().
		Int("enabled", len(enabled)).
		Int("processed", report.Processed).
		Int("failed", len(report.Errors)).
		Time("tick", now).
		Msg("batch completed")
	return report
}

func (o *Orchestrator) isDue(t domain.Task, now time.Time) bool {
	switch t.Type {
	case domain.TypeKeepalive:
		// A zero next-run marker means the task has never run; fire it now
		// and let the persisted state take over.
		return t.NextRunAt.IsZero() || !now.Before(t.NextRunAt)
	case domain.TypeNotification:
		if t.Rule == nil {
			return false
		}
		return recurrence.IsDue(*t.Rule, now)
	default:
		return false
	}
}

// runOne executes a single due task and persists its outcome. It returns one
// failure message ("" on success) so a task can contribute at most one entry
// to the batch report, and it never lets a panic escape the task boundary.
func (o *Orchestrator) runOne(ctx context.Context, task domain.Task, now time.Time) (failure string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", task.ID).Interface("panic", r).Msg("task execution panicked")
			failure = fmt.Sprintf("task %s: panic: %v", task.ID, r)
		}
	}()

	res := o.exec.Execute(ctx, task)

	var problems []string
	if !res.Success {
		problems = append(problems, res.Error)
	}

	if _, err := o.recorder.Record(ctx, task, res); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to record execution")
		problems = append(problems, fmt.Sprintf("record: %v", err))
	}

	status := domain.StatusSuccess
	if !res.Success {
		status = domain.StatusFailure
	}

	// State advances even after a failed attempt: retry happens at the next
	// due occurrence, never by re-firing the same one.
	var (
		nextRun time.Time
		rule    *domain.RecurrenceRule
	)
	switch task.Type {
	case domain.TypeKeepalive:
		next, err := recurrence.NextCronRun(task.Schedule, now)
		if err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Str("schedule", task.Schedule).Msg("invalid schedule")
			problems = append(problems, fmt.Sprintf("schedule: %v", err))
		} else {
			nextRun = next
		}
	case domain.TypeNotification:
		advanced := recurrence.Advance(*task.Rule, now)
		rule = &advanced
	}

	if err := o.tasks.UpdateExecutionState(ctx, task.ID, now, status, nextRun, rule); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist execution state")
		problems = append(problems, fmt.Sprintf("persist state: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Sprintf("task %s: %s", task.ID, strings.Join(problems, "; "))
	}
	return ""
}
