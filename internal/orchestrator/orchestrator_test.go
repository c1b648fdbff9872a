package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

type stateUpdate struct {
	lastRun    time.Time
	lastStatus string
	nextRun    time.Time
	rule       *domain.RecurrenceRule
}

type fakeTaskStore struct {
	mu      sync.Mutex
	tasks   []domain.Task
	listErr error
	updates map[string]stateUpdate
}

func (f *fakeTaskStore) ListEnabled(ctx context.Context) ([]domain.Task, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tasks, nil
}

func (f *fakeTaskStore) UpdateExecutionState(ctx context.Context, id string, lastRun time.Time, lastStatus string, nextRun time.Time, rule *domain.RecurrenceRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]stateUpdate)
	}
	f.updates[id] = stateUpdate{lastRun: lastRun, lastStatus: lastStatus, nextRun: nextRun, rule: rule}
	return nil
}

func (f *fakeTaskStore) Create(ctx context.Context, t domain.Task) (string, error) { return t.ID, nil }
func (f *fakeTaskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	return domain.Task{}, nil
}
func (f *fakeTaskStore) List(ctx context.Context) ([]domain.Task, error) { return f.tasks, nil }
func (f *fakeTaskStore) Update(ctx context.Context, t domain.Task) error { return nil }
func (f *fakeTaskStore) Delete(ctx context.Context, id string) error     { return nil }

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	failID  string
	panicID string
	delay   time.Duration

	cur, maxSeen int32
}

func (f *fakeExecutor) Execute(ctx context.Context, task domain.Task) domain.ExecutionResult {
	cur := atomic.AddInt32(&f.cur, 1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.cur, -1)

	f.mu.Lock()
	f.calls = append(f.calls, task.ID)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if task.ID == f.panicID {
		panic("executor blew up")
	}
	if task.ID == f.failID {
		return domain.ExecutionResult{Error: "http_status:500", StatusCode: 500}
	}
	return domain.ExecutionResult{Success: true, StatusCode: 200}
}

func (f *fakeExecutor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	logs []domain.ExecutionLog
	err  error
}

func (f *fakeRecorder) Record(ctx context.Context, task domain.Task, res domain.ExecutionResult) (domain.ExecutionLog, error) {
	if f.err != nil {
		return domain.ExecutionLog{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := domain.ExecutionLog{
		ID:       fmt.Sprintf("log_%d", len(f.logs)+1),
		TaskID:   task.ID,
		TaskType: task.Type,
		Success:  res.Success,
	}
	f.logs = append(f.logs, l)
	return l, nil
}

func dueKeepalive(id string) domain.Task {
	return domain.Task{
		ID:        id,
		Name:      id,
		Type:      domain.TypeKeepalive,
		Schedule:  "*/5 * * * *",
		Enabled:   true,
		Keepalive: &domain.KeepaliveConfig{URL: "http://example.com/ping"},
	}
}

func dueNotification(id string, now time.Time) domain.Task {
	return domain.Task{
		ID:      id,
		Name:    id,
		Type:    domain.TypeNotification,
		Enabled: true,
		Notification: &domain.NotificationConfig{
			Message:  "renew",
			Channels: []domain.ChannelConfig{{Type: domain.ChannelWebhook, URL: "http://example.com"}},
		},
		Rule: &domain.RecurrenceRule{
			Kind:      domain.KindInterval,
			Unit:      domain.UnitMonth,
			Interval:  1,
			StartDate: now.AddDate(0, -1, 0),
			NextDue:   now,
			AutoRenew: true,
		},
	}
}

func TestRunBatchIsolatesTaskFailures(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)
	tasks := make([]domain.Task, 0, 5)
	for i := 1; i <= 5; i++ {
		tasks = append(tasks, dueKeepalive(fmt.Sprintf("tsk_%d", i)))
	}
	ts := &fakeTaskStore{tasks: tasks}
	exec := &fakeExecutor{failID: "tsk_3"}
	rec := &fakeRecorder{}

	report := New(ts, exec, rec, 4).RunBatch(context.Background(), now)

	assert.True(t, report.Success, "task failures must not flip batch success")
	assert.Equal(t, 5, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "tsk_3")
	assert.Contains(t, report.Errors[0], "http_status:500")

	require.Len(t, ts.updates, 5, "every task's state is persisted")
	assert.Equal(t, domain.StatusFailure, ts.updates["tsk_3"].lastStatus)
	assert.Equal(t, domain.StatusSuccess, ts.updates["tsk_1"].lastStatus)
	assert.Len(t, rec.logs, 5)
}

func TestRunBatchContainsPanics(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)
	ts := &fakeTaskStore{tasks: []domain.Task{dueKeepalive("tsk_1"), dueKeepalive("tsk_2")}}
	exec := &fakeExecutor{panicID: "tsk_1"}
	rec := &fakeRecorder{}

	report := New(ts, exec, rec, 4).RunBatch(context.Background(), now)

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "tsk_1")
	assert.Contains(t, report.Errors[0], "panic")

	assert.Equal(t, domain.StatusSuccess, ts.updates["tsk_2"].lastStatus, "other tasks are unaffected")
}

func TestRunBatchStoreFaultFlipsSuccess(t *testing.T) {
	ts := &fakeTaskStore{listErr: errors.New("database is locked")}

	report := New(ts, &fakeExecutor{}, &fakeRecorder{}, 4).RunBatch(context.Background(), time.Now())

	assert.False(t, report.Success)
	assert.Zero(t, report.Processed)
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "database is locked")
}

func TestRunBatchOnlyExecutesDueTasks(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)

	futureKeepalive := dueKeepalive("tsk_future")
	futureKeepalive.NextRunAt = now.Add(time.Hour)

	pastKeepalive := dueKeepalive("tsk_past")
	pastKeepalive.NextRunAt = now.Add(-time.Minute)

	futureNotification := dueNotification("tsk_later", now)
	futureNotification.Rule.NextDue = now.AddDate(0, 0, 7)

	exhausted := dueNotification("tsk_done", now)
	exhausted.Rule.Exhausted = true

	ts := &fakeTaskStore{tasks: []domain.Task{
		pastKeepalive,
		futureKeepalive,
		dueNotification("tsk_remind", now),
		futureNotification,
		exhausted,
	}}
	exec := &fakeExecutor{}

	report := New(ts, exec, &fakeRecorder{}, 4).RunBatch(context.Background(), now)

	assert.Equal(t, 2, report.Processed)
	assert.Empty(t, report.Errors)
	assert.ElementsMatch(t, []string{"tsk_past", "tsk_remind"}, exec.called())
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)
	tasks := make([]domain.Task, 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, dueKeepalive(fmt.Sprintf("tsk_%d", i)))
	}
	ts := &fakeTaskStore{tasks: tasks}
	exec := &fakeExecutor{delay: 20 * time.Millisecond}

	report := New(ts, exec, &fakeRecorder{}, 2).RunBatch(context.Background(), now)

	assert.Equal(t, 8, report.Processed)
	assert.LessOrEqual(t, atomic.LoadInt32(&exec.maxSeen), int32(2), "no more than two executions in flight")
}

func TestRunBatchAdvancesNotificationRule(t *testing.T) {
	now := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
	ts := &fakeTaskStore{tasks: []domain.Task{dueNotification("tsk_n", now)}}

	report := New(ts, &fakeExecutor{}, &fakeRecorder{}, 4).RunBatch(context.Background(), now)

	require.Equal(t, 1, report.Processed)
	update, ok := ts.updates["tsk_n"]
	require.True(t, ok)
	assert.True(t, update.lastRun.Equal(now))
	assert.Equal(t, domain.StatusSuccess, update.lastStatus)
	require.NotNil(t, update.rule)
	assert.False(t, update.rule.Exhausted)
	assert.True(t, update.rule.NextDue.Equal(time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)))
}

func TestRunBatchRetiresRuleWithoutAutoRenew(t *testing.T) {
	now := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
	task := dueNotification("tsk_once", now)
	task.Rule.AutoRenew = false
	ts := &fakeTaskStore{tasks: []domain.Task{task}}

	New(ts, &fakeExecutor{}, &fakeRecorder{}, 4).RunBatch(context.Background(), now)

	update, ok := ts.updates["tsk_once"]
	require.True(t, ok)
	require.NotNil(t, update.rule)
	assert.True(t, update.rule.Exhausted, "one-shot rules retire after firing")
}

func TestRunBatchComputesNextCronRun(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)
	task := dueKeepalive("tsk_cron")
	task.Schedule = "0 * * * *"
	ts := &fakeTaskStore{tasks: []domain.Task{task}}

	New(ts, &fakeExecutor{}, &fakeRecorder{}, 4).RunBatch(context.Background(), now)

	update, ok := ts.updates["tsk_cron"]
	require.True(t, ok)
	assert.True(t, update.nextRun.Equal(time.Date(2024, time.May, 10, 11, 0, 0, 0, time.UTC)))
}

func TestRunBatchReportsRecorderFaultPerTask(t *testing.T) {
	now := time.Date(2024, time.May, 10, 10, 30, 0, 0, time.UTC)
	ts := &fakeTaskStore{tasks: []domain.Task{dueKeepalive("tsk_1")}}
	rec := &fakeRecorder{err: errors.New("log store rejected record")}

	report := New(ts, &fakeExecutor{}, rec, 4).RunBatch(context.Background(), now)

	assert.True(t, report.Success)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "record")

	update, ok := ts.updates["tsk_1"]
	require.True(t, ok, "state still advances so the task is not re-fired forever")
	assert.Equal(t, domain.StatusSuccess, update.lastStatus)
}
