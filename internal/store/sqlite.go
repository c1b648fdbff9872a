package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL CHECK(type IN ('keepalive','notification')),
  schedule TEXT NOT NULL DEFAULT '',
  keepalive BLOB,
  notification BLOB,
  rule BLOB,
  enabled INTEGER NOT NULL DEFAULT 1,
  owner TEXT NOT NULL DEFAULT '',
  next_run_at DATETIME,
  last_run_at DATETIME,
  last_status TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_enabled ON tasks(enabled, next_run_at);
CREATE TABLE IF NOT EXISTS execution_logs (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  task_type TEXT NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  status_code INTEGER NOT NULL DEFAULT 0,
  delivery TEXT NOT NULL DEFAULT '',
  elapsed_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  details BLOB,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_logs_task_created ON execution_logs(task_id, created_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteTaskStore struct{ db *sql.DB }

func NewSQLiteTaskStore(db *sql.DB) TaskStore { return &sqliteTaskStore{db: db} }

func (r *sqliteTaskStore) Create(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}

	keepalive, notification, rule, err := marshalConfigs(t)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (id,name,type,schedule,keepalive,notification,rule,enabled,owner,next_run_at,last_run_at,last_status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, t.Name, t.Type, t.Schedule, keepalive, notification, rule, t.Enabled, t.Owner, nullTime(t.NextRunAt), t.LastRunAt, t.LastStatus)
	if isConstraintErr(err) {
		return "", fmt.Errorf("task %s: %w", id, ErrDuplicate)
	}
	return id, err
}

const taskColumns = `id,name,type,schedule,keepalive,notification,rule,enabled,owner,next_run_at,last_run_at,last_status,created_at,updated_at`

func (r *sqliteTaskStore) Get(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (r *sqliteTaskStore) List(ctx context.Context) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
}

func (r *sqliteTaskStore) ListEnabled(ctx context.Context) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE enabled=1 ORDER BY created_at`)
}

func (r *sqliteTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *sqliteTaskStore) Update(ctx context.Context, t domain.Task) error {
	keepalive, notification, rule, err := marshalConfigs(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET name=?,type=?,schedule=?,keepalive=?,notification=?,rule=?,enabled=?,owner=?,next_run_at=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, t.Name, t.Type, t.Schedule, keepalive, notification, rule, t.Enabled, t.Owner, nullTime(t.NextRunAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteTaskStore) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteTaskStore) UpdateExecutionState(ctx context.Context, id string, lastRun time.Time, lastStatus string, nextRun time.Time, rule *domain.RecurrenceRule) error {
	var ruleBlob []byte
	if rule != nil {
		b, err := json.Marshal(rule)
		if err != nil {
			return err
		}
		ruleBlob = b
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET last_run_at=?,last_status=?,next_run_at=?,rule=?,updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		lastRun, lastStatus, nullTime(nextRun), ruleBlob, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

type sqliteLogStore struct{ db *sql.DB }

func NewSQLiteLogStore(db *sql.DB) LogStore { return &sqliteLogStore{db: db} }

func (r *sqliteLogStore) Insert(ctx context.Context, l domain.ExecutionLog) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO execution_logs (id,task_id,task_type,success,status_code,delivery,elapsed_ms,error,details,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, l.ID, l.TaskID, l.TaskType, l.Success, l.StatusCode, l.Delivery, l.ElapsedMs, l.Error, []byte(l.Details), l.CreatedAt)
	if isConstraintErr(err) {
		return fmt.Errorf("log %s: %w", l.ID, ErrDuplicate)
	}
	return err
}

const logColumns = `id,task_id,task_type,success,status_code,delivery,elapsed_ms,error,details,created_at`

func (r *sqliteLogStore) ListByTask(ctx context.Context, taskID string, limit int) ([]domain.ExecutionLog, error) {
	return r.queryLogs(ctx, `SELECT `+logColumns+` FROM execution_logs WHERE task_id=? ORDER BY created_at DESC LIMIT ?`, taskID, limit)
}

func (r *sqliteLogStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionLog, error) {
	return r.queryLogs(ctx, `SELECT `+logColumns+` FROM execution_logs ORDER BY created_at DESC LIMIT ?`, limit)
}

func (r *sqliteLogStore) queryLogs(ctx context.Context, query string, args ...any) ([]domain.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		var l domain.ExecutionLog
		var details []byte
		if err := rows.Scan(&l.ID, &l.TaskID, &l.TaskType, &l.Success, &l.StatusCode, &l.Delivery, &l.ElapsedMs, &l.Error, &details, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Details = json.RawMessage(details)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (r *sqliteLogStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE created_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (domain.Task, error) {
	var (
		t            domain.Task
		keepalive    []byte
		notification []byte
		rule         []byte
		nextRun      sql.NullTime
		lastRun      sql.NullTime
	)
	err := sc.Scan(&t.ID, &t.Name, &t.Type, &t.Schedule, &keepalive, &notification, &rule,
		&t.Enabled, &t.Owner, &nextRun, &lastRun, &t.LastStatus, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	if nextRun.Valid {
		t.NextRunAt = nextRun.Time
	}
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	if len(keepalive) > 0 {
		t.Keepalive = &domain.KeepaliveConfig{}
		if err := json.Unmarshal(keepalive, t.Keepalive); err != nil {
			return domain.Task{}, fmt.Errorf("task %s: decode keepalive config: %w", t.ID, err)
		}
	}
	if len(notification) > 0 {
		t.Notification = &domain.NotificationConfig{}
		if err := json.Unmarshal(notification, t.Notification); err != nil {
			return domain.Task{}, fmt.Errorf("task %s: decode notification config: %w", t.ID, err)
		}
	}
	if len(rule) > 0 {
		t.Rule = &domain.RecurrenceRule{}
		if err := json.Unmarshal(rule, t.Rule); err != nil {
			return domain.Task{}, fmt.Errorf("task %s: decode rule: %w", t.ID, err)
		}
	}
	return t, nil
}

func marshalConfigs(t domain.Task) (keepalive, notification, rule []byte, err error) {
	if t.Keepalive != nil {
		if keepalive, err = json.Marshal(t.Keepalive); err != nil {
			return nil, nil, nil, err
		}
	}
	if t.Notification != nil {
		if notification, err = json.Marshal(t.Notification); err != nil {
			return nil, nil, nil, err
		}
	}
	if t.Rule != nil {
		if rule, err = json.Marshal(t.Rule); err != nil {
			return nil, nil, nil, err
		}
	}
	return keepalive, notification, rule, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isConstraintErr(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
