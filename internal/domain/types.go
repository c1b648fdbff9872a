package domain

import (
	"encoding/json"
	"time"
)

type TaskType string

const (
	TypeKeepalive    TaskType = "keepalive"
	TypeNotification TaskType = "notification"
)

// Task execution statuses persisted in last_status.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Task is a user-defined recurring job: either a keepalive HTTP check driven by
// a cron schedule, or a reminder notification driven by a recurrence rule.
// Exactly one of Keepalive/Notification is set, matching Type.
type Task struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         TaskType            `json:"type"`
	Schedule     string              `json:"schedule,omitempty"` // cron expression, keepalive only
	Rule         *RecurrenceRule     `json:"rule,omitempty"`     // notification only
	Keepalive    *KeepaliveConfig    `json:"keepalive,omitempty"`
	Notification *NotificationConfig `json:"notification,omitempty"`
	Enabled      bool                `json:"enabled"`
	Owner        string              `json:"owner,omitempty"`
	NextRunAt    time.Time           `json:"next_run_at,omitempty"` // keepalive due marker
	LastRunAt    *time.Time          `json:"last_run_at,omitempty"`
	LastStatus   string              `json:"last_status,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type KeepaliveConfig struct {
	URL       string            `json:"url"`
	Method    string            `json:"method,omitempty"` // default GET
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"` // default 30000
}

type NotificationConfig struct {
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Channels []ChannelConfig `json:"channels"`
}

// ChannelConfig selects a delivery channel plus its per-task settings.
type ChannelConfig struct {
	Type    string            `json:"type"` // webhook|email|telegram
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	To      string            `json:"to,omitempty"`
	Subject string            `json:"subject,omitempty"`
	ChatID  int64             `json:"chat_id,omitempty"`
}

const (
	ChannelWebhook  = "webhook"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

type RecurrenceUnit string

const (
	UnitDay   RecurrenceUnit = "day"
	UnitMonth RecurrenceUnit = "month"
	UnitYear  RecurrenceUnit = "year"
)

type AdvanceUnit string

const (
	AdvanceDay  AdvanceUnit = "day"
	AdvanceHour AdvanceUnit = "hour"
)

const KindInterval = "interval"

// RecurrenceRule produces the due dates of a notification task. NextDue is
// derived state: always >= StartDate and monotone across renewals. A rule past
// its EndDate is exhausted and never fires again; re-enabling a task with a
// fresh rule starts over.
type RecurrenceRule struct {
	Kind         string         `json:"kind"` // always "interval"
	Unit         RecurrenceUnit `json:"unit"`
	Interval     int            `json:"interval"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      *time.Time     `json:"end_date,omitempty"`
	AdvanceValue int            `json:"advance_value,omitempty"` // reminder lead, 0 = remind at due time
	AdvanceUnit  AdvanceUnit    `json:"advance_unit,omitempty"`
	AutoRenew    bool           `json:"auto_renew"`
	NextDue      time.Time      `json:"next_due"`
	Exhausted    bool           `json:"exhausted,omitempty"`
}

// ExecutionResult is the transient outcome of one execution attempt.
type ExecutionResult struct {
	Success    bool
	ElapsedMs  int64
	StatusCode int    // keepalive only
	Delivery   string // notification only: delivered|partial|failed
	Error      string
	Details    json.RawMessage
}

const (
	DeliveryDelivered = "delivered"
	DeliveryPartial   = "partial"
	DeliveryFailed    = "failed"
)

// ExecutionLog is the durable, append-only record of one execution. Logs are
// never mutated after insert; a second insert with the same ID is rejected.
type ExecutionLog struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	TaskType   TaskType        `json:"task_type"`
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code,omitempty"`
	Delivery   string          `json:"delivery,omitempty"`
	ElapsedMs  int64           `json:"elapsed_ms"`
	Error      string          `json:"error,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BatchReport aggregates one orchestrator invocation. Success is false only
// when the orchestration itself failed; individual task failures land in
// Errors without flipping it.
type BatchReport struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Errors    []string `json:"errors,omitempty"`
}
