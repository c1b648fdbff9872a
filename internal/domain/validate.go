package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Field bounds enforced on ExecutionLog records before persistence.
const (
	MaxElapsedMs  = 300000
	MaxErrorLen   = 1000
	MaxDetailsLen = 10000
)

// MaxRuleInterval caps recurrence intervals so date arithmetic stays inside
// time.Time's representable range.
const MaxRuleInterval = 1000

// ValidationError reports a malformed task or log field. Records failing
// validation are rejected outright, never truncated into shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks structural integrity: the configuration union must match the
// task type exactly. Cron expressions are validated separately at the API
// boundary where the parser lives.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return invalid("name", "required")
	}
	switch t.Type {
	case TypeKeepalive:
		if t.Keepalive == nil {
			return invalid("keepalive", "required for keepalive tasks")
		}
		if t.Notification != nil || t.Rule != nil {
			return invalid("type", "keepalive task carries notification settings")
		}
		if strings.TrimSpace(t.Schedule) == "" {
			return invalid("schedule", "required for keepalive tasks")
		}
		return t.Keepalive.validate()
	case TypeNotification:
		if t.Notification == nil {
			return invalid("notification", "required for notification tasks")
		}
		if t.Keepalive != nil || t.Schedule != "" {
			return invalid("type", "notification task carries keepalive settings")
		}
		if t.Rule == nil {
			return invalid("rule", "required for notification tasks")
		}
		if err := t.Rule.Validate(); err != nil {
			return err
		}
		return t.Notification.validate()
	default:
		return invalid("type", fmt.Sprintf("unknown task type %q", t.Type))
	}
}

func (c *KeepaliveConfig) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return invalid("keepalive.url", "required")
	}
	if c.TimeoutMs < 0 || c.TimeoutMs > MaxElapsedMs {
		return invalid("keepalive.timeout_ms", fmt.Sprintf("must be within 0..%d", MaxElapsedMs))
	}
	return nil
}

func (c *NotificationConfig) validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return invalid("notification.message", "required")
	}
	if len(c.Channels) == 0 {
		return invalid("notification.channels", "at least one channel required")
	}
	for i := range c.Channels {
		if err := c.Channels[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChannelConfig) Validate() error {
	switch c.Type {
	case ChannelWebhook:
		if strings.TrimSpace(c.URL) == "" {
			return invalid("channel.url", "required for webhook channels")
		}
	case ChannelEmail:
		if strings.TrimSpace(c.To) == "" {
			return invalid("channel.to", "required for email channels")
		}
	case ChannelTelegram:
		if c.ChatID == 0 {
			return invalid("channel.chat_id", "required for telegram channels")
		}
	default:
		return invalid("channel.type", fmt.Sprintf("unknown channel type %q", c.Type))
	}
	return nil
}

func (r *RecurrenceRule) Validate() error {
	if r.Kind != "" && r.Kind != KindInterval {
		return invalid("rule.kind", fmt.Sprintf("unknown kind %q", r.Kind))
	}
	switch r.Unit {
	case UnitDay, UnitMonth, UnitYear:
	default:
		return invalid("rule.unit", fmt.Sprintf("unknown unit %q", r.Unit))
	}
	if r.Interval < 1 || r.Interval > MaxRuleInterval {
		return invalid("rule.interval", fmt.Sprintf("must be within 1..%d", MaxRuleInterval))
	}
	if r.StartDate.IsZero() {
		return invalid("rule.start_date", "required")
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return invalid("rule.end_date", "must not precede start_date")
	}
	if r.AdvanceValue < 0 {
		return invalid("rule.advance_value", "must be >= 0")
	}
	switch r.AdvanceUnit {
	case "", AdvanceDay, AdvanceHour:
	default:
		return invalid("rule.advance_unit", fmt.Sprintf("unknown unit %q", r.AdvanceUnit))
	}
	return nil
}

// Validate applies the field bounds a log record must satisfy before it is
// persisted. StatusCode 0 means absent (notification logs, connection-level
// keepalive failures).
func (l *ExecutionLog) Validate() error {
	if strings.TrimSpace(l.TaskID) == "" {
		return invalid("log.task_id", "required")
	}
	switch l.TaskType {
	case TypeKeepalive, TypeNotification:
	default:
		return invalid("log.task_type", fmt.Sprintf("unknown task type %q", l.TaskType))
	}
	if l.ElapsedMs < 0 || l.ElapsedMs > MaxElapsedMs {
		return invalid("log.elapsed_ms", fmt.Sprintf("must be within 0..%d", MaxElapsedMs))
	}
	if l.StatusCode != 0 && (l.StatusCode < 100 || l.StatusCode > 599) {
		return invalid("log.status_code", "must be within 100..599")
	}
	if len(l.Error) > MaxErrorLen {
		return invalid("log.error", fmt.Sprintf("exceeds %d characters", MaxErrorLen))
	}
	if len(l.Details) > 0 {
		if len(l.Details) > MaxDetailsLen {
			return invalid("log.details", fmt.Sprintf("exceeds %d bytes", MaxDetailsLen))
		}
		if !json.Valid(l.Details) {
			return invalid("log.details", "not well-formed JSON")
		}
	}
	return nil
}
