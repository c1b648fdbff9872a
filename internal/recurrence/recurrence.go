// Package recurrence decides when tasks are due. Notification tasks follow a
// calendar-interval rule with optional reminder lead and auto-renewal;
// keepalive tasks follow a cron descriptor. Everything here is pure; callers
// persist advanced state themselves.
package recurrence

import (
	"time"

	"github.com/zengdw/app-keep-alive-sub001/internal/domain"
)

// NextDue advances from by the rule's interval. Month and year steps are
// calendar-correct: when the target month is shorter than the source
// day-of-month the result clamps to the last valid day (Jan 31 + 1 month is
// Feb 29 in a leap year, never Mar 2). ok is false when the result would pass
// the rule's end date, meaning the rule is exhausted.
func NextDue(rule domain.RecurrenceRule, from time.Time) (next time.Time, ok bool) {
	next = addInterval(from, rule.Unit, rule.Interval)
	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// ReminderTime is the moment a due occurrence actually fires: the due date
// minus the configured reminder lead. Without advance settings it is the due
// date itself. An empty advance unit counts days.
func ReminderTime(rule domain.RecurrenceRule, due time.Time) time.Time {
	if rule.AdvanceValue <= 0 {
		return due
	}
	if rule.AdvanceUnit == domain.AdvanceHour {
		return due.Add(-time.Duration(rule.AdvanceValue) * time.Hour)
	}
	return due.AddDate(0, 0, -rule.AdvanceValue)
}

// IsDue reports whether the rule should fire at now, honoring reminder lead.
func IsDue(rule domain.RecurrenceRule, now time.Time) bool {
	if rule.Exhausted || rule.NextDue.IsZero() {
		return false
	}
	return !now.Before(ReminderTime(rule, rule.NextDue))
}

// Advance returns the rule state after a firing at now. With auto-renew the
// next due date is recomputed from the previous one, skipping boundaries
// already in the past so that a delayed timer collapses missed occurrences
// into the firing that just happened instead of re-firing once per stale
// boundary. Without auto-renew, or when the next occurrence would pass the
// end date, the rule is exhausted.
func Advance(rule domain.RecurrenceRule, now time.Time) domain.RecurrenceRule {
	out := rule
	if !rule.AutoRenew {
		out.Exhausted = true
		return out
	}
	next, ok := NextDue(rule, rule.NextDue)
	for ok && !next.After(now) {
		next, ok = NextDue(rule, next)
	}
	if !ok {
		out.Exhausted = true
		return out
	}
	out.NextDue = next
	return out
}

// Initialize fills in the derived fields of a freshly created rule: the first
// occurrence is the start date itself.
func Initialize(rule domain.RecurrenceRule) domain.RecurrenceRule {
	out := rule
	if out.Kind == "" {
		out.Kind = domain.KindInterval
	}
	if out.NextDue.IsZero() {
		out.NextDue = out.StartDate
	}
	return out
}

func addInterval(t time.Time, unit domain.RecurrenceUnit, n int) time.Time {
	if n < 1 {
		n = 1
	}
	switch unit {
	case domain.UnitMonth:
		return addMonths(t, n)
	case domain.UnitYear:
		return addMonths(t, 12*n)
	default:
		return t.AddDate(0, 0, n)
	}
}

// addMonths adds n months with the day-of-month clamped to the target month's
// length. time.AddDate normalizes overflow into the following month, which is
// the wrong behavior for renewal dates.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	months := int(m) - 1 + n
	ty, tm := y+months/12, time.Month(months%12+1)
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	// day zero of the following month
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
