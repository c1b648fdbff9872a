package recurrence

import (
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCron checks a keepalive schedule descriptor. Standard five-field
// expressions and the @every / @hourly descriptors are accepted.
func ValidateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextCronRun computes the next fire time of a schedule descriptor strictly
// after from.
func NextCronRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
