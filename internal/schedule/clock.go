package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSpec is returned for cron expressions that are not the
// five-field form "minute hour day-of-month month day-of-week".
var ErrInvalidSpec = errors.New("invalid cron spec")

// parser accepts exactly the five standard fields. Descriptors like
// "@hourly" are deliberately not enabled.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a five-field cron expression.
func Parse(spec string) (cron.Schedule, error) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: want 5 fields, got %d", ErrInvalidSpec, len(fields))
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return sched, nil
}

// NextFire returns the next fire time strictly after the given instant.
// Times are computed in the process's local timezone.
func NextFire(spec string, after time.Time) (time.Time, error) {
	sched, err := Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
