package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field cron (minute hour day month weekday)
// and descriptors such as @hourly
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates and parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return sched, nil
}

// NextRun calculates the next run time after the given time
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// NextRuns returns the next n run times after the given time
func NextRuns(expr string, after time.Time, n int) ([]time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	t := after
	for range n {
		t = sched.Next(t)
		runs = append(runs, t)
	}
	return runs, nil
}

// ValidateCron checks if a cron expression is valid
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}
