package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"* * * * *", false},
		{"0 * * * *", false},
		{"*/5 * * * *", false},
		{"0 9 * * 1-5", false},
		{"@hourly", false},
		{"@daily", false},
		{"", true},
		{"* * *", true},
		{"* * * * * *", true},
		{"60 * * * *", true},
		{"* 25 * * *", true},
		{"* * * 13 *", true},
		{"not a cron", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCron) {
				t.Errorf("ParseCron(%q) error = %v, want ErrInvalidCron", tt.expr, err)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"next minute", "* * * * *", time.Date(2025, 1, 15, 10, 31, 0, 0, time.UTC)},
		{"next hour", "0 * * * *", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"next midnight", "0 0 * * *", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"descriptor", "@daily", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextRun(tt.expr, now)
			if err != nil {
				t.Fatalf("NextRun(%q) error = %v", tt.expr, err)
			}
			if !next.Equal(tt.want) {
				t.Errorf("NextRun(%q) = %v, want %v", tt.expr, next, tt.want)
			}
		})
	}

	if _, err := NextRun("invalid cron", now); err == nil {
		t.Error("NextRun with invalid cron should return error")
	}
}

func TestNextRuns(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	runs, err := NextRuns("*/15 * * * *", now, 3)
	if err != nil {
		t.Fatalf("NextRuns() error = %v", err)
	}
	want := []time.Time{
		time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC),
		time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 15, 11, 15, 0, 0, time.UTC),
	}
	if len(runs) != len(want) {
		t.Fatalf("NextRuns() returned %d times, want %d", len(runs), len(want))
	}
	for i := range want {
		if !runs[i].Equal(want[i]) {
			t.Errorf("NextRuns()[%d] = %v, want %v", i, runs[i], want[i])
		}
	}
}
