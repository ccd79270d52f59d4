package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

func TestTriggerSpecVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		sched flow.Schedule
		want  string
	}{
		{
			name:  "raw cron passthrough",
			sched: flow.Schedule{Type: flow.ScheduleCron, CronExpr: "0 6 * * *"},
			want:  "0 6 * * *",
		},
		{
			name:  "interval minutes",
			sched: flow.Schedule{Type: flow.ScheduleInterval, IntervalValue: 15, IntervalUnit: flow.IntervalMinutes},
			want:  "*/15 * * * *",
		},
		{
			name:  "interval hours",
			sched: flow.Schedule{Type: flow.ScheduleInterval, IntervalValue: 6, IntervalUnit: flow.IntervalHours},
			want:  "0 */6 * * *",
		},
		{
			name:  "interval days",
			sched: flow.Schedule{Type: flow.ScheduleInterval, IntervalValue: 2, IntervalUnit: flow.IntervalDays},
			want:  "0 0 */2 * *",
		},
		{
			name:  "daily",
			sched: flow.Schedule{Type: flow.ScheduleDaily, TimeOfDay: "14:45"},
			want:  "45 14 * * *",
		},
		{
			name:  "weekly",
			sched: flow.Schedule{Type: flow.ScheduleWeekly, TimeOfDay: "09:30", DaysOfWeek: []int{1, 3, 5}},
			want:  "30 9 * * 1,3,5",
		},
		{
			name:  "monthly",
			sched: flow.Schedule{Type: flow.ScheduleMonthly, TimeOfDay: "00:05", DayOfMonth: 1},
			want:  "5 0 1 * *",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := TriggerSpec(&tt.sched)
			if err != nil {
				t.Fatalf("TriggerSpec error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("TriggerSpec = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTriggerSpecInvalid(t *testing.T) {
	t.Parallel()

	_, err := TriggerSpec(&flow.Schedule{Type: "hourly"})
	if !errors.Is(err, ErrUnknownScheduleType) {
		t.Fatalf("expected ErrUnknownScheduleType, got %v", err)
	}

	_, err = TriggerSpec(&flow.Schedule{Type: flow.ScheduleInterval, IntervalValue: 5, IntervalUnit: "fortnights"})
	if !errors.Is(err, ErrUnknownIntervalUnit) {
		t.Fatalf("expected ErrUnknownIntervalUnit, got %v", err)
	}

	if _, err := TriggerSpec(&flow.Schedule{Type: flow.ScheduleDaily, TimeOfDay: "24:00"}); err == nil {
		t.Fatal("expected error for invalid hour")
	}
	if _, err := TriggerSpec(&flow.Schedule{Type: flow.ScheduleWeekly, TimeOfDay: "09:00"}); err == nil {
		t.Fatal("expected error for weekly without weekdays")
	}
	if _, err := TriggerSpec(&flow.Schedule{Type: flow.ScheduleMonthly, TimeOfDay: "09:00", DayOfMonth: 32}); err == nil {
		t.Fatal("expected error for day of month out of range")
	}
}

func TestNextExecution(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	sched := &flow.Schedule{Type: flow.ScheduleDaily, TimeOfDay: "09:30"}
	next, err := NextExecution(sched, now, nil)
	if err != nil {
		t.Fatalf("NextExecution error: %v", err)
	}
	want := time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Deterministic for identical inputs.
	again, err := NextExecution(sched, now, nil)
	if err != nil {
		t.Fatalf("NextExecution error: %v", err)
	}
	if !again.Equal(next) {
		t.Fatalf("NextExecution not deterministic: %v vs %v", again, next)
	}
}

func TestNextExecutionHonorsTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta") // UTC+7, no DST
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	now := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC) // 08:00 in Jakarta
	sched := &flow.Schedule{Type: flow.ScheduleDaily, TimeOfDay: "09:30", Timezone: "Asia/Jakarta"}
	next, err := NextExecution(sched, now, nil)
	if err != nil {
		t.Fatalf("NextExecution error: %v", err)
	}
	want := time.Date(2024, 1, 15, 9, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextExecutionExplicitLocationWins(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// The schedule carries no timezone of its own; the caller-resolved
	// location must drive the computation instead of the UTC fallback.
	now := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	sched := &flow.Schedule{Type: flow.ScheduleDaily, TimeOfDay: "09:30"}
	next, err := NextExecution(sched, now, loc)
	if err != nil {
		t.Fatalf("NextExecution error: %v", err)
	}
	want := time.Date(2024, 1, 15, 9, 30, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
