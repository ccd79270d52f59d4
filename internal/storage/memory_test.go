package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

func TestMemStoreScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if _, err := s.GetSchedule(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sched := &flow.Schedule{
		ID:            "s1",
		FlowID:        "f1",
		Type:          flow.ScheduleInterval,
		IntervalValue: 5,
		IntervalUnit:  flow.IntervalMinutes,
		Enabled:       true,
		InputData:     map[string]any{"date": "{{today}}"},
	}
	if err := s.SaveSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	// Copies, not aliases: mutating the returned value must not leak back.
	got.ExecutionCount = 99
	got.InputData["date"] = "mutated"

	again, err := s.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ExecutionCount != 0 {
		t.Errorf("stored ExecutionCount mutated to %d", again.ExecutionCount)
	}
	if again.InputData["date"] != "{{today}}" {
		t.Errorf("stored InputData mutated to %v", again.InputData["date"])
	}
}

func TestMemStoreUpdateScheduleStateTouchesRuntimeOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	sched := &flow.Schedule{ID: "s1", Type: flow.ScheduleDaily, TimeOfDay: "09:00", Enabled: true}
	if err := s.SaveSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	upd := *sched
	upd.TimeOfDay = "23:59" // definition edit must not be persisted by state updates
	upd.ExecutionCount = 3
	upd.LastExecutedAt = &now
	upd.LastExecutionStatus = flow.StatusSuccess
	if err := s.UpdateScheduleState(ctx, &upd); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSchedule(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TimeOfDay != "09:00" {
		t.Errorf("definition field changed by state update: %q", got.TimeOfDay)
	}
	if got.ExecutionCount != 3 || got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(now) {
		t.Errorf("runtime state not persisted: %+v", got)
	}

	if err := s.UpdateScheduleState(ctx, &flow.Schedule{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown schedule, got %v", err)
	}
}

func TestMemStoreListDueSchedules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	now := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	for _, sc := range []*flow.Schedule{
		{ID: "live", Enabled: true},
		{ID: "off", Enabled: false},
		{ID: "expired", Enabled: true, ExpiresAt: &past},
	} {
		if err := s.SaveSchedule(ctx, sc); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.ListDueSchedules(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "live" {
		t.Fatalf("due = %v, want only the enabled unexpired schedule", due)
	}
}

func TestMemStoreExecutions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	e := &flow.Execution{ID: "e1", FlowID: "f1", Status: flow.StatusRunning, StartedAt: time.Now()}
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.Status = flow.StatusSuccess
	if err := s.FinishExecution(ctx, e); err != nil {
		t.Fatal(err)
	}
	if n := s.ExecutionCount(); n != 1 {
		t.Fatalf("ExecutionCount = %d, want 1", n)
	}
}
