package scheduler

import (
	"testing"
	"time"
)

func TestResolveInputsTokens(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	last := time.Date(2024, 1, 14, 6, 0, 0, 0, time.UTC)
	rctx := ResolveContext{Now: now, LastExecution: &last, Location: time.UTC}

	tmpl := map[string]any{
		"startDate": "{{today}}",
		"endDate":   "{{today - 10 days}}",
		"yesterday": "{{yesterday}}",
		"nextWeek":  "{{tomorrow + 1 week}}",
		"asOf":      "{{now + 2 hours}}",
		"since":     "{{lastExecution}}",
		"embedded":  "report for {{today}} only",
		"plain":     "no tokens here",
		"count":     42,
	}

	got := ResolveInputs(tmpl, rctx)

	want := map[string]any{
		"startDate": "2024-01-15",
		"endDate":   "2024-01-05",
		"yesterday": "2024-01-14",
		"nextWeek":  "2024-01-23",
		"asOf":      "2024-01-15T12:30:00Z",
		"since":     "2024-01-14T06:00:00Z",
		"embedded":  "report for 2024-01-15 only",
		"plain":     "no tokens here",
		"count":     42,
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s = %v, want %v", k, got[k], w)
		}
	}
}

func TestResolveInputsLastExecutionFallback(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	got := ResolveInputs(map[string]any{"since": "{{lastExecution}}"}, ResolveContext{Now: now})
	if got["since"] != "2024-01-15T10:30:00Z" {
		t.Fatalf("since = %v, want fallback to now", got["since"])
	}
}

func TestResolveInputsNil(t *testing.T) {
	t.Parallel()
	if got := ResolveInputs(nil, ResolveContext{Now: time.Now()}); got != nil {
		t.Fatalf("expected nil for nil template, got %v", got)
	}
}

func TestResolveInputsMonthOffset(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	got := ResolveInputs(map[string]any{"d": "{{today - 1 month}}"}, ResolveContext{Now: now, Location: time.UTC})
	// AddDate normalizes Feb 31 forward to March 2 in a leap year.
	if got["d"] != "2024-03-02" {
		t.Fatalf("d = %v, want 2024-03-02", got["d"])
	}
}
