package scheduler

import (
	"context"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/engine"
	"github.com/Leo-Lynt/flow-api/internal/flow"
)

// Config controls the scheduler service.
type Config struct {
	Enabled bool

	// Timezone is the default IANA TZ for schedules that do not carry
	// their own, e.g. "Asia/Jakarta". Empty means UTC.
	Timezone string

	// MaxConsecutiveFailures is the auto-disable threshold. Defaults to 3.
	MaxConsecutiveFailures int
}

// FlowRunner runs one flow to completion. Satisfied by engine.Executor.
type FlowRunner interface {
	Execute(ctx context.Context, req engine.RunRequest) (*flow.Execution, error)
}

// TriggerInfo describes one live trigger registration.
type TriggerInfo struct {
	ScheduleID string
	Spec       string
	Next       time.Time
}

// Snapshot is a read-only view of the scheduler's live triggers.
type Snapshot struct {
	Registered int
	Triggers   []TriggerInfo
}
