package flow

import (
	"time"
)

// ScheduleType selects how a schedule's recurrence is defined.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleMonthly  ScheduleType = "monthly"
)

// IntervalUnit qualifies the interval value of an interval schedule.
type IntervalUnit string

const (
	IntervalMinutes IntervalUnit = "minutes"
	IntervalHours   IntervalUnit = "hours"
	IntervalDays    IntervalUnit = "days"
)

// ExecStatus is the outcome of a single flow execution.
type ExecStatus string

const (
	StatusNone    ExecStatus = "none"
	StatusRunning ExecStatus = "running"
	StatusSuccess ExecStatus = "success"
	StatusFailed  ExecStatus = "failed"
)

// TriggerSource records what started an execution.
type TriggerSource string

const (
	TriggeredManual   TriggerSource = "manual"
	TriggeredSchedule TriggerSource = "schedule"
)

// Flow is a user-owned graph of processing nodes. It is treated as
// immutable for the duration of a single execution.
type Flow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
	Nodes  []Node `json:"nodes"`
	Edges  []Edge `json:"edges"`
}

// Node is a single step in a flow graph. Behavior is resolved externally
// by (Type, Data.FunctionID).
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData holds a node's configuration payload.
type NodeData struct {
	Label      string         `json:"label,omitempty"`
	FunctionID string         `json:"functionId"`
	Config     map[string]any `json:"config,omitempty"`
}

// Edge is a directed dependency between two nodes of the same flow.
// The graph formed by a flow's edges must be acyclic.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Schedule is a persisted recurrence definition attached to a flow.
//
// The scheduler only mutates the runtime-state fields (NextExecutionAt
// and below); the definition fields are owned by external API callers.
type Schedule struct {
	ID     string `json:"id"`
	FlowID string `json:"flowId"`
	UserID string `json:"userId"`

	Type ScheduleType `json:"scheduleType"`

	// Type-specific definition fields.
	CronExpr      string       `json:"cronExpression,omitempty"`
	IntervalValue int          `json:"intervalValue,omitempty"`
	IntervalUnit  IntervalUnit `json:"intervalUnit,omitempty"`
	TimeOfDay     string       `json:"timeOfDay,omitempty"` // "HH:MM"
	DaysOfWeek    []int        `json:"daysOfWeek,omitempty"`
	DayOfMonth    int          `json:"dayOfMonth,omitempty"`

	Timezone  string         `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	Enabled   bool           `json:"enabled"`
	InputData map[string]any `json:"inputData,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`

	// Runtime state, maintained by the scheduler.
	NextExecutionAt     *time.Time `json:"nextExecutionAt,omitempty"`
	LastExecutedAt      *time.Time `json:"lastExecutedAt,omitempty"`
	LastExecutionStatus ExecStatus `json:"lastExecutionStatus,omitempty"`
	ExecutionCount      int        `json:"executionCount"`
	MaxExecutions       int        `json:"maxExecutions,omitempty"` // 0 = unlimited
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	IsRunning           bool       `json:"isCurrentlyRunning"`
	CurrentExecutionID  string     `json:"currentExecutionId,omitempty"`
	PausedReason        string     `json:"pausedReason,omitempty"`
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s *Schedule) Location() *time.Location {
	if s == nil || s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Expired reports whether the schedule's expiry is set and in the past.
func (s *Schedule) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// Execution is the persisted outcome of one run of a flow. It is created
// at the start of a run and finalized exactly once at the end.
type Execution struct {
	ID          string        `json:"id"`
	FlowID      string        `json:"flowId"`
	UserID      string        `json:"userId"`
	TriggeredBy TriggerSource `json:"triggeredBy"`
	ScheduleID  string        `json:"scheduleId,omitempty"`

	Status     ExecStatus `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// NodeResults maps node id -> that node's recorded output. On a failed
	// run it holds the results of nodes completed before the failure.
	NodeResults   map[string]any `json:"nodeResults"`
	Error         string         `json:"error,omitempty"`
	NodesExecuted int            `json:"nodesExecuted"`
	DurationMS    int64          `json:"durationMs"`
}
