package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

// ErrNotFound is returned when a flow, schedule or execution does not exist.
var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
//   - "memory": in-process store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string        // sqlite file path
	DSN         string        // postgres connection string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the scheduler and the executor.
//
// UpdateScheduleState writes only the runtime-state fields of a schedule;
// the definition fields are owned by external API callers through
// SaveSchedule.
type Store interface {
	ListDueSchedules(ctx context.Context, now time.Time) ([]*flow.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*flow.Schedule, error)
	SaveSchedule(ctx context.Context, s *flow.Schedule) error
	UpdateScheduleState(ctx context.Context, s *flow.Schedule) error

	GetFlow(ctx context.Context, id string) (*flow.Flow, error)
	SaveFlow(ctx context.Context, f *flow.Flow) error

	CreateExecution(ctx context.Context, e *flow.Execution) error
	FinishExecution(ctx context.Context, e *flow.Execution) error

	Close() error
}
