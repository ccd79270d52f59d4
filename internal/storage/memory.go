package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Leo-Lynt/flow-api/internal/flow"
)

// MemStore is an in-process Store used by tests and throwaway runs.
// Values are copied on the way in and out so callers never share
// mutable state with the store.
type MemStore struct {
	mu         sync.RWMutex
	flows      map[string]*flow.Flow
	schedules  map[string]*flow.Schedule
	executions map[string]*flow.Execution
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemStore {
	return &MemStore{
		flows:      map[string]*flow.Flow{},
		schedules:  map[string]*flow.Schedule{},
		executions: map[string]*flow.Execution{},
	}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) ListDueSchedules(_ context.Context, now time.Time) ([]*flow.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*flow.Schedule
	for _, sc := range s.schedules {
		if sc.Enabled && !sc.Expired(now) {
			out = append(out, copySchedule(sc))
		}
	}
	return out, nil
}

func (s *MemStore) GetSchedule(_ context.Context, id string) (*flow.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySchedule(sc), nil
}

func (s *MemStore) SaveSchedule(_ context.Context, sc *flow.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = copySchedule(sc)
	return nil
}

func (s *MemStore) UpdateScheduleState(_ context.Context, sc *flow.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[sc.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Enabled = sc.Enabled
	cur.NextExecutionAt = copyTime(sc.NextExecutionAt)
	cur.LastExecutedAt = copyTime(sc.LastExecutedAt)
	cur.LastExecutionStatus = sc.LastExecutionStatus
	cur.ExecutionCount = sc.ExecutionCount
	cur.ConsecutiveFailures = sc.ConsecutiveFailures
	cur.IsRunning = sc.IsRunning
	cur.CurrentExecutionID = sc.CurrentExecutionID
	cur.PausedReason = sc.PausedReason
	return nil
}

func (s *MemStore) GetFlow(_ context.Context, id string) (*flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	cp.Nodes = append([]flow.Node(nil), f.Nodes...)
	cp.Edges = append([]flow.Edge(nil), f.Edges...)
	return &cp, nil
}

func (s *MemStore) SaveFlow(_ context.Context, f *flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	cp.Nodes = append([]flow.Node(nil), f.Nodes...)
	cp.Edges = append([]flow.Edge(nil), f.Edges...)
	s.flows[f.ID] = &cp
	return nil
}

func (s *MemStore) CreateExecution(_ context.Context, e *flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *MemStore) FinishExecution(_ context.Context, e *flow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

// ExecutionCount reports how many execution records exist. Test helper.
func (s *MemStore) ExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

func copySchedule(sc *flow.Schedule) *flow.Schedule {
	cp := *sc
	cp.DaysOfWeek = append([]int(nil), sc.DaysOfWeek...)
	if sc.InputData != nil {
		m := make(map[string]any, len(sc.InputData))
		for k, v := range sc.InputData {
			m[k] = v
		}
		cp.InputData = m
	}
	cp.ExpiresAt = copyTime(sc.ExpiresAt)
	cp.NextExecutionAt = copyTime(sc.NextExecutionAt)
	cp.LastExecutedAt = copyTime(sc.LastExecutedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
