package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/Leo-Lynt/flow-api/internal/engine"
	"github.com/Leo-Lynt/flow-api/internal/eventbus"
	"github.com/Leo-Lynt/flow-api/internal/flow"
	"github.com/Leo-Lynt/flow-api/internal/storage"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

const maxExecutionsReason = "Max executions reached"

// fire handles one trigger firing for a schedule. Nothing may escape
// uncaught: every path ends with the schedule's persisted state
// consistent, either untouched (skips) or updated with the run's
// outcome.
//
// The trigger outlives any single config of the schedule, so state is
// always re-read fresh from the store rather than captured at
// registration time.
func (s *Service) fire(scheduleID string) {
	// Firings run to completion even during shutdown; cancellation of
	// an in-flight run is cooperative, not preemptive.
	ctx := context.Background()
	log := s.log.With(logx.String("schedule", scheduleID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in schedule firing",
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("schedule vanished, skipping firing")
		return
	}
	if err != nil {
		log.Error("read schedule", logx.Err(err))
		return
	}
	if !sched.Enabled {
		log.Debug("schedule disabled, skipping firing")
		return
	}
	if sched.Expired(s.now()) {
		log.Info("schedule expired, removing trigger")
		s.UnregisterSchedule(scheduleID)
		return
	}

	fl, err := s.store.GetFlow(ctx, sched.FlowID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("flow vanished, skipping firing", logx.String("flow", sched.FlowID))
		return
	}
	if err != nil {
		log.Error("read flow", logx.Err(err))
		return
	}

	// Concurrency guard: a firing that overlaps an in-flight run is a
	// deliberate no-op. No counters move, no Execution is created.
	if sched.IsRunning {
		if s.skipAllowed(scheduleID) {
			log.Warn("previous run still in flight, skipping firing")
		} else {
			log.Debug("previous run still in flight, skipping firing")
		}
		return
	}

	// Mark running and persist immediately, with the execution id the run
	// will carry, so a stuck schedule names the execution holding it.
	execID := uuid.NewString()
	sched.IsRunning = true
	sched.CurrentExecutionID = execID
	if err := s.store.UpdateScheduleState(ctx, sched); err != nil {
		log.Error("mark schedule running", logx.Err(err))
		return
	}
	log = log.With(logx.String("execution", execID))

	rctx := ResolveContext{
		Now:           s.now(),
		LastExecution: sched.LastExecutedAt,
		Location:      s.location(sched),
	}
	inputs := ResolveInputs(sched.InputData, rctx)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFired, Data: scheduleID})
	}

	runErr := s.runFlow(ctx, fl, inputs, sched, execID, log)

	now := s.now()
	sched.LastExecutedAt = &now
	sched.IsRunning = false
	sched.CurrentExecutionID = ""

	if runErr == nil {
		s.recordSuccess(sched, now, log)
	} else {
		s.recordFailure(sched, now, runErr, log)
	}

	if err := s.store.UpdateScheduleState(ctx, sched); err != nil {
		log.Error("persist schedule outcome", logx.Err(err))
	}
}

// runFlow invokes the runner, containing panics. A panic escaping the
// run (a node method blowing up, or the runner itself) becomes an
// ordinary execution failure, so the outcome bookkeeping above still
// runs: the running flag clears, the failure counts toward the
// auto-disable budget, and the schedule state persists.
func (s *Service) runFlow(ctx context.Context, fl *flow.Flow, inputs map[string]any, sched *flow.Schedule, execID string, log logx.Logger) (runErr error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in flow execution",
				logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			runErr = fmt.Errorf("panic in flow execution: %v", r)
		}
	}()
	_, runErr = s.runner.Execute(ctx, engine.RunRequest{
		Flow:        fl,
		ExecutionID: execID,
		Inputs:      inputs,
		UserID:      sched.UserID,
		TriggeredBy: flow.TriggeredSchedule,
		ScheduleID:  sched.ID,
	})
	return runErr
}

func (s *Service) recordSuccess(sched *flow.Schedule, now time.Time, log logx.Logger) {
	sched.ExecutionCount++
	sched.LastExecutionStatus = flow.StatusSuccess
	sched.ConsecutiveFailures = 0

	if sched.MaxExecutions > 0 && sched.ExecutionCount >= sched.MaxExecutions {
		s.disable(sched, maxExecutionsReason, log)
		return
	}

	s.reschedule(sched, now, log)
	log.Info("scheduled run succeeded", logx.Int("executions", sched.ExecutionCount))
}

func (s *Service) recordFailure(sched *flow.Schedule, now time.Time, runErr error, log logx.Logger) {
	sched.LastExecutionStatus = flow.StatusFailed

	// A cyclic graph is a configuration defect, not a transient fault;
	// it does not burn down the failure budget.
	if !errors.Is(runErr, engine.ErrCyclicGraph) {
		sched.ConsecutiveFailures++
	}

	log.Warn("scheduled run failed",
		logx.Int("consecutiveFailures", sched.ConsecutiveFailures), logx.Err(runErr))

	if sched.ConsecutiveFailures >= s.maxFailures() {
		s.disable(sched, runErr.Error(), log)
		return
	}

	// Retry at the next natural occurrence; the cadence is unchanged.
	s.reschedule(sched, now, log)
}

func (s *Service) disable(sched *flow.Schedule, reason string, log logx.Logger) {
	sched.Enabled = false
	sched.PausedReason = reason
	sched.NextExecutionAt = nil
	s.UnregisterSchedule(sched.ID)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleDisabled, Data: sched.ID})
	}
	log.Warn("schedule auto-disabled", logx.String("reason", reason))
}

func (s *Service) reschedule(sched *flow.Schedule, now time.Time, log logx.Logger) {
	next, err := s.nextExecution(sched, now)
	if err != nil {
		log.Error("recompute next execution", logx.Err(err))
		return
	}
	sched.NextExecutionAt = &next
}

func (s *Service) maxFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxConsecutiveFailures
}
