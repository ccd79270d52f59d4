package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/Leo-Lynt/flow-api/internal/eventbus"
	"github.com/Leo-Lynt/flow-api/internal/flow"
	"github.com/Leo-Lynt/flow-api/internal/storage"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// Service owns every live trigger, keyed by schedule id. It turns
// persisted schedule definitions into cron registrations and handles
// their firings: concurrency guard, dynamic input resolution, flow
// execution, counters and the failure/auto-disable policy.
//
// One Service instance is the single scheduler owner; the persisted
// isCurrentlyRunning flag is advisory and only correct under that
// assumption.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  storage.Store
	runner FlowRunner
	bus    eventbus.Bus

	c       *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]string

	initialized bool
	started     bool

	// Throttles repeated overlap-skip warnings per schedule.
	warnMu   sync.Mutex
	skipWarn map[string]*rate.Limiter

	nowFn func() time.Time
}

func New(cfg Config, store storage.Store, runner FlowRunner, bus eventbus.Bus, log logx.Logger) *Service {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		cfg:      cfg,
		store:    store,
		runner:   runner,
		bus:      bus,
		c:        cron.New(cron.WithParser(specParser)),
		entries:  map[string]cron.EntryID{},
		specs:    map[string]string{},
		skipWarn: map[string]*rate.Limiter{},
		nowFn:    time.Now,
	}
}

func (s *Service) now() time.Time { return s.nowFn() }

// Initialize loads every enabled, non-expired schedule with a resolvable
// flow and registers it, then starts the trigger clock. Idempotent: a
// second call is a no-op.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	scheds, err := s.store.ListDueSchedules(ctx, s.now())
	if err != nil {
		s.mu.Lock()
		s.initialized = false
		s.mu.Unlock()
		return fmt.Errorf("list schedules: %w", err)
	}

	registered := 0
	for _, sched := range scheds {
		log := s.log.With(logx.String("schedule", sched.ID))
		if _, err := s.store.GetFlow(ctx, sched.FlowID); err != nil {
			log.Warn("skipping schedule, flow not resolvable",
				logx.String("flow", sched.FlowID), logx.Err(err))
			continue
		}
		// A fresh process cannot have an in-flight run; clear a stale
		// running flag left behind by a previous lifetime.
		if sched.IsRunning {
			sched.IsRunning = false
			sched.CurrentExecutionID = ""
			if err := s.store.UpdateScheduleState(ctx, sched); err != nil {
				log.Warn("clear stale running flag", logx.Err(err))
			}
		}
		if err := s.RegisterSchedule(ctx, sched); err != nil {
			log.Warn("skipping schedule, registration failed", logx.Err(err))
			continue
		}
		registered++
	}

	s.mu.Lock()
	s.c.Start()
	s.started = true
	s.mu.Unlock()

	s.log.Info("scheduler initialized",
		logx.Int("schedules", registered),
		logx.String("tz", s.defaultTimezone()),
	)
	return nil
}

// Stop halts the trigger clock. In-flight firings run to completion
// (bounded by ctx); future firings stop.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// remaining firings finish in the background
	}
	s.log.Info("scheduler stopped")
}

// RegisterSchedule creates the live trigger for a schedule. If one
// already exists for this schedule id it is replaced, never duplicated.
// Seeds NextExecutionAt when unset.
func (s *Service) RegisterSchedule(ctx context.Context, sched *flow.Schedule) error {
	spec, err := TriggerSpec(sched)
	if err != nil {
		return err
	}

	if sched.NextExecutionAt == nil {
		next, err := s.nextExecution(sched, s.now())
		if err != nil {
			return err
		}
		sched.NextExecutionAt = &next
		if err := s.store.UpdateScheduleState(ctx, sched); err != nil {
			return fmt.Errorf("seed next execution: %w", err)
		}
	}

	entrySpec := spec
	if tz := s.timezone(sched); tz != "" && !hasTZPrefix(spec) {
		entrySpec = "CRON_TZ=" + tz + " " + spec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if eid, ok := s.entries[sched.ID]; ok {
		s.c.Remove(eid)
		delete(s.entries, sched.ID)
		delete(s.specs, sched.ID)
	}

	id := sched.ID
	eid, err := s.c.AddFunc(entrySpec, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("register trigger %q: %w", entrySpec, err)
	}
	s.entries[sched.ID] = eid
	s.specs[sched.ID] = spec

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleRegistered, Data: sched.ID})
	}
	s.log.Debug("schedule registered",
		logx.String("schedule", sched.ID), logx.String("spec", entrySpec))
	return nil
}

// UnregisterSchedule stops and discards the trigger for a schedule id.
// No error if absent.
func (s *Service) UnregisterSchedule(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(scheduleID)
}

func (s *Service) unregisterLocked(scheduleID string) {
	eid, ok := s.entries[scheduleID]
	if !ok {
		return
	}
	s.c.Remove(eid)
	delete(s.entries, scheduleID)
	delete(s.specs, scheduleID)
	s.log.Debug("schedule unregistered", logx.String("schedule", scheduleID))
}

// ReloadSchedule re-reads a schedule after an external edit and brings
// its live registration in line: registered when enabled, gone when
// disabled or deleted.
func (s *Service) ReloadSchedule(ctx context.Context, scheduleID string) error {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.UnregisterSchedule(scheduleID)
			return nil
		}
		return err
	}
	if !sched.Enabled || sched.Expired(s.now()) {
		s.UnregisterSchedule(scheduleID)
		return nil
	}
	return s.RegisterSchedule(ctx, sched)
}

// Stats returns the currently-live triggers. Read-only.
func (s *Service) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Registered: len(s.entries)}
	for id, eid := range s.entries {
		snap.Triggers = append(snap.Triggers, TriggerInfo{
			ScheduleID: id,
			Spec:       s.specs[id],
			Next:       s.c.Entry(eid).Next,
		})
	}
	sort.Slice(snap.Triggers, func(i, j int) bool {
		return snap.Triggers[i].ScheduleID < snap.Triggers[j].ScheduleID
	})
	return snap
}

// Apply updates the service config. A default-timezone change re-reads
// and re-registers every live schedule so entry timezones follow.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}

	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	var ids []string
	if oldTZ != newTZ {
		for id := range s.entries {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.ReloadSchedule(ctx, id); err != nil {
			s.log.Warn("reapply schedule after timezone change",
				logx.String("schedule", id), logx.Err(err))
		}
	}
}

func (s *Service) timezone(sched *flow.Schedule) string {
	if tz := strings.TrimSpace(sched.Timezone); tz != "" {
		return tz
	}
	return s.defaultTimezone()
}

// location resolves the effective timezone (schedule TZ, then the
// scheduler default, then UTC) as a *time.Location. The same fallback
// chain backs the trigger's CRON_TZ prefix.
func (s *Service) location(sched *flow.Schedule) *time.Location {
	loc, err := time.LoadLocation(s.timezone(sched))
	if err != nil {
		return time.UTC
	}
	return loc
}

// nextExecution computes the schedule's next run in its effective
// timezone, matching the live trigger.
func (s *Service) nextExecution(sched *flow.Schedule, now time.Time) (time.Time, error) {
	return NextExecution(sched, now, s.location(sched))
}

func (s *Service) defaultTimezone() string {
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		return tz
	}
	return "UTC"
}

func hasTZPrefix(spec string) bool {
	return strings.HasPrefix(spec, "TZ=") || strings.HasPrefix(spec, "CRON_TZ=")
}

// skipAllowed rate-limits overlap-skip warnings to one per minute per
// schedule so a hot schedule cannot flood the log.
func (s *Service) skipAllowed(scheduleID string) bool {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	lim, ok := s.skipWarn[scheduleID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute), 1)
		s.skipWarn[scheduleID] = lim
	}
	return lim.Allow()
}
