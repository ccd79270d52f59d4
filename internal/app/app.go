package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/Leo-Lynt/flow-api/internal/config"
	"github.com/Leo-Lynt/flow-api/internal/engine"
	"github.com/Leo-Lynt/flow-api/internal/eventbus"
	"github.com/Leo-Lynt/flow-api/internal/flow"
	"github.com/Leo-Lynt/flow-api/internal/scheduler"
	"github.com/Leo-Lynt/flow-api/internal/storage"
	logx "github.com/Leo-Lynt/flow-api/pkg/logx"
)

// App wires the process together: config, logging, storage, the method
// registry, the flow executor and the scheduler. It owns their
// lifecycles so tests can construct independent instances.
type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus      eventbus.Bus
	store    storage.Store
	registry *engine.MapRegistry
	exec     *engine.Executor
	sched    *scheduler.Service

	cancelBg context.CancelFunc
	bg       sync.WaitGroup
	cfgSub   chan *config.Config
	busUnsub func()
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()
	registry := engine.NewRegistry()
	exec := engine.NewExecutor(store, registry, bus, log.With(logx.String("comp", "engine")))
	sched := scheduler.New(schedCfg(cfg), store, exec, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		bus:      bus,
		store:    store,
		registry: registry,
		exec:     exec,
		sched:    sched,
	}, nil
}

func (a *App) Registry() *engine.MapRegistry { return a.registry }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Logger() logx.Logger           { return a.log }

// Start seeds the store if configured, brings the scheduler up, and
// launches the config-watch and event-log loops.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	if cfg.Seed != "" {
		if err := a.seed(ctx, cfg.Seed); err != nil {
			return fmt.Errorf("seed store: %w", err)
		}
	}

	if cfg.Scheduler.Enabled {
		if err := a.sched.Initialize(ctx); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled by config")
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel

	a.cfgSub = a.cfgm.Subscribe(4)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.reloadLoop(bgCtx)
	}()

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if err := a.cfgm.Watch(bgCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	events, unsub := a.bus.Subscribe(64)
	a.busUnsub = unsub
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.eventLoop(bgCtx, events)
	}()

	a.log.Info("started")
	return nil
}

// Stop tears the process down: no new firings, in-flight runs complete
// (bounded by ctx), then background loops and the store close.
func (a *App) Stop(ctx context.Context) error {
	if a.cancelBg != nil {
		a.cancelBg()
	}
	a.sched.Stop(ctx)
	if a.busUnsub != nil {
		a.busUnsub()
	}
	a.bg.Wait()
	if a.cfgSub != nil {
		a.cfgm.Unsubscribe(a.cfgSub)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close storage", logx.Err(err))
	}
	_ = a.logs.Close()
	return nil
}

// RunFlow triggers one manual (non-scheduled) execution of a flow.
func (a *App) RunFlow(ctx context.Context, flowID string, inputs map[string]any, userID string) (*flow.Execution, error) {
	f, err := a.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	return a.exec.Execute(ctx, engine.RunRequest{
		Flow:        f,
		Inputs:      inputs,
		UserID:      userID,
		TriggeredBy: flow.TriggeredManual,
	})
}

// reloadLoop applies config edits published by the watcher.
func (a *App) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.logs.Apply(logCfg(cfg))
			a.sched.Apply(ctx, schedCfg(cfg))
			a.log.Info("config applied")
		}
	}
}

// eventLoop surfaces bus events in the debug log.
func (a *App) eventLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", eventSummary(ev.Data)))
		}
	}
}

// eventSummary keeps bus payloads log-friendly: executions collapse to
// their identity and outcome.
func eventSummary(data any) any {
	if e, ok := data.(*flow.Execution); ok {
		return map[string]any{"id": e.ID, "flow": e.FlowID, "status": string(e.Status)}
	}
	return data
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func schedCfg(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:                cfg.Scheduler.Enabled,
		Timezone:               cfg.Scheduler.Timezone,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}
}
