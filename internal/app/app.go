// Package app wires the service together: config, logging, storage, the
// orchestration host with its workflows, the health scheduler and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shiftsync/internal/config"
	"shiftsync/internal/connection"
	"shiftsync/internal/eventbus"
	"shiftsync/internal/health"
	"shiftsync/internal/metrics"
	"shiftsync/internal/orchestration"
	"shiftsync/internal/platform/memory"
	"shiftsync/internal/roster"
	rtsup "shiftsync/internal/runtime/supervisor"
	"shiftsync/internal/state"
	"shiftsync/internal/storage"
	"shiftsync/internal/workflow"
	logx "shiftsync/pkg/logx"
	"shiftsync/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager

	mu       sync.Mutex
	settings config.Settings

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	platform *memory.Platform
	conns    *connection.Store
	host     *orchestration.Host
	sched    *health.Scheduler
	flows    *workflow.Service
	metrics  *metrics.Registry
	server   *metrics.Server

	sup *rtsup.Supervisor
}

// New loads and validates the config file and builds every component. No
// goroutine is started and storage is not provisioned yet.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(settings.Logging)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorage(settings.Storage), root)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	plat, err := openPlatform(settings.Platform)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	reg := metrics.New()
	conns := connection.NewStore(store)
	host := orchestration.NewHost(
		state.NewTable[orchestration.Status](store, orchestration.InstanceTable),
		bus, mapHost(settings.Host), root,
	)
	flows := workflow.New(workflow.Deps{
		Store:       store,
		Connections: conns,
		Roster:      roster.NewService(state.NewTable[roster.Roster](store, roster.Table), plat.Source(), plat.Destination(), root),
		Source:      plat.Source(),
		Destination: plat.Destination(),
		Recorder:    reg,
		Log:         root,
	}, mapSync(settings.Sync))
	flows.Register(host)

	log.Info("app configured",
		logx.String("config", cfgPath),
		logx.String("storage", settings.Storage.Driver),
		logx.String("platform", settings.Platform.Driver),
	)

	return &App{
		cfgm:     cfgm,
		settings: settings,
		log:      log,
		logs:     logs,
		bus:      bus,
		store:    store,
		platform: plat,
		conns:    conns,
		host:     host,
		sched:    health.New(mapScheduler(settings.Scheduler), conns, host, bus, root),
		flows:    flows,
		metrics:  reg,
		server:   metrics.NewServer(reg, settings.Metrics, root),
	}, nil
}

func (a *App) Log() logx.Logger { return a.log }
func (a *App) Connections() *connection.Store { return a.conns }
func (a *App) Workflows() *workflow.Service { return a.flows }
func (a *App) Host() *orchestration.Host { return a.host }
func (a *App) Platform() *memory.Platform { return a.platform }
func (a *App) Metrics() *metrics.Registry { return a.metrics }
func (a *App) Scheduler() *health.Scheduler { return a.sched }
func (a *App) ConfigManager() *config.ConfigManager { return a.cfgm }

func (a *App) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Provision creates the storage schema. It is idempotent.
func (a *App) Provision(ctx context.Context) error {
	if err := a.store.Provision(ctx); err != nil {
		return fmt.Errorf("provision storage: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start provisions storage and runs the service until Stop.
func (a *App) Start(ctx context.Context) error {
	if err := a.Provision(ctx); err != nil {
		return err
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.host.Start(c)
	a.metrics.WatchRuntime(a.bus, a.sup)
	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})
	a.server.Start(c)
	if err := a.sched.Start(c); err != nil {
		return err
	}

	// events are debug-level to keep frequent ticks quiet
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.Err)
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

// Stop shuts components down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// no new instances once the scheduler is down; running ones are canceled
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("host", 10*time.Second, a.host.Stop)
	step("metrics", 2*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Stop)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// RunTick provisions storage, runs exactly one scheduler tick against the
// host and waits until every instance it started has finished.
func (a *App) RunTick(ctx context.Context) (health.TickReport, error) {
	if err := a.Provision(ctx); err != nil {
		return health.TickReport{}, err
	}
	a.host.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = a.host.Stop(stopCtx)
	}()

	rep, err := a.sched.Tick(ctx, time.Now())
	if err != nil {
		return rep, err
	}
	return rep, a.host.Idle(ctx)
}

// Close releases storage and log sinks of an app that was never started.
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}
