// Package app wires the monitor together: config, logging, storage, the
// test coordinator, the scheduler, the HTTP server, and notifications.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/nicorosen/speed-test-monitor/internal/config"
	"github.com/nicorosen/speed-test-monitor/internal/coordinator"
	"github.com/nicorosen/speed-test-monitor/internal/eventbus"
	"github.com/nicorosen/speed-test-monitor/internal/measurerun"
	"github.com/nicorosen/speed-test-monitor/internal/notify"
	"github.com/nicorosen/speed-test-monitor/internal/progress"
	"github.com/nicorosen/speed-test-monitor/internal/runner"
	"github.com/nicorosen/speed-test-monitor/internal/runtime/supervisor"
	"github.com/nicorosen/speed-test-monitor/internal/scheduler"
	"github.com/nicorosen/speed-test-monitor/internal/server"
	"github.com/nicorosen/speed-test-monitor/internal/storage"
	"github.com/nicorosen/speed-test-monitor/pkg/logx"
)

type App struct {
	cfgPath   string
	watchable bool

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	events eventbus.Bus
	bus    *progress.Bus
	store  storage.Store

	co    *coordinator.Coordinator
	sched *scheduler.Scheduler
	srv   *server.Server
	notif *notify.Notifier

	sup *supervisor.Supervisor
}

// New builds the app from a config file. A missing file is not an error:
// the built-in defaults are used and hot reload is skipped.
func New(cfgPath string) (*App, error) {
	a := &App{cfgPath: cfgPath, cfgm: config.NewManager(cfgPath)}

	var cfg *config.Config
	if cfgPath != "" {
		switch _, err := os.Stat(cfgPath); {
		case err == nil:
			c, err := a.cfgm.Load()
			if err != nil {
				return nil, err
			}
			cfg = c
			a.watchable = true
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	if cfg == nil {
		cfg = config.Default()
		if err := cfg.Normalize(); err != nil {
			return nil, err
		}
		a.cfgm.Commit(cfg)
	}

	a.logs, a.log = logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	a.log = a.log.With(logx.String("comp", "app"))
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, a.logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = store

	a.events = eventbus.New()
	a.bus = progress.NewBus()

	notif, err := notify.New(cfg.Notify.Telegram, a.store, a.logs.Logger().With(logx.String("comp", "notify")))
	if err != nil {
		return nil, err
	}
	a.notif = notif

	return a, nil
}

// runFunc builds the coordinator's measurement function from the current
// config: an external argv when configured, otherwise the in-process
// pipeline.
func (a *App) runFunc(ctx context.Context) (runner.RunResult, error) {
	cfg := a.cfgm.Get()

	if len(cfg.Measure.Command) > 0 {
		r := runner.New(cfg.Measure.Command, a.bus, a.logs.Logger().With(logx.String("comp", "runner")))
		return r.Run(ctx)
	}

	pipe := measurerun.New(a.store, cfg, func(line string) {
		if line == "" {
			return
		}
		a.bus.Push(progress.Info(line))
	})
	if _, err := pipe.Do(ctx); err != nil {
		return runner.RunResult{ExitCode: 1}, err
	}
	return runner.RunResult{ExitCode: 0, Succeeded: true}, nil
}

// Run starts every component and blocks until ctx ends or a component
// fails fatally.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	defer a.logs.Close()

	a.co = coordinator.New(a.bus, a.events, a.sup, a.runFunc, a.logs.Logger().With(logx.String("comp", "coordinator")))

	srv, err := server.New(a.co, a.bus, a.store, a.cfgm.Get, a.logs.Logger().With(logx.String("comp", "http")))
	if err != nil {
		return err
	}
	a.srv = srv

	cfg := a.cfgm.Get()
	a.sched = scheduler.New(scheduler.Config{
		Enabled:  cfg.Cron.Enabled,
		Spec:     cfg.Cron.Spec,
		Timezone: cfg.Cron.Timezone,
	}, a.co.Start, a.logs.Logger().With(logx.String("comp", "scheduler")))

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("http", a.srv.Run)

	if a.notif != nil {
		a.sup.Go0("notify", func(ctx context.Context) {
			a.notif.Run(ctx, a.events)
		})
	}

	if a.watchable {
		a.sup.Go("config.watch", a.cfgm.Watch)
		a.sup.Go0("config.apply", a.applyReloads)
	}

	a.log.Info("speed test monitor started",
		logx.String("listen", cfg.Server.Listen),
		logx.String("storage", cfg.Storage.Driver),
		logx.Bool("schedule", cfg.Cron.Enabled))

	<-a.sup.Context().Done()

	// Let an in-flight measurement write its record before tearing down.
	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	_ = a.co.WaitIdle(waitCtx)
	cancel()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.sup.Stop(stopCtx)

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}

	if err := a.sup.Err(); err != nil {
		return err
	}
	return stopErr
}

// applyReloads reacts to committed config changes: log level and schedule
// take effect immediately, everything else applies on next use.
func (a *App) applyReloads(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Log.Level,
				Console: cfg.Log.Console,
				File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
			})
			if err := a.sched.Apply(scheduler.Config{
				Enabled:  cfg.Cron.Enabled,
				Spec:     cfg.Cron.Spec,
				Timezone: cfg.Cron.Timezone,
			}); err != nil {
				a.log.Warn("schedule reload rejected", logx.Err(err))
			}
		}
	}
}
