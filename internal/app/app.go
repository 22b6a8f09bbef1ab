package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"imagetasks/internal/config"
	"imagetasks/internal/eventbus"
	"imagetasks/internal/imaging"
	"imagetasks/internal/maintenance"
	rtsup "imagetasks/internal/runtime/supervisor"
	"imagetasks/internal/storage"
	"imagetasks/internal/task/engine"
	"imagetasks/internal/transport/httpapi"
	logx "imagetasks/pkg/logx"
)

type App struct {
	cfgPath string
	eff     config.Effective

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	maint  *maintenance.Service
	http   *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	eff, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	if err := validateSchedules(cfg, eff); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg, eff); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("audit storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	eng := engine.New(mapEngineConfig(eff), log.With(logx.String("comp", "taskengine")), bus, imaging.JPEGEncoder{})
	log.Info("image save path", logx.String("path", eng.Config().OutputDir))

	maint := maintenance.New(log.With(logx.String("comp", "maintenance")), reportLocation(cfg))
	if store != nil && eff.Retention > 0 {
		if err := maint.Add(maintenance.PruneJob(eff.PruneSchedule, store, eff.Retention, log.With(logx.String("comp", "audit")))); err != nil {
			closeQuiet(store)
			return nil, err
		}
	}
	if cfg.Report != nil {
		if err := maint.Add(maintenance.ReportJob(cfg.Report.Schedule, eng.Snapshot, log.With(logx.String("comp", "report")))); err != nil {
			closeQuiet(store)
			return nil, err
		}
	}

	srv := httpapi.New(mapHTTPConfig(cfg, eff), httpapi.Deps{
		Tasks:       eng,
		Bus:         bus,
		Store:       store,
		Maintenance: maint,
		Log:         log,
	})

	return &App{
		cfgPath: cfgPath,
		eff:     eff,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  eng,
		maint:   maint,
		http:    srv,
	}, nil
}

func closeQuiet(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
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

// Addr is the bound HTTP address.
func (a *App) Addr() string { return a.http.Addr() }

// Engine exposes the task engine (tests, embedding).
func (a *App) Engine() *engine.Service { return a.engine }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		eff, err := config.Resolve(cfg)
		if err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg, eff); err != nil {
			return err
		}
		return validateSchedules(cfg, eff)
	})

	a.engine.Start(a.sup.Context())

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log)
		a.sup.GoRestart("audit.recorder", rec.Run,
			rtsup.WithPublishFirstError(false),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	a.maint.Start(a.sup.Context())

	if err := a.http.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notifySystemd(daemon.SdNotifyReady)
	a.startWatchdog()

	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

// Reload re-reads the config file now (SIGHUP).
func (a *App) Reload(ctx context.Context) {
	changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	if !changed {
		a.log.Info("config reload: no changes")
	}
}

func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// startWatchdog pings systemd at half the configured WatchdogSec.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notifySystemd(daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// HTTP first so no new tasks arrive, then drain the engine while the
	// audit recorder is still subscribed.
	step("http", a.eff.ShutdownTimeout, a.http.Shutdown)
	step("taskengine", a.eff.ShutdownTimeout, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)

	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
