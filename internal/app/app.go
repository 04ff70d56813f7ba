package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toastd/internal/config"
	"toastd/internal/eventbus"
	"toastd/internal/httpapi"
	"toastd/internal/metrics"
	"toastd/internal/notifier"
	rtsup "toastd/internal/runtime/supervisor"
	"toastd/internal/schedule"
	"toastd/internal/storage"
	logx "toastd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store

	notif *notifier.Service
	sched *schedule.Core
	http  *httpapi.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateWiring(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return validateWiring(c) })

	bus := eventbus.New()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	// Anything that fails after the store opened must close it.
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	d, err := newDispatcher(cfg, root.With(logx.String("comp", "notifier")))
	if err != nil {
		return fail(fmt.Errorf("notifier: %w", err))
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, d, root.With(logx.String("comp", "notifier")), bus, m)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sched, err := schedule.New(schedCfg, schedule.Deps{
		Store:      store,
		Dispatcher: notif,
		Log:        root.With(logx.String("comp", "scheduler")),
		Bus:        bus,
		Metrics:    m,
	})
	if err != nil {
		return fail(err)
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return fail(err)
	}
	srv := httpapi.New(hcfg, sched, m.Handler(), root)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		metrics: m,
		store:   store,
		notif:   notif,
		sched:   sched,
		http:    srv,
	}, nil
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

// Addr is the HTTP listener's bound address.
func (a *App) Addr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.http.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	// Lifecycle events at debug level; components publish, nobody else consumes.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if td, ok := e.Data.(eventbus.ToastData); ok {
					fields = append(fields, logx.String("tenant_id", td.TenantID), logx.String("job_id", td.JobID))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

// applyConfig applies what can change live (logging and notifier tuning)
// and flags everything else for a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if prev != nil && !strings.EqualFold(strings.TrimSpace(prev.Notifier.Driver), strings.TrimSpace(next.Notifier.Driver)) {
		restart = append(restart, "notifier.driver")
	}

	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// HTTP first so no new schedules arrive while the timer drains.
	step("http", 3*time.Second, a.http.Stop)
	step("scheduler", 3*time.Second, a.sched.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
