package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbot/internal/bot"
	"taskbot/internal/config"
	"taskbot/internal/eventbus"
	"taskbot/internal/messages"
	"taskbot/internal/reminder"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/internal/storage"
	"taskbot/internal/tasks"
	kit "taskbot/internal/transport"
	"taskbot/internal/transport/telegram"
	logx "taskbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	// msgSup owns delayed deletes of transient messages; it outlives the
	// router so pending deletes can be cancelled last.
	msgSup *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *sdNotifier

	adapter *telegram.Adapter
	msgs    *messages.Coordinator
	tasks   *tasks.Service
	rem     *reminder.Service
	router  *bot.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	// logx.New applies immediately; bootstrap without the Telegram mirror
	// so it does not warn before the sink and chat are set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg)
	log = log.With(logx.String("comp", "app"))

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	ad, err := telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSink(ad, cfg.Telegram.LogChat)
	logSvc.Apply(logCfg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("path", sc.Path))

	remCfg, err := mapReminderConfig(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	botCfg, err := mapBotConfig(cfg)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	botCfg.Username = ad.Username()

	bus := eventbus.New()
	msgSup := rtsup.New(context.Background(), rtsup.WithLogger(log.With(logx.String("comp", "messages"))))
	msgs := messages.New(ad, store, log, messages.WithSupervisor(msgSup))
	taskSvc := tasks.New(store, msgs, log, tasks.WithBus(bus))
	remSvc := reminder.New(remCfg, store, msgs, log, reminder.WithBus(bus))
	router := bot.New(botCfg, ad, msgs, taskSvc, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		msgSup:  msgSup,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sd:      newSDNotifier(log.With(logx.String("comp", "systemd"))),
		adapter: ad,
		msgs:    msgs,
		tasks:   taskSvc,
		rem:     remSvc,
		router:  router,
		updates: make(chan kit.Update, 256),
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.rem.OnTick(a.sd.Tick)
	a.rem.Start(a.sup.Context())

	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.runWatchdog(c, a.reminderAlive)
	})

	// Task lifecycle events at debug level, for tracing deliveries.
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
				if te, ok := e.Data.(eventbus.TaskEvent); ok {
					fields = append(fields, logx.Task(te.ChatID, te.TaskID))
					if te.Err != nil {
						fields = append(fields, logx.Err(te.Err))
					}
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.log.Info("app started", logx.String("config", a.cfgPath), logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig pushes a validated config into the running components.
// Storage and transport settings are read once at startup.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "telegram":
			if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
				a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
			}
		}
	}

	// update the log target first so Apply does not warn about a missing chat
	a.logs.SetSink(a.adapter, newCfg.Telegram.LogChat)
	a.logs.Apply(mapLogConfig(newCfg))

	if rc, err := mapReminderConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.rem.Apply(rc)
		// Apply only restarts a scheduler that was started before
		if rc.Enabled {
			a.rem.Start(ctx)
		}
	}

	if bc, err := mapBotConfig(newCfg); err != nil {
		a.log.Warn("invalid bot config; keeping previous", logx.Err(err))
	} else {
		a.router.Apply(bc)
	}

	a.log.Info("config reloaded", fields...)
}

// reminderAlive feeds the watchdog: whether the reminder pass should be
// ticking and how long it may stay quiet.
func (a *App) reminderAlive() (bool, time.Duration) {
	if !a.rem.Enabled() {
		return false, 0
	}
	rc, err := mapReminderConfig(a.cfgm.Get())
	if err != nil {
		return true, time.Minute
	}
	// a pass may run long while it throttles deliveries
	return true, 3*rc.Interval + time.Minute
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// The reminder pass finishes its current delivery before storage goes away.
	step("reminder", 3*time.Second, func(c context.Context) error { return a.rem.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// router workers, config watch and reload
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("messages", 1*time.Second, func(c context.Context) error { return a.msgSup.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped",
		logx.Uint64("goroutines", c.Started),
		logx.Uint64("panics", c.Panics),
		logx.Int64("still_running", c.Active),
	)
	a.logs.Close()
	return nil
}
