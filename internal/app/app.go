package app

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"linechat/internal/chat"
	"linechat/internal/config"
	"linechat/internal/eventbus"
	"linechat/internal/observability/pprof"
	"linechat/internal/runtime/supervisor"
	"linechat/internal/storage"
	"linechat/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	chat  *chat.Server
	ws    *chat.Gateway
	ops   *pprof.Service
	stats *statsReporter

	notify bool
}

// New loads cfgPath (plus an optional .env next to it) and builds every
// component without binding any sockets.
func New(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env")); err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

// openStore is replaced in tests.
var openStore = storage.Open

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (_ *App, err error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	defer func() {
		if err == nil {
			return
		}
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
	}()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := openStore(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	opts, err := mapChatOptions(cfg)
	if err != nil {
		return nil, err
	}
	srv := chat.NewServer(mapServerConfig(cfg), log, chat.WithOptions(opts), chat.WithEventBus(bus))

	a := &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		chat:    srv,
		notify:  cfg.Systemd.NotifyEnabled(),
	}

	if wsCfg, enabled := mapWebSocketConfig(cfg); enabled {
		a.ws = chat.NewGateway(srv, wsCfg, log)
	}

	ppc, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = pprof.New(ppc, log, func() any { return collectStats(srv, bus) })

	a.stats = newStatsReporter(log.With(logx.String("comp", "stats")), func() Stats { return collectStats(srv, bus) })
	if err := a.stats.Apply(cfg.Stats.StatsSchedule()); err != nil {
		return nil, fmt.Errorf("stats.schedule: %w", err)
	}
	return a, nil
}

func (a *App) Chat() *chat.Server { return a.chat }

// ChatAddr is the bound chat listener address, nil before Start.
func (a *App) ChatAddr() net.Addr { return a.chat.Addr() }

// WebSocketAddr is nil when the gateway is disabled or not started.
func (a *App) WebSocketAddr() net.Addr {
	if a.ws == nil {
		return nil
	}
	return a.ws.Addr()
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

// Start binds the listeners and starts every background loop. A bind
// failure is returned and nothing is left running.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapChatOptions(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.chat.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}
	if a.ws != nil {
		if err := a.ws.Listen(); err != nil {
			a.sup.Cancel()
			_ = a.chat.Stop(context.Background())
			return err
		}
		a.sup.Go("ws.serve", a.ws.Serve)
	}

	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}
	a.stats.Start()

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		runAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.notify, daemon.SdNotifyReady, a.log)
	a.log.Info("app started", logx.String("chat_addr", a.chat.Addr().String()))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts: keep only the latest config.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		a.applyConfig(ctx, lastApplied, newCfg)
		lastApplied = newCfg
	}
}

// applyConfig applies the live-reloadable sections of newCfg.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if opts, err := mapChatOptions(newCfg); err != nil {
		a.log.Warn("invalid chat config; keeping previous", logx.Err(err))
	} else {
		a.chat.Apply(opts)
	}

	if ppc, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, ppc)
	}

	if err := a.stats.Apply(newCfg.Stats.StatsSchedule()); err != nil {
		a.log.Warn("invalid stats schedule; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.notify, daemon.SdNotifyStopping, a.log)

	a.sup.Cancel()

	a.step(ctx, "websocket", time.Second, func(c context.Context) error {
		if a.ws == nil {
			return nil
		}
		return a.ws.Close(c)
	})
	a.step(ctx, "chat", 3*time.Second, a.chat.Stop)
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "stats", time.Second, func(c context.Context) error {
		select {
		case <-a.stats.Stop():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline so a
// stuck component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
