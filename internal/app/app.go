package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"movieclub/internal/announce"
	"movieclub/internal/club"
	"movieclub/internal/config"
	"movieclub/internal/httpapi"
	"movieclub/internal/lookup"
	rtsup "movieclub/internal/runtime/supervisor"
	"movieclub/internal/storage"
	kit "movieclub/internal/transport"
	telegram "movieclub/internal/transport/telegram/adapter"
	"movieclub/internal/transport/telegram/router"
	"movieclub/plugins/movieclub"
	logx "movieclub/pkg/logx"
)

const updatesQueueCap = 256

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *rtsup.Registry

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	lookup  *lookup.Service

	club      *club.Service
	plugin    *movieclub.Plugin
	router    *router.Router
	announcer *announce.Service
	http      *httpapi.Server
	httpAddr  string

	updates chan kit.Message
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.Component("telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Set the chat target before enabling the chat sink so Apply has
	// somewhere to deliver.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(cfg.Logging.Chat.ChatID, cfg.Logging.Chat.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.Component("app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.Component("storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; club state lives in memory and is lost on restart")
		store = storage.NewMemory()
	case err != nil:
		return nil, fmt.Errorf("open storage: %w", err)
	default:
		log.Info("storage ready", logx.String("driver", sc.Driver))
	}

	opts, err := mapClubOptions(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	svc := club.New(store, club.SystemClock{}, log.With(logx.Component("club")), opts)

	ls, err := openLookup(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("lookup: %w", err)
	}
	var lk movieclub.MovieLookup
	if ls != nil {
		lk = ls
		log.Info("movie lookup enabled", logx.String("cache", cfg.Lookup.Cache.Driver))
	}

	sups := rtsup.NewRegistry()
	plugin := movieclub.New(svc, lk, log)
	plugin.SetPrefix(cfg.Commands.Prefix)
	rt := router.New(log, ad, ad, sups, mapRouterOptions(cfg, ad.Username()))
	ann := announce.New(mapAnnounceConfig(cfg), svc, ad, log)

	a := &App{
		cfgm:      cfgm,
		sups:      sups,
		log:       log,
		logs:      logSvc,
		store:     store,
		adapter:   ad,
		lookup:    ls,
		club:      svc,
		plugin:    plugin,
		router:    rt,
		announcer: ann,
		updates:   make(chan kit.Message, updatesQueueCap),
	}
	if cfg.HTTP.Enabled {
		a.http = httpapi.New(svc, sups, log)
		a.httpAddr = cfg.HTTP.Addr
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	// reject hot reloads the live components cannot take
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapClubOptions(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sup := a.adapter.Supervisor(); sup != nil {
		a.sups.Set("telegram.adapter", sup)
	}

	a.router.SetRegistry(a.sup.Context(), a.plugin.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if err := a.announcer.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.http != nil {
		a.sup.Go("http.api", func(c context.Context) error {
			return a.http.Run(c, a.httpAddr)
		})
	}

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
				// coalesce bursts
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

	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig pushes a validated reload into the live components. Sections
// that need a restart are only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", ch.RestartRequired))
	}

	a.logs.SetChatTarget(next.Logging.Chat.ChatID, next.Logging.Chat.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	if opts, err := mapClubOptions(next); err != nil {
		a.log.Warn("invalid rotation config; keeping previous", logx.Err(err))
	} else {
		a.club.SetOptions(opts)
	}

	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.router.SetPrefix(next.Commands.Prefix)
	a.plugin.SetPrefix(next.Commands.Prefix)

	a.announcer.Apply(mapAnnounceConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
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

	step("announce", 2*time.Second, func(c context.Context) error { a.announcer.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("lookup", time.Second, func(context.Context) error {
		if a.lookup != nil {
			return a.lookup.Close()
		}
		return nil
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.sups.Delete("app")
	a.log.Info("stopped")
	return a.logs.Close()
}
