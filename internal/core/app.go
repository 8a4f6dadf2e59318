package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"signbot/internal/adapters/telegram"
	"signbot/internal/kit"
	"signbot/internal/services/logging"
	"signbot/internal/services/notify"
	"signbot/internal/services/scheduler"
	logx "signbot/pkg/logx"
)

// App owns the whole runtime: config manager, log pipeline, chat adapter,
// services, command dispatch and the plugin set. Everything is wired by
// explicit dependency injection; nothing global.
type App struct {
	cfgm *ConfigManager

	logsvc  *logging.Service
	log     *slog.Logger
	adapter kit.Adapter
	sched   *scheduler.Service
	notif   *notify.Service
	serv    *Services
	cmdm    *CommandManager
	pm      *PluginManager

	sup     *Supervisor
	stopRsn StopReason

	updates chan kit.Update
}

func NewApp(configPath string) *App {
	return &App{
		cfgm:    NewConfigManager(configPath),
		updates: make(chan kit.Update, 128),
	}
}

// ConfigManager exposes the config layer, mainly for plugin registration
// code in cmd/ that wants to pre-validate.
func (a *App) ConfigManager() *ConfigManager { return a.cfgm }

func (a *App) Logger() *slog.Logger { return a.log }

// Build loads the initial config and constructs all components. No
// goroutines run until Start.
func (a *App) Build() error {
	cfg, err := a.cfgm.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a.logsvc, err = logging.New(logging.Options{
		Level:    cfg.Logging.Level,
		Console:  cfg.Logging.Console,
		FilePath: loggingFilePath(cfg),
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	a.log = a.logsvc.Logger()
	a.cfgm.SetLogger(logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "config")))

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	tg, err := telegram.New(a.log.With(slog.String("comp", "telegram")), telegram.Options{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	})
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = tg

	schedTimeout, err := parseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, time.Minute)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := cfg.Scheduler.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	a.sched = scheduler.New(a.log.With(slog.String("comp", "scheduler")), scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: schedTimeout,
		Location:       loc,
	})

	logChatID := parseChatID(cfg.Telegram.GroupLog)
	a.notif = notify.New(a.log.With(slog.String("comp", "notify")), a.adapter, notify.Config{
		Enabled:    cfg.Notify.Enabled && logChatID != 0,
		ChatID:     logChatID,
		RatePerSec: cfg.Notify.RatePerSec,
		QueueSize:  cfg.Notify.QueueSize,
	})

	a.serv = &Services{Scheduler: a.sched, Notifier: a.notif}
	a.cmdm = NewCommandManager(a.log.With(slog.String("comp", "commands")), a.adapter, a.cfgm, a.serv, cfg.Telegram.OwnerUserIDs)
	a.pm = NewPluginManager(a.log.With(slog.String("comp", "plugins")), PluginDeps{
		Adapter:     a.adapter,
		Config:      a.cfgm,
		Services:    a.serv,
		OwnerUserID: cfg.Telegram.OwnerUserIDs,
	}, a.cmdm)

	// Telegram log sink rides the notifier's chat if enabled.
	if cfg.Logging.Telegram.Enabled && logChatID != 0 {
		a.logsvc.AttachTelegram(logging.TelegramSink{
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
			Send: func(ctx context.Context, text string) error {
				_, err := a.adapter.SendText(ctx, kit.ChatTarget{
					ChatID:   logChatID,
					ThreadID: cfg.Logging.Telegram.ThreadID,
				}, text, &kit.SendOptions{DisablePreview: true})
				return err
			},
		})
	}

	a.sup = NewSupervisor(a.log.With(slog.String("comp", "supervisor")))
	return nil
}

// Register adds a plugin before Start.
func (a *App) Register(p Plugin) error { return a.pm.Register(p) }

// Start launches all supervised goroutines and blocks until the context is
// cancelled or a component fails.
func (a *App) Start(parent context.Context) error {
	cfg := a.cfgm.Get()
	if cfg == nil {
		return fmt.Errorf("start before build")
	}

	// Plugin validators participate in reload validation.
	a.cfgm.SetValidator(func(ctx context.Context, c *Config) error {
		return a.pm.ValidateConfig(c)
	})

	ctx := a.sup.Context(parent)

	a.sup.Go(ctx, "config.watch", a.cfgm.Watch)

	if a.sched.Enabled() {
		a.sup.Go(ctx, "scheduler", a.sched.Run)
	}
	if a.notif.Enabled() {
		a.sup.Go(ctx, "notify", a.notif.Run)
	}

	a.sup.Go(ctx, "telegram.poll", func(ctx context.Context) error {
		return a.adapter.Start(ctx, a.updates)
	})
	a.sup.Go(ctx, "commands.dispatch", func(ctx context.Context) error {
		return a.cmdm.DispatchLoop(ctx, a.updates)
	})

	a.pm.Reconcile(ctx, cfg)

	// Config reload fan-out: coalesce bursts, then reconcile plugins and
	// refresh owner lists.
	reloads := a.cfgm.Subscribe(4)
	a.sup.Go(ctx, "config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(reloads)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-reloads:
				if !ok {
					return nil
				}
				// drain any queued-up intermediates, keep the newest
				for drained := false; !drained; {
					select {
					case n, ok := <-reloads:
						if !ok {
							drained = true
							break
						}
						next = n
					default:
						drained = true
					}
				}
				if next == nil {
					continue
				}
				a.log.Info("config reloaded")
				a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
				a.pm.Reconcile(ctx, next)
			}
		}
	})

	a.log.Info("app started")

	err := a.sup.Wait()
	switch {
	case parent.Err() != nil:
		a.stopRsn = StopSignal
	case err != nil:
		a.stopRsn = StopComponentFailure
	}
	return err
}

// Stop tears components down in reverse dependency order. Safe to call
// after Start returns.
func (a *App) Stop() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if a.pm != nil {
		a.pm.StopAll(stopCtx)
	}
	if a.adapter != nil {
		a.adapter.Stop(stopCtx)
	}
	if a.sup != nil {
		_ = a.sup.Shutdown()
	}
	if a.log != nil {
		a.log.Info("app stopped", slog.String("reason", a.stopRsn.String()))
	}
	if a.logsvc != nil {
		_ = a.logsvc.Close()
	}
}

func loggingFilePath(cfg *Config) string {
	if !cfg.Logging.File.Enabled {
		return ""
	}
	return cfg.Logging.File.Path
}

func parseChatID(s string) int64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
