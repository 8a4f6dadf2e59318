// Package groupsign keeps QQ groups checked in: a daily reminder loop
// fires once per day at a configured wall-clock minute and calls the
// OneBot HTTP API for every group on the persisted list.
package groupsign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"signbot/internal/core"
	"signbot/internal/kit"
	"signbot/pkg/onebot"
)

const (
	pluginName     = "groupsign"
	summaryJobName = "groupsign.summary"
)

type Plugin struct {
	log  *slog.Logger
	deps core.PluginDeps

	store *Store
	task  *Task

	mu     sync.Mutex
	cfg    Config
	client *onebot.Client

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return pluginName }

func (p *Plugin) Init(_ context.Context, deps core.PluginDeps) error {
	p.deps = deps
	p.log = deps.Logger
	p.store = NewStore(deps.Config)

	p.mu.Lock()
	p.cfg = p.store.snapshot()
	p.client = onebot.NewClient(onebot.Config{
		Host:    p.cfg.API.Host,
		Port:    p.cfg.API.Port,
		Token:   p.cfg.API.Token,
		Timeout: p.cfg.apiTimeout(),
	})
	p.mu.Unlock()

	// The reminder loop outlives the host's bounded Start/Stop call
	// contexts, so it runs under the plugin's own lifetime context.
	p.runCtx, p.runCancel = context.WithCancel(context.Background())

	p.task = NewTask(p.log.With(slog.String("task", "reminder")), p.config, p.currentClient, p.batchFinished)
	p.task.onStart = p.batchStarted
	return nil
}

func (p *Plugin) config() Config { return p.store.snapshot() }

func (p *Plugin) currentClient() *onebot.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Plugin) Start(ctx context.Context) error {
	cfg := p.config()
	p.registerSummaryJob(cfg)

	if cfg.Sign.AutoStart {
		delay := cfg.startupDelay()
		go func() {
			if delay > 0 {
				select {
				case <-p.runCtx.Done():
					return
				case <-time.After(delay):
				}
			}
			if err := p.task.Start(p.runCtx); err != nil {
				p.log.Warn("auto-start skipped", slog.String("err", err.Error()))
			}
		}()
	}
	return nil
}

func (p *Plugin) Stop(_ context.Context) error {
	if sched := p.deps.Services.Scheduler; sched != nil {
		sched.Remove(summaryJobName)
	}
	if err := p.task.Stop(); err != nil && err != ErrTaskNotRunning {
		return err
	}
	p.runCancel()
	return nil
}

// ValidateConfig participates in config reload validation: a document with
// a broken groupsign section is rejected before commit.
func (p *Plugin) ValidateConfig(raw json.RawMessage) error {
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}
	return cfg.validate()
}

// OnConfigChange rebuilds the API client and the summary job. The reminder
// loop itself re-reads config every cycle and needs no restart.
func (p *Plugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	p.mu.Lock()
	apiChanged := cfg.API != p.cfg.API
	summaryChanged := cfg.Summary != p.cfg.Summary
	p.cfg = cfg
	if apiChanged {
		p.client = onebot.NewClient(onebot.Config{
			Host:    cfg.API.Host,
			Port:    cfg.API.Port,
			Token:   cfg.API.Token,
			Timeout: cfg.apiTimeout(),
		})
	}
	p.mu.Unlock()

	if summaryChanged {
		p.registerSummaryJob(cfg)
	}
	return nil
}

func (p *Plugin) registerSummaryJob(cfg Config) {
	sched := p.deps.Services.Scheduler
	if sched == nil || !sched.Enabled() {
		return
	}
	sched.Remove(summaryJobName)
	if !cfg.Summary.Enabled {
		return
	}
	_, err := sched.AddDaily(summaryJobName, cfg.Summary.Schedule, time.Minute, p.sendDailySummary)
	if err != nil {
		p.log.Warn("summary job registration failed", slog.String("err", err.Error()))
	}
}

// sendDailySummary reports today's recorded attempts to the operator chat.
func (p *Plugin) sendDailySummary(ctx context.Context) error {
	notif := p.deps.Services.Notifier
	if notif == nil {
		return nil
	}
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	results := p.task.ResultsSince(midnight)

	var okCount, failCount int
	var failed []string
	for _, r := range results {
		if r.OK {
			okCount++
		} else {
			failCount++
			failed = append(failed, r.GroupID+": "+r.Detail)
		}
	}

	cfg := p.config()
	body := fmt.Sprintf(cfg.Messages.SignSummary, okCount, failCount)
	if len(failed) > 0 {
		body += "\n" + strings.Join(failed, "\n")
	}
	if len(results) == 0 {
		body = "no check-in attempts recorded today"
	}
	return notif.Notify(ctx, kit.Notification{
		Title: "Daily check-in summary",
		Body:  body,
	})
}

func (p *Plugin) batchStarted(ctx context.Context, cfg Config, groups int) {
	notif := p.deps.Services.Notifier
	if notif == nil {
		return
	}
	_ = notif.Notify(ctx, kit.Notification{
		Title: fmt.Sprintf(cfg.Messages.SignReminder, groups),
	})
}

func (p *Plugin) batchFinished(ctx context.Context, cfg Config, results []FireResult) {
	notif := p.deps.Services.Notifier
	if notif == nil {
		return
	}
	var okCount, failCount int
	for _, r := range results {
		if r.OK {
			okCount++
		} else {
			failCount++
		}
	}
	sev := kit.SeverityInfo
	if failCount > 0 {
		sev = kit.SeverityWarn
	}
	_ = notif.Notify(ctx, kit.Notification{
		Title:    fmt.Sprintf(cfg.Messages.SignSummary, okCount, failCount),
		Severity: sev,
	})
}

// isAdmin checks the plugin admin list plus the bot owners.
func (p *Plugin) isAdmin(req *core.Request) bool {
	for _, id := range p.config().Permissions.AdminUserIDs {
		if id == req.FromID {
			return true
		}
	}
	for _, id := range req.OwnerUserID {
		if id == req.FromID {
			return true
		}
	}
	return false
}
