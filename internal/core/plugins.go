package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"signbot/internal/kit"
)

// Plugin is the unit of functionality the bot hosts. Lifecycle:
// Init (wiring, no goroutines) -> Start (long-running work, optional)
// -> Stop. Commands are registered by the host after Init.
type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin gets its raw config section on init and on change.
type ConfigurablePlugin interface {
	Plugin
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator lets a plugin reject a config document before the host
// commits it.
type ConfigValidator interface {
	ValidateConfig(raw json.RawMessage) error
}

type PluginDeps struct {
	Logger      *slog.Logger
	Adapter     kit.Adapter
	Config      *ConfigManager
	Services    *Services
	OwnerUserID []int64
}

type pluginState struct {
	plugin  Plugin
	running bool
	cancel  context.CancelFunc
	cfgHash uint64
}

type PluginManager struct {
	mu     sync.Mutex
	reg    map[string]*pluginState
	order  []string
	deps   PluginDeps
	log    *slog.Logger
	cmds   *CommandManager
	startT time.Duration
}

func NewPluginManager(log *slog.Logger, deps PluginDeps, cmds *CommandManager) *PluginManager {
	return &PluginManager{
		reg:    map[string]*pluginState{},
		deps:   deps,
		log:    log,
		cmds:   cmds,
		startT: 30 * time.Second,
	}
}

func (pm *PluginManager) Register(p Plugin) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin with empty name")
	}
	if _, dup := pm.reg[name]; dup {
		return fmt.Errorf("plugin %q already registered", name)
	}
	pm.reg[name] = &pluginState{plugin: p}
	pm.order = append(pm.order, name)
	return nil
}

// ValidateConfig runs every registered plugin's validator against its
// section of the candidate document. Used as a ConfigManager validator.
func (pm *PluginManager) ValidateConfig(cfg *Config) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, name := range pm.order {
		st := pm.reg[name]
		v, ok := st.plugin.(ConfigValidator)
		if !ok {
			continue
		}
		raw := pluginRaw(cfg, name)
		if err := v.ValidateConfig(raw); err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
	}
	return nil
}

// Reconcile brings the running set in line with cfg: starts enabled
// plugins, stops disabled ones, and pushes config changes to running
// plugins whose section hash moved.
func (pm *PluginManager) Reconcile(ctx context.Context, cfg *Config) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, name := range pm.order {
		st := pm.reg[name]
		enabled := pluginEnabled(cfg, name)
		raw := pluginRaw(cfg, name)
		hash := canonicalHashJSON(raw)

		switch {
		case enabled && !st.running:
			pm.startLocked(ctx, name, st, raw, hash)
		case !enabled && st.running:
			pm.stopLocked(ctx, name, st)
		case enabled && st.running && hash != st.cfgHash:
			st.cfgHash = hash
			if cp, ok := st.plugin.(ConfigurablePlugin); ok {
				if err := safeCall(func() error { return cp.OnConfigChange(ctx, raw) }); err != nil {
					pm.log.Error("plugin config change failed", slog.String("plugin", name), slog.String("err", err.Error()))
				}
			}
		}
	}
	pm.refreshCommandsLocked()
}

func (pm *PluginManager) startLocked(ctx context.Context, name string, st *pluginState, raw json.RawMessage, hash uint64) {
	plog := pm.log.With(slog.String("plugin", name))
	deps := pm.deps
	deps.Logger = plog

	pctx, cancel := context.WithCancel(ctx)

	initCtx, initCancel := context.WithTimeout(pctx, pm.startT)
	err := safeCall(func() error { return st.plugin.Init(initCtx, deps) })
	initCancel()
	if err != nil {
		cancel()
		plog.Error("plugin init failed", slog.String("err", err.Error()))
		return
	}

	if cp, ok := st.plugin.(ConfigurablePlugin); ok {
		if err := safeCall(func() error { return cp.OnConfigChange(pctx, raw) }); err != nil {
			cancel()
			plog.Error("plugin config apply failed", slog.String("err", err.Error()))
			return
		}
	}

	startCtx, startCancel := context.WithTimeout(pctx, pm.startT)
	err = safeCall(func() error { return st.plugin.Start(startCtx) })
	startCancel()
	if err != nil {
		cancel()
		plog.Error("plugin start failed", slog.String("err", err.Error()))
		return
	}

	st.running = true
	st.cancel = cancel
	st.cfgHash = hash
	plog.Info("plugin started")
}

func (pm *PluginManager) stopLocked(ctx context.Context, name string, st *pluginState) {
	plog := pm.log.With(slog.String("plugin", name))
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := safeCall(func() error { return st.plugin.Stop(stopCtx) }); err != nil {
		plog.Warn("plugin stop reported error", slog.String("err", err.Error()))
	}
	cancel()
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.running = false
	plog.Info("plugin stopped")
}

// StopAll stops every running plugin, in reverse registration order.
func (pm *PluginManager) StopAll(ctx context.Context) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for i := len(pm.order) - 1; i >= 0; i-- {
		name := pm.order[i]
		st := pm.reg[name]
		if st.running {
			pm.stopLocked(ctx, name, st)
		}
	}
	pm.refreshCommandsLocked()
}

func (pm *PluginManager) refreshCommandsLocked() {
	var cmds []Command
	for _, name := range pm.order {
		st := pm.reg[name]
		if !st.running {
			continue
		}
		for _, c := range st.plugin.Commands() {
			c.PluginName = name
			cmds = append(cmds, c)
		}
	}
	pm.cmds.SetRegistry(cmds)
}

func pluginEnabled(cfg *Config, name string) bool {
	if cfg == nil {
		return false
	}
	pc, ok := cfg.Plugins[name]
	if !ok {
		return false
	}
	return pc.Enabled
}

func pluginRaw(cfg *Config, name string) json.RawMessage {
	if cfg == nil {
		return nil
	}
	pc, ok := cfg.Plugins[name]
	if !ok {
		return nil
	}
	return pc.Config
}

// safeCall converts a panic inside plugin code into an error so one bad
// plugin cannot take the host down.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
