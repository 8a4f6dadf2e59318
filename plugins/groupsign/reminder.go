package groupsign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signbot/pkg/onebot"
)

var (
	ErrTaskRunning    = errors.New("reminder task already running")
	ErrTaskNotRunning = errors.New("reminder task not running")
)

// FireResult is the outcome of one group's check-in attempt.
type FireResult struct {
	GroupID string
	OK      bool
	Kind    onebot.FailKind
	Detail  string
	At      time.Time
}

// TaskStatus is a point-in-time snapshot of the reminder loop.
type TaskStatus struct {
	Running       bool
	LastFiredDate string
	FiredToday    bool
	Groups        int
	ReminderTime  string
	CheckInterval time.Duration
}

type pacer interface {
	Wait(ctx context.Context) error
}

const (
	errorCooldown = 60 * time.Second
	groupPace     = 2 * time.Second
	minWait       = time.Second
	resultsCap    = 256
)

// Task is the daily reminder loop. One Task survives start/stop cycles so
// the daily-fire gate (lastFiredDate, firedToday) is not reset by a restart.
type Task struct {
	log      *slog.Logger
	snapshot func() Config
	client   func() *onebot.Client
	onStart  func(ctx context.Context, cfg Config, groups int)
	onBatch  func(ctx context.Context, cfg Config, results []FireResult)

	// injectable for tests
	now  func() time.Time
	pace pacer

	mu            sync.Mutex
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	lastFiredDate string
	firedToday    bool
	results       []FireResult
}

func NewTask(log *slog.Logger, snapshot func() Config, client func() *onebot.Client, onBatch func(ctx context.Context, cfg Config, results []FireResult)) *Task {
	return &Task{
		log:      log,
		snapshot: snapshot,
		client:   client,
		onBatch:  onBatch,
		now:      time.Now,
		pace:     rate.NewLimiter(rate.Every(groupPace), 1),
	}
}

// Start launches the loop. Starting a running task is an error; the gate
// state from a previous run is kept.
func (t *Task) Start(parent context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return ErrTaskRunning
	}
	ctx, cancel := context.WithCancel(parent)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx, t.done)
	t.log.Info("reminder task started")
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped task
// is an error but leaves state untouched.
func (t *Task) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrTaskNotRunning
	}
	cancel := t.cancel
	done := t.done
	t.running = false
	t.cancel = nil
	t.mu.Unlock()

	cancel()
	<-done
	t.log.Info("reminder task stopped")
	return nil
}

func (t *Task) Status() TaskStatus {
	cfg := t.snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskStatus{
		Running:       t.running,
		LastFiredDate: t.lastFiredDate,
		FiredToday:    t.firedToday,
		Groups:        len(cfg.Sign.Groups),
		ReminderTime:  cfg.Sign.ReminderTime,
		CheckInterval: time.Duration(cfg.Sign.CheckInterval) * time.Second,
	}
}

// RecentResults returns the latest recorded attempts, oldest first.
func (t *Task) RecentResults() []FireResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FireResult(nil), t.results...)
}

// ResultsSince returns recorded attempts at or after the cutoff.
func (t *Task) ResultsSince(cutoff time.Time) []FireResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FireResult, 0, len(t.results))
	for _, r := range t.results {
		if !r.At.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (t *Task) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		wait, err := t.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn("reminder cycle failed, cooling down",
				slog.String("err", err.Error()),
				slog.Duration("cooldown", errorCooldown))
			wait = errorCooldown
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// cycle runs one check: advance the daily gate, fire the batch when the
// wall clock hits the target minute, and report how long to sleep.
func (t *Task) cycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("panic in reminder cycle", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg := t.snapshot()
	now := t.now()
	today := now.Format("2006-01-02")
	minute := now.Format("15:04")

	t.mu.Lock()
	if t.lastFiredDate != today {
		t.lastFiredDate = today
		t.firedToday = false
	}
	shouldFire := minute == cfg.Sign.ReminderTime && !t.firedToday
	if shouldFire {
		// Gate closes before the batch runs so a slow batch spanning the
		// minute cannot double-fire.
		t.firedToday = true
	}
	t.mu.Unlock()

	if shouldFire {
		results := t.fireAll(ctx, cfg)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if t.onBatch != nil && len(results) > 0 {
			t.onBatch(ctx, cfg, results)
		}
	}

	return nextWait(now, cfg), nil
}

// nextWait returns min(check interval, time until the next target minute),
// clamped so the loop can never spin.
func nextWait(now time.Time, cfg Config) time.Duration {
	interval := time.Duration(cfg.Sign.CheckInterval) * time.Second

	target, err := time.ParseInLocation("15:04", cfg.Sign.ReminderTime, now.Location())
	if err != nil {
		return clampWait(interval)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	until := next.Sub(now)

	wait := interval
	if until < wait {
		wait = until
	}
	return clampWait(wait)
}

func clampWait(d time.Duration) time.Duration {
	if d < minWait {
		return minWait
	}
	return d
}

// fireAll checks in every configured group sequentially with pacing. One
// group's failure never stops the rest; every attempt is recorded.
func (t *Task) fireAll(ctx context.Context, cfg Config) []FireResult {
	groups := cfg.Sign.Groups
	if len(groups) == 0 {
		t.log.Info("reminder fired with empty group list")
		return nil
	}

	t.log.Info("daily check-in batch starting", slog.Int("groups", len(groups)))
	if t.onStart != nil {
		t.onStart(ctx, cfg, len(groups))
	}
	cli := t.client()

	results := make([]FireResult, 0, len(groups))
	for _, g := range groups {
		if err := t.pace.Wait(ctx); err != nil {
			t.log.Info("check-in batch cancelled", slog.Int("completed", len(results)))
			break
		}
		res := cli.SetGroupSign(ctx, g)
		fr := FireResult{
			GroupID: g,
			OK:      res.OK,
			Kind:    res.Kind,
			Detail:  res.Detail,
			At:      t.now(),
		}
		results = append(results, fr)
		if res.OK {
			t.log.Info("check-in ok", slog.String("group", g))
		} else {
			t.log.Warn("check-in failed",
				slog.String("group", g),
				slog.String("kind", res.Kind.String()),
				slog.String("detail", res.Detail))
		}
	}

	t.recordResults(results)
	return results
}

// ExecuteNow runs one batch immediately without touching the daily gate.
func (t *Task) ExecuteNow(ctx context.Context) []FireResult {
	return t.fireAll(ctx, t.snapshot())
}

func (t *Task) recordResults(rs []FireResult) {
	if len(rs) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, rs...)
	if len(t.results) > resultsCap {
		t.results = t.results[len(t.results)-resultsCap:]
	}
}
