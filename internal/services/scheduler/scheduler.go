// Package scheduler runs named cron jobs on a small worker pool. A job that
// is still running when its next tick arrives is skipped, not stacked.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	Location       *time.Location
}

type RunRecord struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Err      string
	Skipped  bool
}

type entry struct {
	id      cron.EntryID
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	running atomic.Bool
}

type queued struct {
	name string
	ent  *entry
}

type Service struct {
	log *slog.Logger
	cfg Config

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]*entry

	jobs chan queued

	histMu  sync.Mutex
	history []RunRecord
}

const historyCap = 64

func New(log *slog.Logger, cfg Config) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		entries: map[string]*entry{},
		jobs:    make(chan queued, 32),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// AddCron registers a job under a unique name with a standard 5-field cron
// spec. Returns the spec actually used.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if name == "" || job == nil {
		return "", fmt.Errorf("scheduler: name and job required")
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[name]; dup {
		return "", fmt.Errorf("scheduler: job %q already registered", name)
	}

	ent := &entry{spec: spec, timeout: timeout, job: job}
	id, err := s.cron.AddFunc(spec, func() { s.enqueue(name, ent) })
	if err != nil {
		return "", fmt.Errorf("scheduler: bad spec %q: %w", spec, err)
	}
	ent.id = id
	s.entries[name] = ent
	s.log.Info("job registered", slog.String("job", name), slog.String("spec", spec))
	return spec, nil
}

// AddDaily registers a job that fires once a day at HH:MM local time.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(ent.id)
	delete(s.entries, name)
	s.log.Info("job removed", slog.String("job", name))
	return true
}

// Run starts the cron clock and the worker pool, blocking until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case q := <-s.jobs:
					s.runOne(ctx, q)
				}
			}
		}()
	}

	s.cron.Start()
	s.log.Info("scheduler started", slog.Int("workers", s.cfg.Workers))

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn("cron jobs still running at shutdown")
	}
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Service) enqueue(name string, ent *entry) {
	if !ent.running.CompareAndSwap(false, true) {
		s.record(RunRecord{Name: name, Started: time.Now(), Skipped: true})
		s.log.Warn("job still running, tick skipped", slog.String("job", name))
		return
	}
	select {
	case s.jobs <- queued{name: name, ent: ent}:
	default:
		ent.running.Store(false)
		s.log.Warn("job queue full, tick dropped", slog.String("job", name))
	}
}

func (s *Service) runOne(ctx context.Context, q queued) {
	defer q.ent.running.Store(false)

	jctx := ctx
	var cancel context.CancelFunc
	if q.ent.timeout > 0 {
		jctx, cancel = context.WithTimeout(ctx, q.ent.timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", slog.String("job", q.name), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		return q.ent.job(jctx)
	}()
	rec := RunRecord{Name: q.name, Started: start, Duration: time.Since(start)}
	if err != nil {
		rec.Err = err.Error()
		s.log.Warn("job failed", slog.String("job", q.name), slog.Duration("dur", rec.Duration), slog.String("err", rec.Err))
	} else {
		s.log.Debug("job done", slog.String("job", q.name), slog.Duration("dur", rec.Duration))
	}
	s.record(rec)
}

func (s *Service) record(r RunRecord) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
}

// History returns a copy of the recent run records, oldest first.
func (s *Service) History() []RunRecord {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]RunRecord(nil), s.history...)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("scheduler: time must be HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("scheduler: bad hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("scheduler: bad minute in %q", s)
	}
	return hour, minute, nil
}
