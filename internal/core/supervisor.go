package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Supervisor runs named goroutines, captures panics as errors, and cancels
// all siblings when any of them fails.
type Supervisor struct {
	log *slog.Logger

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	firstEr error
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Context derives the supervised context. Must be called before Go.
func (s *Supervisor) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx
}

func (s *Supervisor) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("supervised goroutine panicked",
					slog.String("name", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				s.fail(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()

		s.log.Debug("goroutine started", slog.String("name", name))
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("goroutine failed", slog.String("name", name), slog.String("err", err.Error()))
			s.fail(fmt.Errorf("%s: %w", name, err))
			return
		}
		s.log.Debug("goroutine finished", slog.String("name", name))
	}()
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstEr == nil {
		s.firstEr = err
	}
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until all supervised goroutines return, then reports the
// first failure, if any.
func (s *Supervisor) Wait() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstEr
}

// Shutdown cancels the supervised context and waits for everything to stop.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return s.Wait()
}
