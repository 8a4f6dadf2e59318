// Package logging builds the slog pipeline: an atomically swappable root
// handler fanning out to console, file and (optionally) a rate-limited
// Telegram sink.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

type Options struct {
	Level   string
	Console bool
	// FilePath enables a JSON log file when non-empty.
	FilePath string
}

type Service struct {
	atomic *AtomicHandler

	mu    sync.Mutex
	sinks []slog.Handler
	level slog.Level
	file  *os.File
}

func New(opts Options) (*Service, error) {
	s := &Service{atomic: NewAtomicHandler(nil)}
	s.level = ParseLevel(opts.Level)

	if opts.Console {
		s.sinks = append(s.sinks, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.level}))
	}
	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
		s.sinks = append(s.sinks, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: s.level}))
	}
	if len(s.sinks) == 0 {
		// never leave the app mute
		s.sinks = append(s.sinks, slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.level}))
	}
	s.rebuild()
	return s, nil
}

func (s *Service) Logger() *slog.Logger { return slog.New(s.atomic) }

// AttachTelegram adds the Telegram sink. May be called after New, once the
// chat adapter exists.
func (s *Service) AttachTelegram(sink TelegramSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, newTelegramHandler(sink))
	s.rebuild()
}

func (s *Service) rebuild() {
	s.atomic.Store(NewFanout(s.sinks...))
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AtomicHandler is a slog.Handler whose target can be swapped at runtime
// without tearing down loggers already derived from it.
type AtomicHandler struct {
	h atomic.Pointer[slog.Handler]
}

func NewAtomicHandler(h slog.Handler) *AtomicHandler {
	a := &AtomicHandler{}
	if h == nil {
		h = slog.NewTextHandler(os.Stderr, nil)
	}
	a.h.Store(&h)
	return a
}

func (a *AtomicHandler) Store(h slog.Handler) {
	if h == nil {
		return
	}
	a.h.Store(&h)
}

func (a *AtomicHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return (*a.h.Load()).Enabled(ctx, l)
}

func (a *AtomicHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*a.h.Load()).Handle(ctx, r)
}

func (a *AtomicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return (*a.h.Load()).WithAttrs(attrs)
}

func (a *AtomicHandler) WithGroup(name string) slog.Handler {
	return (*a.h.Load()).WithGroup(name)
}

// Fanout duplicates records to several handlers. A failing sink does not
// block the others; the first error is reported.
type Fanout struct {
	handlers []slog.Handler
}

func NewFanout(handlers ...slog.Handler) *Fanout {
	return &Fanout{handlers: handlers}
}

func (f *Fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &Fanout{handlers: next}
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &Fanout{handlers: next}
}

// TelegramSink configures the chat log sink.
type TelegramSink struct {
	MinLevel   string
	RatePerSec int
	Send       func(ctx context.Context, text string) error
}

type telegramHandler struct {
	min   slog.Level
	lim   *rate.Limiter
	send  func(ctx context.Context, text string) error
	attrs []slog.Attr
}

func newTelegramHandler(sink TelegramSink) slog.Handler {
	per := sink.RatePerSec
	if per <= 0 {
		per = 1
	}
	min := ParseLevel(sink.MinLevel)
	if sink.MinLevel == "" {
		min = slog.LevelWarn
	}
	return &telegramHandler{
		min:  min,
		lim:  rate.NewLimiter(rate.Limit(per), per),
		send: sink.Send,
	}
}

func (h *telegramHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.min
}

func (h *telegramHandler) Handle(ctx context.Context, r slog.Record) error {
	// Drop instead of blocking the whole log pipeline when over rate.
	if !h.lim.Allow() {
		return nil
	}

	var b strings.Builder
	b.WriteString(levelEmoji(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteString(": ")
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		b.WriteString("\n")
		b.WriteString(a.Key)
		b.WriteString("=")
		b.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString("\n")
		b.WriteString(a.Key)
		b.WriteString("=")
		b.WriteString(a.Value.String())
		return true
	})
	return h.send(ctx, b.String())
}

func (h *telegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *telegramHandler) WithGroup(string) slog.Handler { return h }

func levelEmoji(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "🛑"
	case l >= slog.LevelWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
