// Package notify delivers operator notifications to a designated chat,
// decoupled from callers by a bounded queue and a rate limiter.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"signbot/internal/kit"
)

type Config struct {
	Enabled    bool
	ChatID     int64
	RatePerSec int
	QueueSize  int
}

type Service struct {
	log     *slog.Logger
	adapter kit.Adapter
	cfg     Config
	lim     *rate.Limiter
	queue   chan kit.Notification
}

func New(log *slog.Logger, adapter kit.Adapter, cfg Config) *Service {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Service{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		lim:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan kit.Notification, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Notify enqueues a notification. It never blocks; when the queue is full
// the notification is dropped and an error returned.
func (s *Service) Notify(_ context.Context, n kit.Notification) error {
	if !s.cfg.Enabled {
		return nil
	}
	select {
	case s.queue <- n:
		return nil
	default:
		s.log.Warn("notification dropped, queue full", slog.String("title", n.Title))
		return fmt.Errorf("notify: queue full")
	}
}

// Run drains the queue until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.queue:
			if err := s.lim.Wait(ctx); err != nil {
				return nil
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n kit.Notification) {
	text := formatNotification(n)
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.adapter.SendText(sctx, kit.ChatTarget{ChatID: s.cfg.ChatID}, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		s.log.Warn("notification send failed", slog.String("title", n.Title), slog.String("err", err.Error()))
	}
}

func formatNotification(n kit.Notification) string {
	icon := "ℹ️"
	switch n.Severity {
	case kit.SeverityWarn:
		icon = "⚠️"
	case kit.SeverityError:
		icon = "🛑"
	}
	if n.Body == "" {
		return icon + " " + n.Title
	}
	return icon + " " + n.Title + "\n" + n.Body
}
