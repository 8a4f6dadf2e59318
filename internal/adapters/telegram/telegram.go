// Package telegram adapts gopkg.in/telebot.v4 long polling to the
// transport-neutral kit contracts.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"signbot/internal/kit"
)

type Options struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log *slog.Logger
	bot *tele.Bot

	mu      sync.Mutex
	started bool
	stopped chan struct{}

	dropped atomic.Int64
}

func New(log *slog.Logger, opts Options) (*Adapter, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: token required")
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 10 * time.Second
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  opts.Token,
		Poller: &tele.LongPoller{Timeout: opts.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	return &Adapter{
		log:     log,
		bot:     bot,
		stopped: make(chan struct{}),
	}, nil
}

// Start runs the long poller, translating incoming text messages into kit
// updates on out. It blocks until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("telegram: already started")
	}
	a.started = true
	a.mu.Unlock()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				ChatType:     string(m.Chat.Type),
				Text:         m.Text,
			},
		}
		select {
		case out <- up:
		default:
			// Dispatch queue is full; drop rather than stall the poller.
			n := a.dropped.Add(1)
			a.log.Warn("update dropped, queue full", slog.Int64("dropped_total", n))
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()

	a.log.Info("telegram poller started", slog.String("bot", a.bot.Me.Username))
	a.bot.Start()
	close(a.stopped)
	a.log.Info("telegram poller stopped", slog.Int64("dropped_total", a.dropped.Load()))
	return nil
}

// Stop waits for the poller to drain, bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-a.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if text == "" {
		return kit.MessageRef{}, fmt.Errorf("telegram: empty message")
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	msg, err := a.bot.Send(chat, text, sendOpt)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("telegram send: %w", err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}
