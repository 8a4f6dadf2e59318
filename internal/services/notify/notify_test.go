package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"signbot/internal/kit"
)

type recordingAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *recordingAdapter) Stop(ctx context.Context) error                         { return nil }
func (r *recordingAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (r *recordingAdapter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	ad := &recordingAdapter{}
	s := New(quietLogger(), ad, Config{Enabled: true, ChatID: -1, RatePerSec: 100, QueueSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = s.Run(ctx); close(done) }()

	if err := s.Notify(ctx, kit.Notification{Title: "hello", Body: "world", Severity: kit.SeverityWarn}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if msgs := ad.snapshot(); len(msgs) == 1 {
			if !strings.Contains(msgs[0], "hello") || !strings.Contains(msgs[0], "world") || !strings.Contains(msgs[0], "⚠️") {
				t.Errorf("message = %q", msgs[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("notification not delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestNotifyDisabledIsNoop(t *testing.T) {
	t.Parallel()

	ad := &recordingAdapter{}
	s := New(quietLogger(), ad, Config{Enabled: false})
	if err := s.Notify(context.Background(), kit.Notification{Title: "x"}); err != nil {
		t.Errorf("disabled notify returned %v", err)
	}
}

func TestNotifyQueueFullDropsWithError(t *testing.T) {
	t.Parallel()

	ad := &recordingAdapter{}
	s := New(quietLogger(), ad, Config{Enabled: true, ChatID: -1, QueueSize: 1})

	// No Run loop draining: second enqueue must fail fast, not block.
	if err := s.Notify(context.Background(), kit.Notification{Title: "a"}); err != nil {
		t.Fatal(err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Notify(context.Background(), kit.Notification{Title: "b"}) }()
	select {
	case err := <-errCh:
		if err == nil {
			t.Error("overflow should report an error")
		}
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on full queue")
	}
}
