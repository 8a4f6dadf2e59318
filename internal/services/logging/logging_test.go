package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAtomicHandlerSwap(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	ah := NewAtomicHandler(slog.NewTextHandler(&a, nil))
	log := slog.New(ah)

	log.Info("first")
	ah.Store(slog.NewTextHandler(&b, nil))
	log.Info("second")

	if !strings.Contains(a.String(), "first") || strings.Contains(a.String(), "second") {
		t.Errorf("buffer a = %q", a.String())
	}
	if !strings.Contains(b.String(), "second") {
		t.Errorf("buffer b = %q", b.String())
	}
}

func TestFanoutDuplicates(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	f := NewFanout(
		slog.NewTextHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	)
	slog.New(f).Info("hello", slog.String("k", "v"))

	if !strings.Contains(a.String(), "hello") {
		t.Errorf("text sink missed record: %q", a.String())
	}
	if !strings.Contains(b.String(), `"hello"`) {
		t.Errorf("json sink missed record: %q", b.String())
	}
}

func TestFanoutRespectsSinkLevels(t *testing.T) {
	t.Parallel()

	var warnOnly bytes.Buffer
	f := NewFanout(slog.NewTextHandler(&warnOnly, &slog.HandlerOptions{Level: slog.LevelWarn}))
	log := slog.New(f)

	log.Info("quiet")
	log.Warn("loud")

	out := warnOnly.String()
	if strings.Contains(out, "quiet") {
		t.Error("info leaked into warn-only sink")
	}
	if !strings.Contains(out, "loud") {
		t.Error("warn record missing")
	}
}

func TestTelegramHandlerRateLimitsAndFormats(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sent []string
	h := newTelegramHandler(TelegramSink{
		MinLevel:   "warn",
		RatePerSec: 1,
		Send: func(_ context.Context, text string) error {
			mu.Lock()
			sent = append(sent, text)
			mu.Unlock()
			return nil
		},
	})
	log := slog.New(h)

	log.Info("below threshold")
	log.Warn("something odd", slog.String("comp", "x"))
	// Burst beyond the limiter: excess is dropped, never blocks.
	for i := 0; i < 10; i++ {
		log.Error("flood")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sent) == 0 {
		t.Fatal("warn record was not delivered")
	}
	if len(sent) > 2 {
		t.Errorf("rate limiter let %d messages through", len(sent))
	}
	if !strings.Contains(sent[0], "something odd") || !strings.Contains(sent[0], "comp=x") {
		t.Errorf("formatted message = %q", sent[0])
	}
}
