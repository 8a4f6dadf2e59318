package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"signbot/internal/core"
	"signbot/plugins/groupsign"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := core.NewApp(configPath)
	if err := app.Build(); err != nil {
		return err
	}

	if err := app.Register(groupsign.New()); err != nil {
		return err
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	err := app.Start(ctx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	app.Stop()
	return err
}
