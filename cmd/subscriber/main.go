package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/msolberg/weather-station/internal/app"
	"github.com/msolberg/weather-station/internal/broker"
	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/logging"
)

const appName = "subscriber"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunSubscriber(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		var rejected *broker.RejectedError
		if errors.As(err, &rejected) {
			fmt.Fprintf(os.Stderr, "Server rejected resubscribe to topic: %s\n", rejected.Topic)
		}
		slog.Error("run failed", "err", err)
		stop()
		os.Exit(1)
	}

	slog.Info("shutting down")
}
