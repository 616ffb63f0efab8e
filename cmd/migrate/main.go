package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/db"
	"github.com/msolberg/weather-station/internal/logging"
	"github.com/msolberg/weather-station/internal/migrate"
)

const appName = "migrate"

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	dbPath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "SQLITE_PATH is not set")
		os.Exit(1)
	}
	dbPath = filepath.Clean(dbPath)

	logger := logging.New(config.Config{AppEnv: "dev", LogLevel: slog.LevelInfo}, version, appName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], dbPath, logger); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd, dbPath string, logger *slog.Logger) error {
	switch cmd {
	case "migrate":
	default:
		return errors.New("unknown command")
	}

	conn, err := db.Open(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	applied, err := migrate.Run(ctx, conn, logger)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Println("no pending migrations")
		return nil
	}
	for _, m := range applied {
		fmt.Printf("applied %s_%s\n", m.Version, m.Name)
	}
	fmt.Println("migrations applied")
	return nil
}
