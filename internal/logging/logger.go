// Package logging builds the process logger: colourised text while
// developing, JSON records tagged with the station's identity otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/msolberg/weather-station/internal/config"
)

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName)
}

func newLogger(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	attrs := []any{"app", appName}
	if id := cfg.Station.AWS.ClientID; id != "" {
		attrs = append(attrs, "client_id", id)
	}

	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.AppEnv != "dev",
		})
		return slog.New(h).With(attrs...)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(append(attrs,
		"version", version,
		"env", cfg.AppEnv,
	)...)
}
