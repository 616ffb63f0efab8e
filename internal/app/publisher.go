package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/msolberg/weather-station/internal/broker"
	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/publisher"
	"github.com/msolberg/weather-station/internal/sensor"
)

// RunPublisher reads the configured sensor and publishes a reading every
// SENSOR_POLL_INTERVAL until ctx is cancelled. It returns a non-nil error
// only for configuration, connection or persistent sensor failures.
func RunPublisher(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Station.ValidatePublisher(); err != nil {
		return err
	}

	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"configPath", cfg.ConfigPath,
		"sensor", cfg.Station.Devices.Sensor,
		"location", cfg.Station.Devices.ReadingLocation(),
		"endpoint", cfg.Station.AWS.Endpoint,
		"clientId", cfg.Station.AWS.ClientID,
		"topic", cfg.Station.AWS.MessageTopic,
		"interval", cfg.SensorPollInterval,
	)

	reader, err := sensor.Open(cfg.Station.Devices, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("sensor close", "error", err)
		}
	}()

	brokerOpts, err := broker.OptionsFromConfig(cfg.Station.AWS)
	if err != nil {
		return err
	}
	client := broker.NewClient(brokerOpts, logger)
	defer client.Disconnect()

	pub := publisher.New(reader, client, cfg.Station.AWS.MessageTopic, cfg.SensorPollInterval, logger,
		publisher.WithLocation(cfg.Station.Devices.ReadingLocation()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Monitor(gctx, client, logger)
	})
	g.Go(func() error {
		err := pub.Run(gctx)
		stats := pub.Stats()
		logger.Info("publisher stopped",
			"published", stats.Published,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
		)
		return err
	})
	return g.Wait()
}
