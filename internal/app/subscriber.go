package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msolberg/weather-station/internal/broker"
	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/db"
	"github.com/msolberg/weather-station/internal/history"
	"github.com/msolberg/weather-station/internal/httpapi"
	"github.com/msolberg/weather-station/internal/migrate"
	"github.com/msolberg/weather-station/internal/nws"
	"github.com/msolberg/weather-station/internal/subscriber"
)

const shutdownTimeout = 10 * time.Second

// RunSubscriber subscribes to the station topic, keeps the gauges current,
// relays outdoor observations and serves the HTTP endpoints until ctx is
// cancelled. A subscription the broker rejects is returned as a
// *broker.RejectedError.
func RunSubscriber(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) error {
	if err := cfg.Station.ValidateSubscriber(); err != nil {
		return err
	}
	o := buildOptions(opts)

	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"configPath", cfg.ConfigPath,
		"endpoint", cfg.Station.AWS.Endpoint,
		"clientId", cfg.Station.AWS.ClientID,
		"topic", cfg.Station.AWS.MessageTopic,
		"metricsAddr", cfg.MetricsAddr,
		"sqlitePath", cfg.SQLitePath,
		"wuStation", cfg.Station.WU.StationID,
		"nwsStation", cfg.Station.NWS.StationID,
	)

	policy := subscriber.PolicyFromConfig(cfg.Station.Routing)
	gauges := subscriber.NewGaugeSet()

	var relayOpts []subscriber.RelayOption
	if o.relayURL != "" {
		relayOpts = append(relayOpts, subscriber.WithRelayURL(o.relayURL))
	}
	if o.httpClient != nil {
		relayOpts = append(relayOpts, subscriber.WithRelayClient(o.httpClient))
	}
	handlerOpts := []subscriber.HandlerOption{
		subscriber.WithUploader(subscriber.NewRelay(cfg.Station.WU, logger, relayOpts...)),
	}

	if policy.FallbackPressure {
		var cacheOpts []nws.Option
		if o.nwsBaseURL != "" {
			cacheOpts = append(cacheOpts, nws.WithBaseURL(o.nwsBaseURL))
		}
		if o.httpClient != nil {
			cacheOpts = append(cacheOpts, nws.WithHTTPClient(o.httpClient))
		}
		requireQC := true
		if cfg.Station.NWS.RequireQC != nil {
			requireQC = *cfg.Station.NWS.RequireQC
		}
		cache := nws.NewCache(cfg.Station.NWS.StationID, requireQC, logger, cacheOpts...)
		handlerOpts = append(handlerOpts, subscriber.WithFallback(cache))
	}

	stream := httpapi.NewStream(logger)
	handlerOpts = append(handlerOpts, subscriber.WithObserver(stream.Publish))

	deps := httpapi.Deps{
		Station: cfg.Station.WU.StationID,
		Metrics: gauges.Handler(),
		Stream:  stream,
		Logger:  logger,
	}

	if cfg.SQLitePath != "" {
		dbConn, err := db.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(dbConn); err != nil {
				logger.Error("db close", "error", err)
			}
		}()

		if _, err := migrate.Run(ctx, dbConn, logger); err != nil {
			return err
		}

		repo := history.NewRepository(dbConn)
		handlerOpts = append(handlerOpts, subscriber.WithRecorder(repo))
		deps.DB = repo
		deps.Readings = repo
	}

	handler := subscriber.NewHandler(gauges, policy, logger, handlerOpts...)

	brokerOpts, err := broker.OptionsFromConfig(cfg.Station.AWS)
	if err != nil {
		return err
	}
	client := broker.NewClient(brokerOpts, logger)
	defer client.Disconnect()

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	topic := cfg.Station.AWS.MessageTopic
	err = client.Subscribe(topic, func(topic string, payload []byte) {
		handler.HandleMessage(ctx, topic, payload)
	})
	if err != nil {
		return err
	}
	logger.Info("subscribed", "topic", topic)

	deps.Broker = client
	srv := httpapi.NewServer(cfg.MetricsAddr, httpapi.NewMux(deps), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Monitor(gctx, client, logger)
	})
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("mqtt disconnecting")
		client.Disconnect()

		logger.Info("http shutting down")
		stream.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
