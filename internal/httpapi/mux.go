// Package httpapi serves the subscriber's HTTP surface: Prometheus
// metrics, health, reading history and a websocket gauge stream.
package httpapi

import (
	"log/slog"
	"net/http"
)

// Deps are the collaborators behind the endpoints. A nil Broker or DB is
// left out of the health check. Without Readings the history endpoint
// answers 503; without Stream there is no live endpoint. Station names the
// station in response bodies.
type Deps struct {
	Station  string
	Metrics  http.Handler
	Broker   BrokerStatus
	DB       Pinger
	Readings ReadingStore
	Stream   *Stream
	Logger   *slog.Logger
}

func NewMux(deps Deps) *http.ServeMux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := responder{station: deps.Station, logger: logger}

	mux := http.NewServeMux()
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	registerHealthcheck(mux, deps.Broker, deps.DB, out)
	registerReadings(mux, deps.Readings, out)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream", deps.Stream.handler(out))
	}
	return mux
}
