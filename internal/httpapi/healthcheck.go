package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// BrokerStatus reports whether the MQTT connection is currently up.
type BrokerStatus interface {
	IsConnected() bool
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type healthchecker struct {
	broker BrokerStatus
	db     Pinger
	out    responder
	logger *slog.Logger
}

type health struct {
	Status  string `json:"status"`
	Station string `json:"station,omitempty"`
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.broker != nil && !h.broker.IsConnected() {
		h.out.error(w, http.StatusServiceUnavailable, "broker not connected")
		return
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("failed to check database connectivity", "error", err)
			h.out.error(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}
	h.out.json(w, http.StatusOK, health{Status: "ok", Station: h.out.station})
}

func registerHealthcheck(mux *http.ServeMux, broker BrokerStatus, db Pinger, out responder) {
	h := &healthchecker{broker: broker, db: db, out: out, logger: out.logger}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
