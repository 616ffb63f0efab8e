// Package subscriber turns station readings received over MQTT into gauge
// updates, optional history rows and uploads to Weather Underground.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/nws"
	"github.com/msolberg/weather-station/internal/types"
)

const (
	LocationIndoor  = config.LocationIndoor
	LocationOutdoor = config.LocationOutdoor

	defaultCallTimeout = 15 * time.Second
)

// Uploader sends an outdoor observation upstream. *Relay satisfies it.
type Uploader interface {
	Upload(ctx context.Context, u Upload) error
}

// Fallback supplies observations from a secondary source. *nws.Cache
// satisfies it.
type Fallback interface {
	Get(ctx context.Context) (nws.Observation, error)
}

// Recorder persists accepted readings.
type Recorder interface {
	Record(ctx context.Context, topic, location string, r types.Reading) error
}

type HandlerOption func(*Handler)

func WithUploader(u Uploader) HandlerOption {
	return func(h *Handler) { h.uploader = u }
}

func WithFallback(f Fallback) HandlerOption {
	return func(h *Handler) { h.fallback = f }
}

func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

// WithObserver registers fn to receive a gauge snapshot after every
// accepted message.
func WithObserver(fn func(map[Gauge]float64)) HandlerOption {
	return func(h *Handler) { h.observer = fn }
}

// WithCallTimeout bounds the outbound calls made for one message.
func WithCallTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.callTimeout = d }
}

// Handler processes one inbound message at a time. paho may deliver
// messages concurrently, so HandleMessage serialises on mu and the gauges,
// fallback cache and relay decision never race.
type Handler struct {
	gauges      *GaugeSet
	policy      RoutingPolicy
	uploader    Uploader
	fallback    Fallback
	recorder    Recorder
	observer    func(map[Gauge]float64)
	callTimeout time.Duration
	logger      *slog.Logger

	mu                 sync.Mutex
	indoorPressureSeen bool
}

func NewHandler(gauges *GaugeSet, policy RoutingPolicy, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		gauges:      gauges,
		policy:      policy,
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleMessage applies one payload. Malformed payloads are logged and
// discarded without touching any gauge; missing fields are tolerated.
func (h *Handler) HandleMessage(ctx context.Context, topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	reading, fields, err := parseReading(payload)
	if err != nil {
		h.logger.Warn("received malformed message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}
	location := h.classify(reading, fields)
	indoor := location == LocationIndoor

	if missing := missingFields(reading, indoor); len(missing) > 0 {
		h.logger.Info("received partial reading", "topic", topic, "missing", missing)
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	if indoor {
		h.applyIndoor(reading)
	} else {
		h.applyOutdoor(ctx, reading)
	}
	if h.observer != nil {
		h.observer(h.gauges.Snapshot())
	}

	if h.recorder != nil && !reading.Empty() {
		if err := h.recorder.Record(ctx, topic, location, reading); err != nil {
			h.logger.Error("failed to record reading", "topic", topic, "error", err)
		}
	}

	if indoor && !h.policy.RelayIndoor {
		return
	}
	h.relay(ctx)
}

// parseReading decodes payload and returns the keys it carried, null
// values included.
func parseReading(payload []byte) (types.Reading, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return types.Reading{}, nil, err
	}
	if fields == nil {
		return types.Reading{}, nil, fmt.Errorf("payload is not a JSON object")
	}

	var r types.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return types.Reading{}, nil, err
	}
	return sanitize(r), fields, nil
}

// classify returns where a reading was taken. A location label from the
// publisher wins. Otherwise a "pressure" key, even a null one, marks the
// indoor sensor, and so does a "gas" key under GasMeansIndoor.
func (h *Handler) classify(r types.Reading, fields map[string]json.RawMessage) string {
	switch r.Location {
	case LocationIndoor, LocationOutdoor:
		return r.Location
	case "":
	default:
		h.logger.Warn("ignoring unknown location label", "location", r.Location)
	}

	if _, ok := fields["pressure"]; ok {
		return LocationIndoor
	}
	if _, ok := fields["gas"]; ok && h.policy.GasMeansIndoor {
		return LocationIndoor
	}
	return LocationOutdoor
}

// sanitize drops physically impossible values.
func sanitize(r types.Reading) types.Reading {
	if r.Humidity != nil && (*r.Humidity < 0 || *r.Humidity > 100) {
		r.Humidity = nil
	}
	if r.Pressure != nil && *r.Pressure <= 0 {
		r.Pressure = nil
	}
	return r
}

func missingFields(r types.Reading, indoor bool) []string {
	var missing []string
	if r.TemperatureF == nil {
		missing = append(missing, "temperature_f")
	}
	if r.Humidity == nil {
		missing = append(missing, "humidity")
	}
	if indoor {
		if r.Pressure == nil {
			missing = append(missing, "pressure")
		}
		if r.Gas == nil {
			missing = append(missing, "gas")
		}
	}
	return missing
}

func (h *Handler) applyIndoor(r types.Reading) {
	h.setIfPresent(InsideTemperature, r.TemperatureF)
	h.setIfPresent(InsideHumidity, r.Humidity)
	h.setIfPresent(InsideVOC, r.Gas)
	if h.policy.IndoorPressureAsOutdoor && r.Pressure != nil {
		h.gauges.Set(OutsidePressure, *r.Pressure)
		h.indoorPressureSeen = true
	}
}

func (h *Handler) applyOutdoor(ctx context.Context, r types.Reading) {
	h.setIfPresent(OutsideTemperature, r.TemperatureF)
	h.setIfPresent(OutsideHumidity, r.Humidity)
	if r.Pressure != nil {
		h.gauges.Set(OutsidePressure, *r.Pressure)
		return
	}

	if !h.policy.FallbackPressure || h.fallback == nil || h.indoorPressureSeen {
		return
	}
	obs, err := h.fallback.Get(ctx)
	if err != nil {
		h.logger.Warn("fallback observation unavailable", "error", err)
		return
	}
	if obs.PressureMb != nil {
		h.gauges.Set(OutsidePressure, *obs.PressureMb)
	}
}

// relay uploads the current outdoor gauges. Zero outdoor humidity means no
// outdoor reading has arrived yet and nothing is sent.
func (h *Handler) relay(ctx context.Context) {
	if h.uploader == nil {
		return
	}

	up := Upload{
		TemperatureF: h.gauges.Value(OutsideTemperature),
		Humidity:     h.gauges.Value(OutsideHumidity),
	}
	if up.Humidity == 0 {
		h.logger.Info("outside humidity is 0, not sending data")
		return
	}
	if p := h.gauges.Value(OutsidePressure); p != 0 {
		up.PressureMb = &p
	}

	if err := h.uploader.Upload(ctx, up); err != nil {
		h.logger.Warn("error uploading data to wunderground", "error", err)
	}
}

func (h *Handler) setIfPresent(name Gauge, v *float64) {
	if v != nil {
		h.gauges.Set(name, *v)
	}
}
