// Package nws fetches the latest observation of a National Weather Service
// station and caches it so the station polls api.weather.gov at most once
// every 24 consultations.
package nws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/msolberg/weather-station/internal/convert"
	"github.com/msolberg/weather-station/internal/httpkit"
)

const (
	DefaultBaseURL = "https://api.weather.gov"

	// Cooldown is the number of consultations served per fetch.
	Cooldown = 24
)

var ErrFetch = errors.New("nws fetch failed")

// Observation holds the fields used to fill gaps in the station's own data.
// A nil field was missing or null in the NWS response.
type Observation struct {
	DewpointC     *float64
	PressureMb    *float64
	WindSpeed     *float64 // km/h
	WindDirection *float64 // degrees true
}

func (o Observation) Empty() bool {
	return o.DewpointC == nil && o.PressureMb == nil && o.WindSpeed == nil && o.WindDirection == nil
}

type quantity struct {
	UnitCode string   `json:"unitCode"`
	Value    *float64 `json:"value"`
}

type observationResponse struct {
	Properties struct {
		Timestamp          string   `json:"timestamp"`
		Dewpoint           quantity `json:"dewpoint"`
		BarometricPressure quantity `json:"barometricPressure"`
		WindSpeed          quantity `json:"windSpeed"`
		WindDirection      quantity `json:"windDirection"`
	} `json:"properties"`
}

type Option func(*Cache)

// WithBaseURL points the cache at another API root, mostly for tests.
func WithBaseURL(u string) Option {
	return func(c *Cache) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cache) { c.client = hc }
}

// Cache is safe for concurrent use.
type Cache struct {
	client    *http.Client
	baseURL   string
	stationID string
	requireQC bool
	logger    *slog.Logger

	mu        sync.Mutex
	countdown int
	cached    *observationResponse
}

func NewCache(stationID string, requireQC bool, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		baseURL:   DefaultBaseURL,
		stationID: stationID,
		requireQC: requireQC,
		logger:    logger.With("station", stationID),
		countdown: Cooldown,
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		c.client = httpkit.NewClient()
	}
	return c
}

// Get returns the latest observation. It fetches when the countdown is at
// Cooldown and otherwise serves the cached response, decrementing the
// countdown and wrapping it back to Cooldown at zero. A failed fetch leaves
// the countdown untouched and returns an empty Observation with the error.
func (c *Cache) Get(ctx context.Context) (Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.countdown == Cooldown {
		return c.refreshLocked(ctx)
	}

	c.countdown--
	if c.countdown == 0 {
		c.countdown = Cooldown
	}
	c.logger.Debug("serving cached nws observation", "countdown", c.countdown)
	return extract(c.cached), nil
}

// Refresh fetches regardless of the countdown.
func (c *Cache) Refresh(ctx context.Context) (Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Countdown reports the consultations left before the next fetch.
func (c *Cache) Countdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

func (c *Cache) refreshLocked(ctx context.Context) (Observation, error) {
	resp, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("unable to get weather data from nws", "error", err, "countdown", c.countdown)
		return Observation{}, err
	}
	c.cached = resp
	c.countdown = Cooldown - 1

	c.logger.Info("fetched nws observation", "observed_at", resp.Properties.Timestamp)
	return extract(resp), nil
}

func (c *Cache) fetch(ctx context.Context) (*observationResponse, error) {
	u := fmt.Sprintf("%s/stations/%s/observations/latest?require_qc=%s",
		c.baseURL, url.PathEscape(c.stationID), strconv.FormatBool(c.requireQC))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out observationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrFetch, err)
	}
	return &out, nil
}

func extract(r *observationResponse) Observation {
	p := r.Properties
	obs := Observation{
		DewpointC:     p.Dewpoint.Value,
		WindSpeed:     p.WindSpeed.Value,
		WindDirection: p.WindDirection.Value,
	}
	if p.BarometricPressure.Value != nil {
		mb := convert.PaToMb(*p.BarometricPressure.Value)
		obs.PressureMb = &mb
	}
	return obs
}
