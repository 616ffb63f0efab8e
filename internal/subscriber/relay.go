package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/convert"
	"github.com/msolberg/weather-station/internal/httpkit"
)

// DefaultRelayURL is the Weather Underground personal weather station
// upload endpoint.
const DefaultRelayURL = "https://weatherstation.wunderground.com/weatherstation/updateweatherstation.php"

// Upload is one outdoor observation sent upstream. Without pressure the
// barometer and dew point parameters are left out.
type Upload struct {
	TemperatureF float64
	Humidity     float64
	PressureMb   *float64
}

// Query builds the upload query string for a station.
func (u Upload) Query(stationID, stationPass string) url.Values {
	q := url.Values{}
	q.Set("ID", stationID)
	q.Set("PASSWORD", stationPass)
	q.Set("dateutc", "now")
	q.Set("humidity", formatFloat(u.Humidity))
	q.Set("tempf", formatFloat(u.TemperatureF))
	if u.PressureMb != nil {
		q.Set("baromin", formatFloat(convert.MbToInHg(*u.PressureMb)))
		q.Set("dewptf", formatFloat(convert.DewPointF(u.TemperatureF, u.Humidity)))
	}
	q.Set("action", "updateraw")
	return q
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type RelayOption func(*Relay)

func WithRelayURL(u string) RelayOption {
	return func(r *Relay) { r.url = u }
}

func WithRelayClient(hc *http.Client) RelayOption {
	return func(r *Relay) { r.client = hc }
}

// Relay uploads observations with an unauthenticated query-string GET.
type Relay struct {
	client      *http.Client
	url         string
	stationID   string
	stationPass string
	logger      *slog.Logger
}

func NewRelay(wu config.WU, logger *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		url:         DefaultRelayURL,
		stationID:   wu.StationID,
		stationPass: wu.StationPass,
		logger:      logger.With("station", wu.StationID),
	}
	for _, o := range opts {
		o(r)
	}
	if r.client == nil {
		r.client = httpkit.NewClient()
	}
	return r
}

func (r *Relay) Upload(ctx context.Context, u Upload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.URL.RawQuery = u.Query(r.stationID, r.stationPass).Encode()

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return fmt.Errorf("upload: status %d: %s", resp.StatusCode, body)
	}
	httpkit.DrainAndClose(resp.Body, 4096)

	r.logger.Info("uploaded data to wunderground", "status", resp.StatusCode)
	return nil
}
