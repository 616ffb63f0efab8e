package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/msolberg/weather-station/internal/httpkit"
)

// AwairReader polls the local air-data endpoint of an Awair monitor.
type AwairReader struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// awairData is the subset of /air-data/latest the station uses.
type awairData struct {
	Temp  *float64 `json:"temp"`
	Humid *float64 `json:"humid"`
	VOC   *float64 `json:"voc"`
}

func NewAwair(url string, client *http.Client, logger *slog.Logger) *AwairReader {
	return &AwairReader{url: url, client: client, logger: logger}
}

// Read never returns an error: device and network faults produce an empty
// Sample.
func (r *AwairReader) Read(ctx context.Context) (Sample, error) {
	data, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("awair read failed", "url", r.url, "error", err)
		return Sample{}, nil
	}
	return Sample{
		TemperatureC: data.Temp,
		Humidity:     data.Humid,
		Gas:          data.VOC,
	}, nil
}

func (r *AwairReader) fetch(ctx context.Context) (awairData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return awairData{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return awairData{}, err
	}
	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 256)
		return awairData{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var data awairData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return awairData{}, fmt.Errorf("decode air data: %w", err)
	}
	return data, nil
}

func (r *AwairReader) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
