package subscriber

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpload_Query(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		want   map[string]string
		absent []string
	}{
		{
			name:   "with pressure",
			upload: Upload{TemperatureF: 68, Humidity: 50, PressureMb: types.Float(1015.917)},
			want: map[string]string{
				"ID":       "KMABOSTO123",
				"PASSWORD": "hunter2",
				"dateutc":  "now",
				"humidity": "50",
				"tempf":    "68",
				"dewptf":   "50",
				"action":   "updateraw",
			},
		},
		{
			name:   "without pressure",
			upload: Upload{TemperatureF: 55.4, Humidity: 80},
			want: map[string]string{
				"humidity": "80",
				"tempf":    "55.4",
				"action":   "updateraw",
			},
			absent: []string{"baromin", "dewptf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.upload.Query("KMABOSTO123", "hunter2")
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.absent {
				if q.Has(k) {
					t.Errorf("%s present, want absent", k)
				}
			}
		})
	}
}

func TestUpload_QueryBarometer(t *testing.T) {
	q := Upload{TemperatureF: 68, Humidity: 50, PressureMb: types.Float(1015.917)}.Query("id", "pw")
	if got := q.Get("baromin"); got != "30" {
		t.Errorf("baromin = %q, want 30", got)
	}
}

func TestRelay_Upload(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		_, _ = io.WriteString(w, "success\n")
	}))
	defer srv.Close()

	r := NewRelay(config.WU{StationID: "KMABOSTO123", StationPass: "hunter2"}, discardLogger(), WithRelayURL(srv.URL))
	if err := r.Upload(context.Background(), Upload{TemperatureF: 60, Humidity: 70}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got.Get("ID") != "KMABOSTO123" || got.Get("tempf") != "60" {
		t.Errorf("query = %v", got)
	}
}

func TestRelay_UploadNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRelay(config.WU{StationID: "x", StationPass: "y"}, discardLogger(), WithRelayURL(srv.URL), WithRelayClient(srv.Client()))
	err := r.Upload(context.Background(), Upload{TemperatureF: 60, Humidity: 70})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Upload = %v, want status 401 error", err)
	}
}
