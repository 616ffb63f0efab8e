package nws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/msolberg/weather-station/internal/httpkit"
)

const latestKBOS = `{
  "type": "Feature",
  "properties": {
    "timestamp": "2026-10-17T11:54:00+00:00",
    "dewpoint": {"unitCode": "wmoUnit:degC", "value": 8.3, "qualityControl": "V"},
    "barometricPressure": {"unitCode": "wmoUnit:Pa", "value": 101320, "qualityControl": "V"},
    "windSpeed": {"unitCode": "wmoUnit:km_h-1", "value": 14.76, "qualityControl": "V"},
    "windDirection": {"unitCode": "wmoUnit:degree_(angle)", "value": 250, "qualityControl": "V"}
  }
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNWS struct {
	hits   atomic.Int32
	status atomic.Int32
	body   string
	last   atomic.Pointer[http.Request]
}

func newFakeNWS(t *testing.T, body string) (*fakeNWS, *httptest.Server) {
	t.Helper()
	f := &fakeNWS{body: body}
	f.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.last.Store(r)
		status := int(f.status.Load())
		if status != http.StatusOK {
			http.Error(w, `{"title":"Unexpected Problem"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = io.WriteString(w, f.body)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestCache_FetchesOncePerCooldown(t *testing.T) {
	f, srv := newFakeNWS(t, latestKBOS)
	c := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL))
	ctx := context.Background()

	for i := 1; i <= 49; i++ {
		obs, err := c.Get(ctx)
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if obs.PressureMb == nil {
			t.Fatalf("Get #%d returned no pressure", i)
		}

		var want int32
		switch {
		case i < 25:
			want = 1
		case i < 49:
			want = 2
		default:
			want = 3
		}
		if got := f.hits.Load(); got != want {
			t.Fatalf("after consultation %d: fetches = %d, want %d", i, got, want)
		}
	}
}

func TestCache_RequestShape(t *testing.T) {
	f, srv := newFakeNWS(t, latestKBOS)
	c := NewCache("KBOS", false, discardLogger(), WithBaseURL(srv.URL), WithHTTPClient(httpkit.NewClient()))

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	r := f.last.Load()
	if r.URL.Path != "/stations/KBOS/observations/latest" {
		t.Errorf("path = %q", r.URL.Path)
	}
	if got := r.URL.Query().Get("require_qc"); got != "false" {
		t.Errorf("require_qc = %q, want false", got)
	}
	if got := r.Header.Get("User-Agent"); got != httpkit.DefaultUserAgent {
		t.Errorf("User-Agent = %q", got)
	}
	if got := r.Header.Get("Accept"); got != "application/geo+json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestCache_Extraction(t *testing.T) {
	_, srv := newFakeNWS(t, latestKBOS)
	obs, err := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL)).Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	check := func(name string, got *float64, want float64) {
		t.Helper()
		if got == nil || *got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	check("DewpointC", obs.DewpointC, 8.3)
	check("PressureMb", obs.PressureMb, 1013.2)
	check("WindSpeed", obs.WindSpeed, 14.76)
	check("WindDirection", obs.WindDirection, 250)
}

func TestCache_MissingFieldsAreOmitted(t *testing.T) {
	body := `{"properties": {"dewpoint": {"unitCode": "wmoUnit:degC", "value": null}, "windSpeed": {"value": 5}}}`
	_, srv := newFakeNWS(t, body)

	obs, err := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL)).Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obs.DewpointC != nil || obs.PressureMb != nil || obs.WindDirection != nil {
		t.Errorf("Observation = %+v, want only WindSpeed", obs)
	}
	if obs.WindSpeed == nil || *obs.WindSpeed != 5 {
		t.Errorf("WindSpeed = %v, want 5", obs.WindSpeed)
	}
}

func TestCache_FailedFetchKeepsCountdown(t *testing.T) {
	f, srv := newFakeNWS(t, latestKBOS)
	f.status.Store(http.StatusServiceUnavailable)
	c := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL))
	ctx := context.Background()

	obs, err := c.Get(ctx)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Get error = %v, want ErrFetch", err)
	}
	if !obs.Empty() {
		t.Errorf("Observation = %+v, want empty", obs)
	}
	if c.Countdown() != Cooldown {
		t.Errorf("Countdown = %d, want %d", c.Countdown(), Cooldown)
	}

	// The failure did not consume the rate limit: the next call fetches again.
	f.status.Store(http.StatusOK)
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if got := f.hits.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
	if c.Countdown() != Cooldown-1 {
		t.Errorf("Countdown = %d, want %d", c.Countdown(), Cooldown-1)
	}
}

func TestCache_Refresh(t *testing.T) {
	f, srv := newFakeNWS(t, latestKBOS)
	c := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.Get(ctx); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := f.hits.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
	if c.Countdown() != Cooldown-1 {
		t.Errorf("Countdown after Refresh = %d, want %d", c.Countdown(), Cooldown-1)
	}

	f.status.Store(http.StatusInternalServerError)
	if _, err := c.Refresh(ctx); !errors.Is(err, ErrFetch) {
		t.Fatalf("Refresh error = %v, want ErrFetch", err)
	}
	if c.Countdown() != Cooldown-1 {
		t.Errorf("Countdown after failed Refresh = %d, want %d", c.Countdown(), Cooldown-1)
	}
	if _, err := c.Get(ctx); err != nil {
		t.Errorf("Get from cache after failed Refresh: %v", err)
	}
}

func TestCache_MalformedBody(t *testing.T) {
	_, srv := newFakeNWS(t, `{"properties":`)
	_, err := NewCache("KBOS", true, discardLogger(), WithBaseURL(srv.URL)).Get(context.Background())
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("Get error = %v, want ErrFetch", err)
	}
}
