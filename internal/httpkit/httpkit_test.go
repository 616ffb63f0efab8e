package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient()
	if c.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	if _, ok := c.Transport.(*userAgentTransport); !ok {
		t.Errorf("Transport = %T, want *userAgentTransport", c.Transport)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	t.Run("default is injected", func(t *testing.T) {
		resp, err := NewClient().Get(srv.URL)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		DrainAndClose(resp.Body, 1024)
		if got != DefaultUserAgent {
			t.Errorf("User-Agent = %q, want %q", got, DefaultUserAgent)
		}
	})

	t.Run("caller header wins", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		req.Header.Set("User-Agent", "weather-station-test/1.0")
		resp, err := NewClient(WithUserAgent("ignored")).Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		DrainAndClose(resp.Body, 1024)
		if got != "weather-station-test/1.0" {
			t.Errorf("User-Agent = %q, want weather-station-test/1.0", got)
		}
	})
}

func TestNewClient_TimeoutBoundsSlowPeer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(WithTimeout(50 * time.Millisecond)).Get(srv.URL)
	if err == nil {
		t.Fatal("GET error = nil, want timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v, want it bounded by the client timeout", elapsed)
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("station not found, and a long tail"))
	if got := ReadErrorBody(body, 17); got != "station not found" {
		t.Errorf("ReadErrorBody = %q, want %q", got, "station not found")
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
