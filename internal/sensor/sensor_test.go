package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/httpkit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEnv struct {
	env    physic.Env
	errs   []error // consumed one per Sense call
	halted bool
}

func (f *fakeEnv) Sense(env *physic.Env) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	*env = f.env
	return nil
}

func (f *fakeEnv) Halt() error {
	f.halted = true
	return nil
}

type fakeGas struct {
	ohms float64
	err  error
}

func (f fakeGas) SenseGas() (float64, error) { return f.ohms, f.err }

type fakeBus struct{ closed bool }

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func roomEnv() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + 25*physic.Celsius,
		Humidity:    45 * physic.PercentRH,
		Pressure:    101325 * physic.Pascal,
	}
}

func TestBusReader_Read(t *testing.T) {
	env := &fakeEnv{env: roomEnv()}
	r := newBusReader(env, fakeGas{ohms: 120}, &fakeBus{}, -5, 3, discardLogger())

	s, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.TemperatureC == nil || *s.TemperatureC != 20 {
		t.Errorf("TemperatureC = %v, want 20 (25 with -5 offset)", s.TemperatureC)
	}
	if s.Humidity == nil || *s.Humidity != 45 {
		t.Errorf("Humidity = %v, want 45", s.Humidity)
	}
	if s.PressureMb == nil || *s.PressureMb != 1013.25 {
		t.Errorf("PressureMb = %v, want 1013.25", s.PressureMb)
	}
	if s.Gas == nil || *s.Gas != 120 {
		t.Errorf("Gas = %v, want 120", s.Gas)
	}
}

func TestBusReader_TransientFaultLeavesFieldsAbsent(t *testing.T) {
	env := &fakeEnv{env: roomEnv(), errs: []error{errors.New("i2c: nack")}}
	r := newBusReader(env, nil, &fakeBus{}, 0, 3, discardLogger())

	s, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read error = %v, want nil for a transient fault", err)
	}
	if s.TemperatureC != nil || s.Humidity != nil || s.PressureMb != nil || s.Gas != nil {
		t.Fatalf("Read = %+v, want all fields absent", s)
	}

	s, err = r.Read(context.Background())
	if err != nil || s.TemperatureC == nil {
		t.Fatalf("second Read = (%+v, %v), want a full sample after recovery", s, err)
	}
}

func TestBusReader_GasFaultOnlyDropsGas(t *testing.T) {
	r := newBusReader(&fakeEnv{env: roomEnv()}, fakeGas{err: errors.New("data not ready")}, &fakeBus{}, 0, 3, discardLogger())

	s, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.Gas != nil {
		t.Errorf("Gas = %v, want nil", *s.Gas)
	}
	if s.TemperatureC == nil || s.PressureMb == nil {
		t.Errorf("Read = %+v, want environmental fields present", s)
	}
}

func TestBusReader_ConsecutiveFaultsEscalate(t *testing.T) {
	fault := errors.New("i2c: bus error")
	env := &fakeEnv{errs: []error{fault, fault, fault}}
	r := newBusReader(env, nil, &fakeBus{}, 0, 3, discardLogger())

	for i := 0; i < 2; i++ {
		if _, err := r.Read(context.Background()); err != nil {
			t.Fatalf("Read #%d error = %v, want nil", i+1, err)
		}
	}
	_, err := r.Read(context.Background())
	if !errors.Is(err, ErrSensorFault) {
		t.Fatalf("Read #3 error = %v, want ErrSensorFault", err)
	}
	if !errors.Is(err, fault) {
		t.Errorf("Read #3 error = %v, want it to wrap the driver error", err)
	}
}

func TestBusReader_Close(t *testing.T) {
	env := &fakeEnv{}
	bus := &fakeBus{}
	r := newBusReader(env, nil, bus, 0, 0, discardLogger())

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !env.halted || !bus.closed {
		t.Errorf("halted=%v closed=%v, want both true", env.halted, bus.closed)
	}
}

func TestAwairReader_Read(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/air-data/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"timestamp":"2026-10-17T12:00:00.000Z","score":91,"temp":22,"humid":45.5,"co2":612,"voc":120,"pm25":3}`)
	}))
	defer srv.Close()

	r := NewAwair(srv.URL+"/air-data/latest", httpkit.NewClient(), discardLogger())
	s, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if s.TemperatureC == nil || *s.TemperatureC != 22 {
		t.Errorf("TemperatureC = %v, want 22", s.TemperatureC)
	}
	if s.Humidity == nil || *s.Humidity != 45.5 {
		t.Errorf("Humidity = %v, want 45.5", s.Humidity)
	}
	if s.Gas == nil || *s.Gas != 120 {
		t.Errorf("Gas = %v, want 120", s.Gas)
	}
	if s.PressureMb != nil {
		t.Errorf("PressureMb = %v, want nil (Awair has no barometer)", *s.PressureMb)
	}
}

func TestAwairReader_FaultsYieldEmptySample(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "busy", http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"temp":`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s, err := NewAwair(srv.URL, httpkit.NewClient(), discardLogger()).Read(context.Background())
			if err != nil {
				t.Fatalf("Read error = %v, want nil", err)
			}
			if s != (Sample{}) {
				t.Errorf("Read = %+v, want empty sample", s)
			}
		})
	}

	t.Run("unreachable device", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		s, err := NewAwair(url, httpkit.NewClient(), discardLogger()).Read(context.Background())
		if err != nil || s != (Sample{}) {
			t.Fatalf("Read = (%+v, %v), want empty sample and nil error", s, err)
		}
	})
}

func TestOpen_Awair(t *testing.T) {
	r, err := Open(config.Devices{Sensor: config.SensorAwair, AwairURL: "http://awair.local/air-data/latest"}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := r.(*AwairReader); !ok {
		t.Fatalf("Open returned %T, want *AwairReader", r)
	}
	_ = r.Close()
}
