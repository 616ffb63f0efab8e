// Package sensor reads the station's environmental sensors.
//
// Readers never fail on the transient faults these sensors are known
// for: a field that could not be read comes back nil for that cycle and
// the condition is logged. A non-nil error from Read is fatal and the
// caller is expected to Close the reader and stop.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/msolberg/weather-station/internal/config"
	"github.com/msolberg/weather-station/internal/httpkit"
)

// ErrSensorFault is returned once a bus sensor has failed too many
// consecutive polls to be considered a transient glitch.
var ErrSensorFault = errors.New("sensor fault")

// Sample is one poll in the sensor's native units.
type Sample struct {
	TemperatureC *float64
	Humidity     *float64 // %RH
	PressureMb   *float64
	Gas          *float64
}

type Reader interface {
	Read(ctx context.Context) (Sample, error)
	Close() error
}

// Open returns the reader for the configured sensor kind.
func Open(d config.Devices, logger *slog.Logger) (Reader, error) {
	switch d.Sensor {
	case config.SensorAwair:
		return NewAwair(d.AwairURL, httpkit.NewClient(), logger), nil
	case config.SensorBME680, config.SensorBME280:
		r, err := OpenBus(d, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.SensorDHT22:
		r, err := OpenDHT(d, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported sensor kind %q", d.Sensor)
	}
}
