package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/msolberg/weather-station/internal/config"
)

// dhtReadFunc reads one DHT22 conversion on a GPIO pin. The driver
// reports -1 for a value it could not decode.
type dhtReadFunc func(pin int) (temperatureC, humidity float32, err error)

// readDHT22 is set by the GPIO binding built with the "dht" tag.
var readDHT22 dhtReadFunc

var errDHTNotBuilt = errors.New("dht22 support is not compiled in (build with -tags dht)")

// DHTReader polls a DHT22 for temperature and humidity, optionally paired
// with a BME280 on the I2C bus for pressure.
type DHTReader struct {
	read     dhtReadFunc
	pin      int
	offsetC  float64
	pressure envSensor
	bus      io.Closer
	logger   *slog.Logger
}

// OpenDHT opens the DHT22 described by d and, when DEVICES.pressure_address
// is set, the BME280 that supplies pressure.
func OpenDHT(d config.Devices, logger *slog.Logger) (*DHTReader, error) {
	if readDHT22 == nil {
		return nil, errDHTNotBuilt
	}
	r := newDHTReader(readDHT22, d.GPIOPin(), d.TemperatureOffset(), logger)

	addr, ok, err := d.PressureI2CAddress()
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host init: %w", err)
		}
		bus, err := i2creg.Open(d.Bus)
		if err != nil {
			return nil, fmt.Errorf("i2c open %q: %w", d.Bus, err)
		}
		dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
		if err != nil {
			_ = bus.Close()
			return nil, fmt.Errorf("bmxx80 at %#x: %w", addr, err)
		}
		r.pressure, r.bus = dev, bus
	}

	logger.Info("dht22 sensor opened",
		"pin", r.pin,
		"pressure", ok,
		"temperature_offset_c", r.offsetC,
	)
	return r, nil
}

func newDHTReader(read dhtReadFunc, pin int, offsetC float64, logger *slog.Logger) *DHTReader {
	return &DHTReader{read: read, pin: pin, offsetC: offsetC, logger: logger}
}

// Read never fails: a DHT22 checksum or timing error leaves temperature and
// humidity absent for the cycle.
func (r *DHTReader) Read(_ context.Context) (Sample, error) {
	var s Sample

	t, h, err := r.read(r.pin)
	switch {
	case err != nil:
		r.logger.Warn("dht22 read failed", "pin", r.pin, "error", err)
	case t == -1 || h == -1:
		r.logger.Warn("dht22 returned no data", "pin", r.pin)
	default:
		temperature := float64(t) + r.offsetC
		humidity := float64(h)
		s.TemperatureC, s.Humidity = &temperature, &humidity
	}

	if r.pressure != nil {
		var env physic.Env
		if err := r.pressure.Sense(&env); err != nil {
			r.logger.Warn("pressure read failed", "error", err)
		} else {
			pressure := float64(env.Pressure) / float64(physic.Pascal) / 100
			s.PressureMb = &pressure
		}
	}
	return s, nil
}

// Close halts the barometer, if any, and releases the bus.
func (r *DHTReader) Close() error {
	var errs []error
	if r.pressure != nil {
		if err := r.pressure.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt sensor: %w", err))
		}
	}
	if r.bus != nil {
		if err := r.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	return errors.Join(errs...)
}
