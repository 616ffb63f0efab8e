package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/msolberg/weather-station/internal/config"
)

type envSensor interface {
	Sense(env *physic.Env) error
	Halt() error
}

// gasSensor reports the gas channel of the measurement taken by the last
// Sense call.
type gasSensor interface {
	SenseGas() (float64, error)
}

// BusReader polls an I2C environmental sensor. The BME680 also carries a
// gas resistance channel.
type BusReader struct {
	env     envSensor
	gas     gasSensor
	bus     io.Closer
	offsetC float64
	logger  *slog.Logger

	maxFaults int
	faults    int
}

// OpenBus initialises the host drivers and opens the sensor described by d.
func OpenBus(d config.Devices, logger *slog.Logger) (*BusReader, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(d.Bus) // "" picks the default bus, usually /dev/i2c-1
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", d.Bus, err)
	}

	r, err := openBusReader(bus, d, nil, logger)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return r, nil
}

// openBusReader opens the sensor on an already opened bus; sleep is the
// delay used while the chip converts (time.Sleep when nil).
func openBusReader(bus i2c.BusCloser, d config.Devices, sleep func(time.Duration), logger *slog.Logger) (*BusReader, error) {
	addr, err := d.I2CAddress()
	if err != nil {
		return nil, err
	}

	var (
		env envSensor
		gas gasSensor
	)
	switch d.Sensor {
	case config.SensorBME680:
		dev, err := newBME680(bus, addr, sleep)
		if err != nil {
			return nil, err
		}
		env, gas = dev, dev
	case config.SensorBME280:
		dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
		if err != nil {
			return nil, fmt.Errorf("bmxx80 at %#x: %w", addr, err)
		}
		env = dev
	default:
		return nil, fmt.Errorf("sensor kind %q is not an i2c sensor", d.Sensor)
	}

	logger.Info("sensor bus opened",
		"sensor", d.Sensor,
		"address", fmt.Sprintf("%#x", addr),
		"gas", gas != nil,
		"temperature_offset_c", d.TemperatureOffset(),
	)
	return newBusReader(env, gas, bus, d.TemperatureOffset(), d.MaxConsecutiveFaults, logger), nil
}

func newBusReader(env envSensor, gas gasSensor, bus io.Closer, offsetC float64, maxFaults int, logger *slog.Logger) *BusReader {
	return &BusReader{
		env:       env,
		gas:       gas,
		bus:       bus,
		offsetC:   offsetC,
		maxFaults: maxFaults,
		logger:    logger,
	}
}

func (r *BusReader) Read(_ context.Context) (Sample, error) {
	var env physic.Env
	if err := r.env.Sense(&env); err != nil {
		r.faults++
		r.logger.Warn("sensor read failed", "error", err, "consecutive_faults", r.faults)
		if r.maxFaults > 0 && r.faults >= r.maxFaults {
			return Sample{}, fmt.Errorf("%w: %d consecutive failed reads: %w", ErrSensorFault, r.faults, err)
		}
		return Sample{}, nil
	}
	r.faults = 0

	temperature := env.Temperature.Celsius() + r.offsetC
	// Humidity is fixed point at 1/PercentRH per percent, pressure is nPa.
	humidity := float64(env.Humidity) / float64(physic.PercentRH)
	pressure := float64(env.Pressure) / float64(physic.Pascal) / 100

	s := Sample{
		TemperatureC: &temperature,
		Humidity:     &humidity,
		PressureMb:   &pressure,
	}

	if r.gas != nil {
		ohms, err := r.gas.SenseGas()
		if err != nil {
			r.logger.Warn("gas read failed", "error", err)
		} else {
			s.Gas = &ohms
		}
	}
	return s, nil
}

// Close halts the sensor and releases the bus.
func (r *BusReader) Close() error {
	var errs []error
	if r.env != nil {
		if err := r.env.Halt(); err != nil {
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
