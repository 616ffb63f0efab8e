package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sensor kinds accepted in DEVICES.sensor.
const (
	SensorBME680 = "bme680"
	SensorBME280 = "bme280"
	SensorDHT22  = "dht22"
	SensorAwair  = "awair"
)

// Reading locations accepted in DEVICES.location.
const (
	LocationIndoor  = "indoor"
	LocationOutdoor = "outdoor"
)

const (
	defaultMaxConsecutiveFaults = 12
	defaultDHTPin               = 4
)

// Station is the station file: one section per concern.
type Station struct {
	AWS     AWS     `yaml:"AWS"`
	Devices Devices `yaml:"DEVICES"`
	WU      WU      `yaml:"WU"`
	NWS     NWS     `yaml:"NWS"`
	Routing Routing `yaml:"ROUTING"`
}

type AWS struct {
	Endpoint       string `yaml:"endpoint"`
	CertFilepath   string `yaml:"cert_filepath"`
	PriKeyFilepath string `yaml:"pri_key_filepath"`
	CAFilepath     string `yaml:"ca_filepath"`
	ClientID       string `yaml:"clientId"`
	MessageTopic   string `yaml:"message_topic"`
}

type Devices struct {
	Sensor   string `yaml:"sensor"`
	AwairURL string `yaml:"awair_url"`
	// Address is the I2C address of the environmental sensor, e.g. "0x77".
	Address string `yaml:"address"`
	// Pin is the GPIO line of a dht22 data pin (BCM numbering).
	Pin *int `yaml:"pin"`
	// PressureAddress attaches a BME280 barometer to a dht22 station.
	PressureAddress    string   `yaml:"pressure_address"`
	Bus                string   `yaml:"bus"`
	TemperatureOffsetC *float64 `yaml:"temperature_offset_c"`
	// Location labels published readings; empty picks the kind's default.
	Location string `yaml:"location"`

	MaxConsecutiveFaults int `yaml:"max_consecutive_faults"`
}

type WU struct {
	StationID   string `yaml:"station_id"`
	StationPass string `yaml:"station_pass"`
}

type NWS struct {
	StationID string `yaml:"station_id"`
	RequireQC *bool  `yaml:"require_qc"`
}

// Routing overrides the subscriber's routing policy. Unset fields keep
// the defaults.
type Routing struct {
	IndoorPressureAsOutdoor *bool `yaml:"indoor_pressure_as_outdoor"`
	RelayIndoor             *bool `yaml:"relay_indoor"`
	FallbackPressure        *bool `yaml:"fallback_pressure"`
	GasMeansIndoor          *bool `yaml:"gas_means_indoor"`
}

// LoadStation reads the station file at path, expanding ${VAR} references
// from the environment.
func LoadStation(path string) (Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Station{}, fmt.Errorf("read station config: %w", err)
	}

	var s Station
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return Station{}, fmt.Errorf("parse station config %s: %w", path, err)
	}

	s.Devices.Sensor = strings.ToLower(strings.TrimSpace(s.Devices.Sensor))
	if s.Devices.Sensor == "" {
		s.Devices.Sensor = SensorBME680
	}
	switch s.Devices.Sensor {
	case SensorBME680, SensorBME280, SensorDHT22, SensorAwair:
	default:
		return Station{}, fmt.Errorf("invalid DEVICES.sensor %q (allowed: bme680, bme280, dht22, awair)", s.Devices.Sensor)
	}
	s.Devices.Location = strings.ToLower(strings.TrimSpace(s.Devices.Location))
	switch s.Devices.Location {
	case "", LocationIndoor, LocationOutdoor:
	default:
		return Station{}, fmt.Errorf("invalid DEVICES.location %q (allowed: indoor, outdoor)", s.Devices.Location)
	}
	if s.Devices.MaxConsecutiveFaults < 0 {
		return Station{}, fmt.Errorf("DEVICES.max_consecutive_faults must not be negative, got %d", s.Devices.MaxConsecutiveFaults)
	}
	if s.Devices.MaxConsecutiveFaults == 0 {
		s.Devices.MaxConsecutiveFaults = defaultMaxConsecutiveFaults
	}

	return s, nil
}

// ValidatePublisher checks the keys a publisher needs for its sensor kind.
func (s Station) ValidatePublisher() error {
	missing := s.missingAWS()
	switch s.Devices.Sensor {
	case SensorAwair:
		if strings.TrimSpace(s.Devices.AwairURL) == "" {
			missing = append(missing, "DEVICES.awair_url")
		}
	case SensorDHT22:
		if s.Devices.GPIOPin() < 0 {
			return fmt.Errorf("invalid DEVICES.pin %d", s.Devices.GPIOPin())
		}
		if _, _, err := s.Devices.PressureI2CAddress(); err != nil {
			return err
		}
	default:
		if strings.TrimSpace(s.Devices.Address) == "" {
			missing = append(missing, "DEVICES.address")
		} else if _, err := s.Devices.I2CAddress(); err != nil {
			return err
		}
	}
	return missingErr(missing)
}

// ValidateSubscriber checks the keys the subscriber/relay needs.
func (s Station) ValidateSubscriber() error {
	missing := s.missingAWS()
	if strings.TrimSpace(s.WU.StationID) == "" {
		missing = append(missing, "WU.station_id")
	}
	if strings.TrimSpace(s.WU.StationPass) == "" {
		missing = append(missing, "WU.station_pass")
	}
	if strings.TrimSpace(s.NWS.StationID) == "" {
		missing = append(missing, "NWS.station_id")
	}
	if s.NWS.RequireQC == nil {
		missing = append(missing, "NWS.require_qc")
	}
	return missingErr(missing)
}

func (s Station) missingAWS() []string {
	var missing []string
	fields := []struct {
		key, value string
	}{
		{"AWS.endpoint", s.AWS.Endpoint},
		{"AWS.cert_filepath", s.AWS.CertFilepath},
		{"AWS.pri_key_filepath", s.AWS.PriKeyFilepath},
		{"AWS.ca_filepath", s.AWS.CAFilepath},
		{"AWS.clientId", s.AWS.ClientID},
		{"AWS.message_topic", s.AWS.MessageTopic},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.key)
		}
	}
	return missing
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required config keys: %s", strings.Join(missing, ", "))
}

// I2CAddress parses Address ("0x77", "119").
func (d Devices) I2CAddress() (uint16, error) {
	return parseI2CAddress("DEVICES.address", d.Address)
}

// PressureI2CAddress returns the BME280 address attached to a dht22
// station and whether one is configured.
func (d Devices) PressureI2CAddress() (uint16, bool, error) {
	if strings.TrimSpace(d.PressureAddress) == "" {
		return 0, false, nil
	}
	addr, err := parseI2CAddress("DEVICES.pressure_address", d.PressureAddress)
	if err != nil {
		return 0, false, err
	}
	return addr, true, nil
}

// GPIOPin returns the dht22 data pin, GPIO4 unless set.
func (d Devices) GPIOPin() int {
	if d.Pin != nil {
		return *d.Pin
	}
	return defaultDHTPin
}

// ReadingLocation is the location label published with every reading:
// outdoor for the dht22 kind, indoor for the rest, unless overridden.
func (d Devices) ReadingLocation() string {
	if d.Location != "" {
		return d.Location
	}
	if d.Sensor == SensorDHT22 {
		return LocationOutdoor
	}
	return LocationIndoor
}

// TemperatureOffset returns the correction applied to raw bus readings.
// The indoor BME680 sits next to the board and reads about 5°C high.
func (d Devices) TemperatureOffset() float64 {
	if d.TemperatureOffsetC != nil {
		return *d.TemperatureOffsetC
	}
	if d.Sensor == SensorBME680 {
		return -5
	}
	return 0
}

func parseI2CAddress(key, s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return uint16(v), nil
}
