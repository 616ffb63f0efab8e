package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// BME680 registers.
const (
	regBME680Field   = 0x1D // meas_status_0, first byte of the field 0 data block
	regBME680ResHeat = 0x5A // res_heat_0
	regBME680GasWait = 0x64 // gas_wait_0
	regBME680CtrlGas = 0x71
	regBME680CtrlHum = 0x72
	regBME680CtrlMea = 0x74
	regBME680Config  = 0x75
	regBME680CalibA  = 0x8A
	regBME680ChipID  = 0xD0
	regBME680Reset   = 0xE0
	regBME680CalibB  = 0xE1
	regBME680CalibC  = 0x00

	bme680ChipID    = 0x61
	bme680ResetCmd  = 0xB6
	bme680NewData   = 0x80
	bme680GasValid  = 0x20
	bme680HeatStab  = 0x10
	bme680RunGas    = 0x10
	bme680FieldSize = 15
)

// Oversampling and filter settings: humidity x2, temperature x8,
// pressure x4, IIR filter size 3.
const (
	bme680OsrsH  = 0x02
	bme680OsrsT  = 0x04
	bme680OsrsP  = 0x03
	bme680Filter = 0x02

	bme680HeaterC    = 320
	bme680HeaterWait = 150 * time.Millisecond
	bme680AmbientC   = 25
)

// ErrNoGasReading means the last measurement carried no usable gas
// resistance (heater not stable or conversion invalid).
var ErrNoGasReading = errors.New("bme680: gas reading not valid")

var (
	bme680GasK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	bme680GasK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

type bme680Calib struct {
	t1, t2, t3                              float64
	p1, p2, p3, p4, p5, p6, p7, p8, p9, p10 float64
	h1, h2, h3, h4, h5, h6, h7              float64
	g1, g2, g3                              float64
	heatRange, heatVal, swErr               float64
}

// bme680 drives a Bosch BME680 in forced mode. Each Sense triggers one
// temperature/pressure/humidity conversion followed by a gas heater cycle;
// SenseGas reports the gas resistance of that same measurement.
type bme680 struct {
	dev   *i2c.Dev
	cal   bme680Calib
	sleep func(time.Duration)

	gasOhms  float64
	gasValid bool
}

func newBME680(bus i2c.Bus, addr uint16, sleep func(time.Duration)) (*bme680, error) {
	if sleep == nil {
		sleep = time.Sleep
	}
	d := &bme680{dev: &i2c.Dev{Bus: bus, Addr: addr}, sleep: sleep}

	id, err := d.readReg(regBME680ChipID, 1)
	if err != nil {
		return nil, fmt.Errorf("bme680: read chip id: %w", err)
	}
	if id[0] != bme680ChipID {
		return nil, fmt.Errorf("bme680: unexpected chip id %#x at %#x", id[0], addr)
	}
	if err := d.writeReg(regBME680Reset, bme680ResetCmd); err != nil {
		return nil, fmt.Errorf("bme680: soft reset: %w", err)
	}
	d.sleep(5 * time.Millisecond)

	if err := d.readCalibration(); err != nil {
		return nil, err
	}

	setup := []struct {
		reg, val byte
	}{
		{regBME680CtrlHum, bme680OsrsH},
		{regBME680Config, bme680Filter << 2},
		{regBME680ResHeat, d.heaterResistance(bme680HeaterC, bme680AmbientC)},
		{regBME680GasWait, gasWaitCode(bme680HeaterWait)},
		{regBME680CtrlGas, bme680RunGas},
	}
	for _, s := range setup {
		if err := d.writeReg(s.reg, s.val); err != nil {
			return nil, fmt.Errorf("bme680: configure %#x: %w", s.reg, err)
		}
	}
	return d, nil
}

func (d *bme680) readCalibration() error {
	a, err := d.readReg(regBME680CalibA, 23) // 0x8A..0xA0
	if err != nil {
		return fmt.Errorf("bme680: read calibration: %w", err)
	}
	b, err := d.readReg(regBME680CalibB, 14) // 0xE1..0xEE
	if err != nil {
		return fmt.Errorf("bme680: read calibration: %w", err)
	}
	c, err := d.readReg(regBME680CalibC, 5) // 0x00..0x04
	if err != nil {
		return fmt.Errorf("bme680: read heater calibration: %w", err)
	}

	u16 := func(p []byte, i int) float64 { return float64(binary.LittleEndian.Uint16(p[i:])) }
	s16 := func(p []byte, i int) float64 { return float64(int16(binary.LittleEndian.Uint16(p[i:]))) }
	s8 := func(v byte) float64 { return float64(int8(v)) }

	d.cal = bme680Calib{
		t1: u16(b, 0xE9-regBME680CalibB),
		t2: s16(a, 0x8A-regBME680CalibA),
		t3: s8(a[0x8C-regBME680CalibA]),

		p1:  u16(a, 0x8E-regBME680CalibA),
		p2:  s16(a, 0x90-regBME680CalibA),
		p3:  s8(a[0x92-regBME680CalibA]),
		p4:  s16(a, 0x94-regBME680CalibA),
		p5:  s16(a, 0x96-regBME680CalibA),
		p6:  s8(a[0x99-regBME680CalibA]),
		p7:  s8(a[0x98-regBME680CalibA]),
		p8:  s16(a, 0x9C-regBME680CalibA),
		p9:  s16(a, 0x9E-regBME680CalibA),
		p10: float64(a[0xA0-regBME680CalibA]),

		// H1 and H2 share the nibbles of 0xE2.
		h1: float64(uint16(b[0xE3-regBME680CalibB])<<4 | uint16(b[0xE2-regBME680CalibB]&0x0F)),
		h2: float64(uint16(b[0xE1-regBME680CalibB])<<4 | uint16(b[0xE2-regBME680CalibB]>>4)),
		h3: s8(b[0xE4-regBME680CalibB]),
		h4: s8(b[0xE5-regBME680CalibB]),
		h5: s8(b[0xE6-regBME680CalibB]),
		h6: float64(b[0xE7-regBME680CalibB]),
		h7: s8(b[0xE8-regBME680CalibB]),

		g1: s8(b[0xED-regBME680CalibB]),
		g2: s16(b, 0xEB-regBME680CalibB),
		g3: s8(b[0xEE-regBME680CalibB]),

		heatVal:   s8(c[0]),
		heatRange: float64((c[2] & 0x30) >> 4),
		swErr:     float64(int8(c[4]&0xF0) / 16),
	}
	return nil
}

// Sense runs one forced-mode measurement.
func (d *bme680) Sense(env *physic.Env) error {
	d.gasValid = false
	if err := d.writeReg(regBME680CtrlMea, bme680OsrsT<<5|bme680OsrsP<<2|0x01); err != nil {
		return fmt.Errorf("bme680: trigger measurement: %w", err)
	}

	var field []byte
	for attempt := 0; ; attempt++ {
		var err error
		if field, err = d.readReg(regBME680Field, bme680FieldSize); err != nil {
			return fmt.Errorf("bme680: read data: %w", err)
		}
		if field[0]&bme680NewData != 0 {
			break
		}
		if attempt == 10 {
			return errors.New("bme680: measurement did not complete")
		}
		d.sleep(bme680HeaterWait / 5)
	}

	tempADC := float64(uint32(field[5])<<12 | uint32(field[6])<<4 | uint32(field[7])>>4)
	presADC := float64(uint32(field[2])<<12 | uint32(field[3])<<4 | uint32(field[4])>>4)
	humADC := float64(uint16(field[8])<<8 | uint16(field[9]))
	gasADC := float64(uint16(field[13])<<2 | uint16(field[14])>>6)
	gasRange := field[14] & 0x0F

	tFine, celsius := d.compensateTemp(tempADC)
	env.Temperature = physic.ZeroCelsius + physic.Temperature(celsius*float64(physic.Celsius))
	env.Pressure = physic.Pressure(d.compensatePressure(presADC, tFine) * float64(physic.Pascal))
	env.Humidity = physic.RelativeHumidity(d.compensateHumidity(humADC, celsius) * float64(physic.PercentRH))

	if field[14]&bme680GasValid != 0 && field[14]&bme680HeatStab != 0 {
		d.gasOhms = d.compensateGas(gasADC, gasRange)
		d.gasValid = true
	}
	return nil
}

// SenseGas returns the gas resistance in ohms from the last Sense.
func (d *bme680) SenseGas() (float64, error) {
	if !d.gasValid {
		return 0, ErrNoGasReading
	}
	return d.gasOhms, nil
}

// Halt puts the chip back to sleep mode.
func (d *bme680) Halt() error {
	return d.writeReg(regBME680CtrlMea, bme680OsrsT<<5|bme680OsrsP<<2)
}

func (d *bme680) compensateTemp(adc float64) (tFine, celsius float64) {
	c := d.cal
	v1 := (adc/16384 - c.t1/1024) * c.t2
	v2 := (adc/131072 - c.t1/8192) * (adc/131072 - c.t1/8192) * (c.t3 * 16)
	tFine = v1 + v2
	return tFine, tFine / 5120
}

// compensatePressure returns pascals.
func (d *bme680) compensatePressure(adc, tFine float64) float64 {
	c := d.cal
	v1 := tFine/2 - 64000
	v2 := v1 * v1 * (c.p6 / 131072)
	v2 += v1 * c.p5 * 2
	v2 = v2/4 + c.p4*65536
	v1 = (c.p3*v1*v1/16384 + c.p2*v1) / 524288
	v1 = (1 + v1/32768) * c.p1
	if v1 == 0 {
		return 0
	}
	p := 1048576 - adc
	p = (p - v2/4096) * 6250 / v1
	v1 = c.p9 * p * p / 2147483648
	v2 = p * (c.p8 / 32768)
	v3 := math.Pow(p/256, 3) * (c.p10 / 131072)
	return p + (v1+v2+v3+c.p7*128)/16
}

func (d *bme680) compensateHumidity(adc, celsius float64) float64 {
	c := d.cal
	v1 := adc - (c.h1*16 + c.h3/2*celsius)
	v2 := v1 * (c.h2 / 262144 * (1 + c.h4/16384*celsius + c.h5/1048576*celsius*celsius))
	v3 := c.h6 / 16384
	v4 := c.h7 / 2097152
	h := v2 + (v3+v4*celsius)*v2*v2
	return math.Max(0, math.Min(100, h))
}

// compensateGas returns ohms.
func (d *bme680) compensateGas(adc float64, gasRange byte) float64 {
	v1 := 1340 + 5*d.cal.swErr
	v2 := v1 * (1 + bme680GasK1[gasRange]/100)
	v3 := 1 + bme680GasK2[gasRange]/100
	return 1 / (v3 * 0.000000125 * float64(uint32(1)<<gasRange) * ((adc-512)/v2 + 1))
}

// heaterResistance is the res_heat_0 code for a heater target in °C.
func (d *bme680) heaterResistance(targetC, ambientC float64) byte {
	c := d.cal
	v1 := c.g1/16 + 49
	v2 := c.g2/32768*0.0005 + 0.00235
	v3 := c.g3 / 1024
	v4 := v1 * (1 + v2*targetC)
	v5 := v4 + v3*ambientC
	return byte(3.4 * (v5*(4/(4+c.heatRange))*(1/(1+c.heatVal*0.002)) - 25))
}

// gasWaitCode encodes a heater duration as a gas_wait register value
// (6-bit mantissa, 2-bit x4 multiplier).
func gasWaitCode(d time.Duration) byte {
	ms := int(d / time.Millisecond)
	if ms >= 0xFC0 {
		return 0xFF
	}
	factor := 0
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms + factor*64)
}

func (d *bme680) readReg(reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := d.dev.Tx([]byte{reg}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *bme680) writeReg(reg, val byte) error {
	_, err := d.dev.Write([]byte{reg, val})
	return err
}
