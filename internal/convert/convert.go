// Package convert holds the unit conversions used on the station's
// readings. The constants are fixed so uploads match what the station has
// always reported.
package convert

// CToF converts degrees Celsius to degrees Fahrenheit.
func CToF(c float64) float64 {
	return c*9/5 + 32
}

// DewPointF approximates the dew point in °F from a temperature in °F and
// relative humidity in percent, using the linear rule of thumb
// (Td = T - 9/25*(100-RH)). It is only accurate above roughly 50% RH.
func DewPointF(tempF, humidityPct float64) float64 {
	return tempF - 9.0/25.0*(100-humidityPct)
}

// MbToInHg converts millibars (hPa) to inches of mercury.
func MbToInHg(pressureMb float64) float64 {
	return pressureMb / 33.8639
}

// PaToMb converts pascals to millibars.
func PaToMb(pa float64) float64 {
	return pa / 100
}
