package types

// Reading is one sensor poll as published on the station topic.
// A nil field means the sensor could not provide it this cycle.
type Reading struct {
	TemperatureF *float64 `json:"temperature_f,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Pressure     *float64 `json:"pressure,omitempty"`
	Gas          *float64 `json:"gas,omitempty"`

	// Location is "indoor" or "outdoor" when the publisher labels its
	// readings; empty otherwise.
	Location string `json:"location,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Empty reports whether no measurement is present.
func (r Reading) Empty() bool {
	return r.TemperatureF == nil && r.Humidity == nil && r.Pressure == nil && r.Gas == nil
}
