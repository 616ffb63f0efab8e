package subscriber

import "github.com/msolberg/weather-station/internal/config"

// RoutingPolicy decides how an inbound reading is routed to the gauges and
// the upstream relay.
type RoutingPolicy struct {
	// IndoorPressureAsOutdoor stores the indoor sensor's pressure in
	// outside_pressure.
	IndoorPressureAsOutdoor bool

	// RelayIndoor relays after indoor readings too, not only outdoor ones.
	RelayIndoor bool

	// FallbackPressure fills outside_pressure from the NWS observation
	// until an indoor reading supplies one.
	FallbackPressure bool

	// GasMeansIndoor classifies an unlabelled reading without pressure but
	// with a gas value as indoor. The Awair reports VOC and no pressure.
	GasMeansIndoor bool
}

func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		IndoorPressureAsOutdoor: true,
		RelayIndoor:             false,
		FallbackPressure:        true,
		GasMeansIndoor:          true,
	}
}

// PolicyFromConfig applies the ROUTING overrides to the default policy.
func PolicyFromConfig(r config.Routing) RoutingPolicy {
	p := DefaultRoutingPolicy()
	if r.IndoorPressureAsOutdoor != nil {
		p.IndoorPressureAsOutdoor = *r.IndoorPressureAsOutdoor
	}
	if r.RelayIndoor != nil {
		p.RelayIndoor = *r.RelayIndoor
	}
	if r.FallbackPressure != nil {
		p.FallbackPressure = *r.FallbackPressure
	}
	if r.GasMeansIndoor != nil {
		p.GasMeansIndoor = *r.GasMeansIndoor
	}
	return p
}
