package subscriber

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gauge names a value of the GaugeSet. The string is the exported metric name.
type Gauge string

const (
	InsideTemperature  Gauge = "inside_temperature"
	InsideHumidity     Gauge = "inside_humidity"
	InsideVOC          Gauge = "inside_voc"
	OutsideTemperature Gauge = "outside_temperature"
	OutsideHumidity    Gauge = "outside_humidity"
	OutsidePressure    Gauge = "outside_pressure"
)

var gaugeHelp = map[Gauge]string{
	InsideTemperature:  "Inside temperature (f)",
	InsideHumidity:     "Inside humidity (%)",
	InsideVOC:          "Inside VOC",
	OutsideTemperature: "Outside temperature (f)",
	OutsideHumidity:    "Outside humidity (%)",
	OutsidePressure:    "Outside air pressure (mb)",
}

// Gauges lists every gauge in exposition order.
var Gauges = []Gauge{
	InsideTemperature,
	InsideHumidity,
	InsideVOC,
	OutsideTemperature,
	OutsideHumidity,
	OutsidePressure,
}

// GaugeSet owns the station gauges and the registry that exposes them. All
// values start at zero, which downstream code reads as "no data yet".
type GaugeSet struct {
	registry *prometheus.Registry
	gauges   map[Gauge]prometheus.Gauge

	mu     sync.RWMutex
	values map[Gauge]float64
}

func NewGaugeSet() *GaugeSet {
	g := &GaugeSet{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[Gauge]prometheus.Gauge, len(Gauges)),
		values:   make(map[Gauge]float64, len(Gauges)),
	}
	for _, name := range Gauges {
		pg := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: string(name),
			Help: gaugeHelp[name],
		})
		g.registry.MustRegister(pg)
		g.gauges[name] = pg
		g.values[name] = 0
	}
	return g
}

func (g *GaugeSet) Set(name Gauge, v float64) {
	pg, ok := g.gauges[name]
	if !ok {
		return
	}
	g.mu.Lock()
	g.values[name] = v
	pg.Set(v)
	g.mu.Unlock()
}

func (g *GaugeSet) Value(name Gauge) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.values[name]
}

// Snapshot copies every gauge value.
func (g *GaugeSet) Snapshot() map[Gauge]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Gauge]float64, len(g.values))
	for k, v := range g.values {
		out[k] = v
	}
	return out
}

// Handler serves the gauges in the Prometheus text format.
func (g *GaugeSet) Handler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})
}
