// Package metrics exposes speedometer state as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/status"
)

// Metrics holds the speedometer collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rpm          prometheus.Gauge
	speed        prometheus.Gauge
	period       prometheus.Gauge
	diameter     prometheus.Gauge
	calibrating  prometheus.Gauge
	batches      prometheus.Counter
	dropped      prometheus.Counter
	edges        prometheus.Counter
	invalid      prometheus.Counter
	calibrations *prometheus.CounterVec

	mu   sync.Mutex
	last status.Counters
}

// New creates and registers the speedometer metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedometer_rpm",
			Help: "Current wheel revolutions per minute.",
		}),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedometer_speed_kmh",
			Help: "Current linear speed, 0 while uncalibrated.",
		}),
		period: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedometer_period_ms",
			Help: "Most recent edge-to-edge period.",
		}),
		diameter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedometer_wheel_diameter_m",
			Help: "Calibrated wheel diameter, 0 when unset.",
		}),
		calibrating: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "speedometer_calibration_active",
			Help: "1 while a calibration window is open.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedometer_batches_total",
			Help: "Sample batches consumed.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedometer_batches_dropped_total",
			Help: "Sample batches dropped because the store was full.",
		}),
		edges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedometer_edges_total",
			Help: "Rising edges detected.",
		}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speedometer_invalid_samples_total",
			Help: "Samples tagged with an unexpected channel.",
		}),
		calibrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speedometer_calibrations_total",
				Help: "Finished calibration windows by outcome.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.rpm, m.speed, m.period, m.diameter, m.calibrating,
		m.batches, m.dropped, m.edges, m.invalid, m.calibrations,
	)
	return m
}

// Observe records one estimator tick.
func (m *Metrics) Observe(res logic.Result, snap status.Snapshot) {
	m.rpm.Set(float64(snap.Speed.RPM))
	m.speed.Set(float64(snap.Speed.Speed))
	m.period.Set(float64(snap.Period.Ms))
	m.diameter.Set(float64(snap.Diameter))
	if snap.Window.Active {
		m.calibrating.Set(1)
	} else {
		m.calibrating.Set(0)
	}

	if res.Calibration != nil {
		if res.Calibration.OK {
			m.calibrations.WithLabelValues("ok").Inc()
		} else {
			m.calibrations.WithLabelValues("failed").Inc()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := snap.Counters
	m.batches.Add(delta(c.Batches, m.last.Batches))
	m.dropped.Add(delta(c.Dropped, m.last.Dropped))
	m.edges.Add(delta(c.Edges, m.last.Edges))
	m.invalid.Add(delta(c.InvalidSamples, m.last.InvalidSamples))
	m.last = c
}

// delta converts a monotonic total into a counter increment.
func delta(now, prev uint64) float64 {
	if now < prev {
		return 0
	}
	return float64(now - prev)
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
