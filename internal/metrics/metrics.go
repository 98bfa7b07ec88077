// Package metrics exports control-loop counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the flight core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles              prometheus.Counter
	readErrors          *prometheus.CounterVec
	consecutiveTimeouts prometheus.Gauge
	roll                prometheus.Gauge
	pitch               prometheus.Gauge
	calibrating         *prometheus.GaugeVec
	cycleSeconds        prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flightcore",
			Name:      "cycles_total",
			Help:      "Control cycles completed with a fresh sample.",
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flightcore",
			Name:      "read_errors_total",
			Help:      "Sensor read failures by kind.",
		}, []string{"kind"}),
		consecutiveTimeouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightcore",
			Name:      "consecutive_timeouts",
			Help:      "Bus timeouts since the last successful cycle.",
		}),
		roll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightcore",
			Name:      "roll_radians",
			Help:      "Fused roll estimate.",
		}),
		pitch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flightcore",
			Name:      "pitch_radians",
			Help:      "Fused pitch estimate.",
		}),
		calibrating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flightcore",
			Name:      "calibration_remaining_samples",
			Help:      "Samples left in the current calibration run, 0 when idle.",
		}, []string{"sensor"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flightcore",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one control cycle.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.05},
		}),
	}
	reg.MustRegister(m.cycles, m.readErrors, m.consecutiveTimeouts, m.roll, m.pitch, m.calibrating, m.cycleSeconds)
	return m
}

// Cycle records a completed cycle.
func (m *Metrics) Cycle(roll, pitch, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.roll.Set(roll)
	m.pitch.Set(pitch)
	m.cycleSeconds.Observe(seconds)
}

// ReadError records a failed read; kind is "short_read", "timeout" or "bus".
func (m *Metrics) ReadError(kind string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(kind).Inc()
}

// Timeouts sets the consecutive timeout count.
func (m *Metrics) Timeouts(n int) {
	if m == nil {
		return
	}
	m.consecutiveTimeouts.Set(float64(n))
}

// Calibration sets the remaining samples for sensor ("gyro" or "accel").
func (m *Metrics) Calibration(sensor string, remaining int) {
	if m == nil {
		return
	}
	m.calibrating.WithLabelValues(sensor).Set(float64(remaining))
}
