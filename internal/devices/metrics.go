package devices

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sweeps          *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	devices         prometheus.Gauge
	groups          prometheus.Gauge
	resolveFailures prometheus.Counter
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sonos_fleet_sweeps_total",
				Help: "Discovery sweeps by outcome",
			},
			[]string{"outcome"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sonos_fleet_sweep_duration_seconds",
				Help:    "Time from sweep start to reconciliation",
				Buckets: []float64{1, 2.5, 5, 10, 15, 30, 60},
			},
		),
		devices: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sonos_fleet_devices", Help: "Visible devices in the fleet"},
		),
		groups: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "sonos_fleet_groups", Help: "Known speaker groups"},
		),
		resolveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sonos_fleet_resolve_failures_total", Help: "Description fetches that failed"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.sweeps, m.sweepDuration, m.devices, m.groups, m.resolveFailures)
	}
	return m
}

func (m *Metrics) observeSweep(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	if outcome == SweepCompleted {
		m.sweepDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) setCounts(devices, groups int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(devices))
	m.groups.Set(float64(groups))
}

func (m *Metrics) resolveFailed() {
	if m == nil {
		return
	}
	m.resolveFailures.Inc()
}
