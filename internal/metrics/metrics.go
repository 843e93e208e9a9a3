package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nexus/internal/models"
)

const prefix = "nexus_health_"

// Metrics holds the collectors exported by the health checker. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	probes        *prometheus.CounterVec
	probeLatency  prometheus.Histogram
	queueSize     prometheus.Gauge
	jobsDropped   prometheus.Counter
	cycles        *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "probes_total",
				Help: "Number of completed probes by resulting status",
			},
			[]string{"status"},
		),
		probeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    prefix + "probe_latency_seconds",
				Help:    "Wall-clock time of each probe, including failed and timed out probes",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		queueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "queue_size",
				Help: "Jobs waiting in the health check queue",
			},
		),
		jobsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "jobs_dropped_total",
				Help: "Jobs skipped because the queue was full",
			},
		),
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "cycles_total",
				Help: "Scheduling passes by result",
			},
			[]string{"result"},
		),
		writeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "write_failures_total",
				Help: "Failed result writes by destination",
			},
			[]string{"destination"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.probes, m.probeLatency, m.queueSize, m.jobsDropped, m.cycles, m.writeFailures)
	}
	return m
}

func (m *Metrics) ObserveProbe(status models.HealthStatus, latency time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(string(status)).Inc()
	m.probeLatency.Observe(latency.Seconds())
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

func (m *Metrics) AddDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobsDropped.Add(float64(n))
}

func (m *Metrics) IncCycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) IncWriteFailure(destination string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(destination).Inc()
}
