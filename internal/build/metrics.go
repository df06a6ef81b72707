package build

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks build performance. A nil *Metrics is valid and records
// nothing, which keeps tests and the production server free of a registry.
type Metrics struct {
	builds   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates build metrics registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tavo",
			Subsystem: "build",
			Name:      "builds_total",
			Help:      "Entry builds by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tavo",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Entry build duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	reg.MustRegister(m.builds, m.duration)
	return m
}

// ObserveBuild records one completed entry build.
func (m *Metrics) ObserveBuild(success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.builds.WithLabelValues(result).Inc()
	m.duration.Observe(d.Seconds())
}
