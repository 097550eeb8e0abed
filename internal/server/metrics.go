package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	transitionsTotal *prometheus.CounterVec
	transitionTime   *prometheus.HistogramVec
	busyRejections   prometheus.Counter
	recoveryDepth    prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vtvl_transitions_total",
		Help: "Workflow transitions by outcome",
	}, []string{"transition", "status"})

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vtvl_transition_duration_seconds",
		Help:    "Time from request to confirmed receipt",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"transition"})

	busy := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vtvl_busy_rejections_total",
		Help: "Transitions rejected because a submission was in flight",
	})

	recovery := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vtvl_recovery_depth",
		Help: "Number of confirmed transactions awaiting manual recovery",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(transitions, durations, busy, recovery)

	return &metricsRegistry{
		registry:         r,
		transitionsTotal: transitions,
		transitionTime:   durations,
		busyRejections:   busy,
		recoveryDepth:    recovery,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) observe(transition, status string, started time.Time) {
	m.transitionsTotal.WithLabelValues(transition, status).Inc()
	if status == "ok" {
		m.transitionTime.WithLabelValues(transition).Observe(time.Since(started).Seconds())
	}
	if status == kindBusy {
		m.busyRejections.Inc()
	}
}

func (m *metricsRegistry) setRecoveryDepth(depth int) {
	m.recoveryDepth.Set(float64(depth))
}
