package metastore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metastorehq/metastore-client/internal/health"
)

const metricsNamespace = "metastore_client"

var (
	// connectionState is a gauge that tracks whether the client currently
	// considers a named backend reachable (1) or fall-broken (0).
	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connection_state",
		Help:      "Whether the client considers the backend connected (1) or not (0).",
	}, []string{"backend"})

	// healthAlarmLevel is a gauge that tracks the current health monitor
	// alarm escalation level (0=OFF, 1=MAJOR, 2=CRITICAL).
	healthAlarmLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "health_alarm_level",
		Help:      "Current health monitor alarm level: 0=OFF, 1=MAJOR, 2=CRITICAL.",
	})

	// fallbreakActivationsTotal is a counter that tracks every time the
	// fall-breaker trips or resolves.
	fallbreakActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "fallbreak_activations_total",
		Help:      "The total number of fall-breaker state transitions.",
	}, []string{"transition"})
)

// Transition labels for fallbreakActivationsTotal.
const (
	fallbreakTripped  = "tripped"
	fallbreakResolved = "resolved"
)

// promMetricsSink adapts the prometheus vectors above to
// health.MetricsSink, letting the health monitor (C11) report alarm
// transitions without depending on the metrics package itself. Retry
// attempt counts and watch stream reconnects are tracked where they
// happen, in internal/retry and internal/kv respectively, since those
// packages own the loops that produce them.
type promMetricsSink struct{}

// NewPrometheusMetricsSink returns a health.MetricsSink that reports
// alarm-level transitions to the metrics registered in this package.
func NewPrometheusMetricsSink() health.MetricsSink { return promMetricsSink{} }

func (promMetricsSink) UnhealthyFiring(level health.AlarmLevel, _ string) {
	healthAlarmLevel.Set(float64(level))
	fallbreakActivationsTotal.WithLabelValues(fallbreakTripped).Inc()
}

func (promMetricsSink) UnhealthyResolved(health.AlarmLevel) {
	healthAlarmLevel.Set(float64(health.AlarmOff))
	fallbreakActivationsTotal.WithLabelValues(fallbreakResolved).Inc()
}

// recordConnectionState updates the connection-state gauge for a named
// backend ("etcd" or "metastore").
func recordConnectionState(backend string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	connectionState.WithLabelValues(backend).Set(v)
}
