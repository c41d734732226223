package roam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "autoroam"

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of finished roam runs by terminal status",
	}, []string{
		"status",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of roam runs",
		Buckets:   []float64{5, 15, 30, 60, 90, 120, 180, 300},
	}, []string{
		"status",
	})

	runState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_state",
		Help:      "Current coordinator state (0 idle, 1 triggering, 2 running, 3 completed, 4 failed)",
	})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "fetch_errors_total",
		Help:      "Count of transient fetch errors absorbed by the pollers",
	}, []string{
		"op",
	})

	logBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "log_bytes_total",
		Help:      "Bytes of remote log delivered to the log sink",
	})

	summaryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "summary_attempts_total",
		Help:      "Count of summary watch polling attempts",
	})
)

func recordResult(r Result) {
	runsTotal.WithLabelValues(string(r.Status)).Inc()
	runDuration.WithLabelValues(string(r.Status)).Observe(r.Stopped.Sub(r.Started).Seconds())
}
