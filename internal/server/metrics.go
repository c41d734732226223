package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/CZERTAINLY/autoroam/internal/roam"
)

const metricsSubsystem = "server"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: roam.MetricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests by route and status code",
	}, []string{
		"route",
		"code",
	})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: roam.MetricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "http_request_duration_seconds",
		Help:      "Histogram of HTTP request durations",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
	}, []string{
		"route",
	})

	startsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: roam.MetricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "starts_total",
		Help:      "Count of start requests by outcome",
	}, []string{
		"outcome",
	})

	exitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: roam.MetricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "process_exits_total",
		Help:      "Count of roam process exits, by whether a new summary was written",
	}, []string{
		"kind",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
