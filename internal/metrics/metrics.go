// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/replaybox/internal/executor"
)

const namespace = "replaybox"

var (
	// IsolatesActive is the number of isolates holding a slot right now.
	IsolatesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "isolates_active",
		Help:      "Number of script isolates currently running",
	})

	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Replay rounds by final state and error kind",
	}, []string{"state", "kind"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of replay rounds",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"state"})

	InputsConsumed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_inputs_consumed",
		Help:      "Inputs consumed per replay round",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_rejected_total",
		Help:      "Requests rejected before execution",
	}, []string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveExecution records the outcome of one replay round.
func ObserveExecution(res *executor.ExecutionResult) {
	if res == nil {
		return
	}
	kind := string(res.Kind())
	if kind == "" {
		kind = "none"
	}
	ExecutionsTotal.WithLabelValues(string(res.State), kind).Inc()
	ExecutionDuration.WithLabelValues(string(res.State)).Observe(res.Duration.Seconds())
	InputsConsumed.Observe(float64(res.InputsConsumed))
}

// ObserveRejected counts a request turned away before an isolate was built.
func ObserveRejected(reason string) {
	RejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveRequest records one served HTTP request. route is the chi route
// pattern, never the raw path, to keep label cardinality bounded.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
