// Package observability holds the Prometheus collectors shared by the
// session, the stores and the HTTP surface.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_operations_total",
			Help: "Session operations by outcome kind.",
		},
		[]string{"op", "outcome"},
	)

	portDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_port_duration_seconds",
			Help:    "Duration of calls into store, topology, routing and export ports.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"port", "op"},
	)

	modeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_mode_transitions_total",
			Help: "Interaction mode changes.",
		},
		[]string{"from", "to"},
	)

	selectionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_selection_size",
			Help: "Number of selected features per layer.",
		},
		[]string{"layer"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of Redis feature store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	storeOpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Failed Redis feature store operations.",
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_feature_cache_total",
			Help: "Decoded-feature cache lookups by result.",
		},
		[]string{"result"},
	)

	journalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_events_total",
			Help: "Journal events by delivery result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		sessionOperations,
		portDurationSeconds,
		modeTransitions,
		selectionSize,
		storeOpDuration,
		storeOpErrors,
		cacheResults,
		journalEvents,
		httpRequestsTotal,
		httpRequestDurationSeconds,
	}
}

// Init registers every collector on reg. Registering twice on the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveOperation(op, outcome string) {
	sessionOperations.WithLabelValues(op, outcome).Inc()
}

func ObservePort(port, op string, durationSeconds float64) {
	portDurationSeconds.WithLabelValues(port, op).Observe(durationSeconds)
}

func ObserveModeTransition(from, to string) {
	if from == to {
		return
	}
	modeTransitions.WithLabelValues(from, to).Inc()
}

func SetSelectionSize(layer string, n int) {
	selectionSize.WithLabelValues(layer).Set(float64(n))
}

func ForgetLayer(layer string) {
	selectionSize.DeleteLabelValues(layer)
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	storeOpDuration.WithLabelValues(op).Observe(durationSeconds)
	if err != nil {
		storeOpErrors.WithLabelValues(op).Inc()
	}
}

func IncFeatureCache(hit bool) {
	if hit {
		cacheResults.WithLabelValues("hit").Inc()
		return
	}
	cacheResults.WithLabelValues("miss").Inc()
}

func IncJournal(result string) {
	journalEvents.WithLabelValues(result).Inc()
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}
