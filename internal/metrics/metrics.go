package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Number of proxied JSON-RPC requests by outcome.",
		}, []string{"service", "outcome"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Upstream round-trip latency of proxied requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Response cache hits and misses.",
		}, []string{"service", "event"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "proxy",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-service rate limiter.",
		}, []string{"service"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic child restarts.",
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between supervisor states.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcpgate",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
	droppedNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpgate",
			Subsystem: "stdio",
			Name:      "dropped_notifications_total",
			Help:      "Notifications discarded under back-pressure.",
		}, []string{"service"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{proxyRequests, proxyDuration, cacheEvents, rateLimited, processRestarts, stateTransitions, currentStates, droppedNotifications}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op if Register hasn't been called.

func IncProxyRequest(service, outcome string) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(service, outcome).Inc()
	}
}

func ObserveProxyDuration(service string, seconds float64) {
	if regOK.Load() {
		proxyDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncCacheHit(service string) {
	if regOK.Load() {
		cacheEvents.WithLabelValues(service, "hit").Inc()
	}
}

func IncCacheMiss(service string) {
	if regOK.Load() {
		cacheEvents.WithLabelValues(service, "miss").Inc()
	}
}

func IncRateLimited(service string) {
	if regOK.Load() {
		rateLimited.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(service).Inc()
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func SetCurrentState(service, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(service, state).Set(value)
	}
}

func IncDroppedNotification(service string) {
	if regOK.Load() {
		droppedNotifications.WithLabelValues(service).Inc()
	}
}
