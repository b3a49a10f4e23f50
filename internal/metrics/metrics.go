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

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Number of reconnect attempts after an unexpected close.",
		},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "livesync",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Number of routed push envelopes by event type.",
		}, []string{"event_type"},
	)
	decodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Number of inbound frames dropped as undecodable.",
		},
	)
	staleDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "state",
			Name:      "stale_drops_total",
			Help:      "Number of entity updates discarded as older than the stored record.",
		},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "operation",
			Name:      "finished_total",
			Help:      "Number of tracked operations by terminal outcome.",
		}, []string{"outcome"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Number of notifications delivered to subscribers by severity.",
		}, []string{"severity"},
	)
	suppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "notify",
			Name:      "suppressed_total",
			Help:      "Number of notifications dropped inside the dedupe window.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{reconnects, connectionState, events, decodeErrors, staleDrops, operations, notifications, suppressed}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncReconnect() {
	if regOK.Load() {
		reconnects.Inc()
	}
}

func SetConnectionState(state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		connectionState.WithLabelValues(state).Set(v)
	}
}

func IncEvent(eventType string) {
	if regOK.Load() {
		events.WithLabelValues(eventType).Inc()
	}
}

func IncDecodeError() {
	if regOK.Load() {
		decodeErrors.Inc()
	}
}

func IncStaleDrop() {
	if regOK.Load() {
		staleDrops.Inc()
	}
}

func IncOperation(outcome string) {
	if regOK.Load() {
		operations.WithLabelValues(outcome).Inc()
	}
}

func IncNotification(severity string) {
	if regOK.Load() {
		notifications.WithLabelValues(severity).Inc()
	}
}

func IncSuppressed() {
	if regOK.Load() {
		suppressed.Inc()
	}
}
