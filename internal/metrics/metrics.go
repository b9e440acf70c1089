// Package metrics exposes Prometheus instrumentation for the refresh and
// notification pipelines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RefreshAttempts counts every token exchange attempt.
	RefreshAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenward_refresh_attempts_total",
		Help: "Number of token refresh attempts.",
	})

	// RefreshSuccesses counts refreshes that produced new token material.
	RefreshSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenward_refresh_success_total",
		Help: "Number of successful token refreshes.",
	})

	// RefreshFailures counts failed refresh attempts by classification.
	RefreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenward_refresh_failures_total",
		Help: "Number of failed token refresh attempts.",
	}, []string{"reason"})

	// NotificationsEnqueued counts reminders accepted into the queue.
	NotificationsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenward_notifications_enqueued_total",
		Help: "Number of notifications enqueued.",
	})

	// NotificationsAcknowledged counts reminders acknowledged by clients.
	NotificationsAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenward_notifications_acknowledged_total",
		Help: "Number of notifications acknowledged.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
